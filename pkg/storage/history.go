package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/history"
)

// ErrNotFound is returned when a history id does not exist.
var ErrNotFound = history.ErrNotFound

var _ history.Backend = (*DB)(nil)

// Append stores one history entry. Entries are never updated in place.
func (d *DB) Append(ctx context.Context, e history.Entry) error {
	results := e.Results
	if results == nil {
		results = []catalog.Item{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return err
	}
	var scores interface{}
	if len(e.ConfidenceScores) > 0 {
		b, err := json.Marshal(e.ConfidenceScores)
		if err != nil {
			return err
		}
		scores = string(b)
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO search_history(id, query, timestamp, result_count, results, confidence_scores) VALUES(?,?,?,?,?,?)`,
		e.ID, e.Query, e.Timestamp, e.ResultCount, string(resultsJSON), scores)
	if err != nil {
		return fmt.Errorf("insert history entry %s: %w", e.ID, err)
	}
	return nil
}

func (d *DB) Remove(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM search_history WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) Clear(ctx context.Context) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM search_history")
	return err
}

// List returns one page of history, most recent first.
func (d *DB) List(ctx context.Context, page, pageSize int) (history.Page, error) {
	if pageSize < 1 {
		pageSize = history.DefaultPageSize
	}
	page, pageSize, err := Window(page, pageSize)
	if err != nil {
		return history.Page{}, err
	}

	var total int
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_history").Scan(&total); err != nil {
		return history.Page{}, err
	}

	rows, err := d.sql.QueryContext(ctx, `SELECT id, query, timestamp, result_count, results, confidence_scores FROM search_history ORDER BY timestamp DESC, seq DESC LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return history.Page{}, err
	}
	defer rows.Close()

	items := []history.Entry{}
	for rows.Next() {
		var e history.Entry
		var results string
		var scores sql.NullString
		if err := rows.Scan(&e.ID, &e.Query, &e.Timestamp, &e.ResultCount, &results, &scores); err != nil {
			return history.Page{}, err
		}
		if err := json.Unmarshal([]byte(results), &e.Results); err != nil {
			return history.Page{}, fmt.Errorf("history entry %s: %w", e.ID, err)
		}
		if scores.Valid && scores.String != "" {
			if err := json.Unmarshal([]byte(scores.String), &e.ConfidenceScores); err != nil {
				return history.Page{}, fmt.Errorf("history entry %s: %w", e.ID, err)
			}
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return history.Page{}, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	return history.Page{
		Items:       items,
		Page:        page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasNext:     page*pageSize < total,
		HasPrevious: page > 1,
	}, nil
}

// GetHistoryEntry loads one entry by id.
func (d *DB) GetHistoryEntry(ctx context.Context, id string) (history.Entry, error) {
	var e history.Entry
	var results string
	var scores sql.NullString
	err := d.sql.QueryRowContext(ctx, `SELECT id, query, timestamp, result_count, results, confidence_scores FROM search_history WHERE id = ?`, id).
		Scan(&e.ID, &e.Query, &e.Timestamp, &e.ResultCount, &results, &scores)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(results), &e.Results); err != nil {
		return e, err
	}
	if scores.Valid && scores.String != "" {
		if err := json.Unmarshal([]byte(scores.String), &e.ConfidenceScores); err != nil {
			return e, err
		}
	}
	return e, nil
}
