package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sw33tLie/spacescope/pkg/catalog"
	_ "modernc.org/sqlite"
)

const (
	// MaxPageSize caps every page the store returns.
	MaxPageSize = 100
	// MaxPage keeps (page-1)*limit far from overflowing.
	MaxPage = 1 << 20
)

// ErrPageRange is returned for a page number past MaxPage.
var ErrPageRange = errors.New("page out of range")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS catalog_items (
  id           INTEGER PRIMARY KEY,
  name         TEXT NOT NULL,
  description  TEXT,
  category     TEXT NOT NULL DEFAULT '',
  launch_date  TEXT,
  image_url    TEXT,
  status       TEXT NOT NULL DEFAULT '',
  imported_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_catalog_category ON catalog_items(category);
CREATE TABLE IF NOT EXISTS search_history (
  seq               INTEGER PRIMARY KEY AUTOINCREMENT,
  id                TEXT NOT NULL UNIQUE,
  query             TEXT NOT NULL,
  timestamp         INTEGER NOT NULL,
  result_count      INTEGER NOT NULL DEFAULT 0,
  results           TEXT NOT NULL DEFAULT '[]',
  confidence_scores TEXT
);
CREATE INDEX IF NOT EXISTS idx_history_time ON search_history(timestamp);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// ReplaceCatalog swaps the whole catalog for items in one transaction.
func (d *DB) ReplaceCatalog(ctx context.Context, items []catalog.Item) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM catalog_items"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO catalog_items(id, name, description, category, launch_date, image_url, status) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		var mediaURL interface{}
		if it.MediaURL != nil {
			mediaURL = nullIfEmpty(NormalizeMediaURL(*it.MediaURL))
		}
		if _, err = stmt.ExecContext(ctx, it.ID, strings.TrimSpace(it.Name), nullIfEmpty(it.Description), NormalizeCategory(it.Category), nullIfEmpty(it.PublishedDate), mediaURL, it.Status); err != nil {
			return fmt.Errorf("insert item %d: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// ListCatalog returns one page of the catalog in id order and the total
// number of items.
func (d *DB) ListCatalog(ctx context.Context, page, limit int) ([]catalog.Item, int, error) {
	page, limit, err := Window(page, limit)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_items").Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := d.queryItems(ctx, "SELECT id, name, description, category, launch_date, image_url, status FROM catalog_items ORDER BY id LIMIT ? OFFSET ?", limit, (page-1)*limit)
	return items, total, err
}

// SearchCatalog matches items whose name or description contains any of the
// query words, case-insensitively. It returns the requested page, the
// confidence score of each returned item and the number of matches. Matches
// are ordered by score, highest first, then by id.
func (d *DB) SearchCatalog(ctx context.Context, query string, page, limit int) ([]catalog.Item, map[int]float64, int, error) {
	page, limit, err := Window(page, limit)
	if err != nil {
		return nil, nil, 0, err
	}
	phrase := strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return []catalog.Item{}, map[int]float64{}, 0, nil
	}

	conds := make([]string, len(words))
	args := make([]interface{}, len(words))
	for i, w := range words {
		conds[i] = `LOWER(name || ' ' || IFNULL(description,'')) LIKE ? ESCAPE '\'`
		args[i] = "%" + escapeLike(w) + "%"
	}
	matches, err := d.queryItems(ctx, "SELECT id, name, description, category, launch_date, image_url, status FROM catalog_items WHERE "+
		strings.Join(conds, " OR ")+" ORDER BY id", args...)
	if err != nil {
		return nil, nil, 0, err
	}

	scores := make(map[int]float64, len(matches))
	for _, it := range matches {
		scores[it.ID] = MatchScore(it.Name+" "+it.Description, phrase)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return scores[matches[i].ID] > scores[matches[j].ID]
	})

	total := len(matches)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	items := matches[start:end]
	pageScores := make(map[int]float64, len(items))
	for _, it := range items {
		pageScores[it.ID] = scores[it.ID]
	}
	return items, pageScores, total, nil
}

// MatchScore is the percentage of query words found in text, boosted by half
// (capped at 100) when the whole query appears as a phrase. Rounded to two
// decimals; zero means no word matched.
func MatchScore(text, query string) float64 {
	text = strings.ToLower(text)
	query = strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(query)
	if len(words) == 0 {
		return 0
	}

	found := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			found++
		}
	}
	if found == 0 {
		return 0
	}
	score := float64(found) / float64(len(words)) * 100
	if strings.Contains(text, query) {
		score = math.Min(100, score*1.5)
	}
	return math.Round(score*100) / 100
}

func (d *DB) queryItems(ctx context.Context, q string, args ...interface{}) ([]catalog.Item, error) {
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []catalog.Item{}
	for rows.Next() {
		var it catalog.Item
		var desc, date, mediaURL sql.NullString
		if err := rows.Scan(&it.ID, &it.Name, &desc, &it.Category, &date, &mediaURL, &it.Status); err != nil {
			return nil, err
		}
		it.Description = desc.String
		it.PublishedDate = date.String
		if mediaURL.Valid {
			u := mediaURL.String
			it.MediaURL = &u
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetStats summarizes the catalog and the stored history.
func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_items").Scan(&s.Items); err != nil {
		return s, err
	}
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_history").Scan(&s.Searches); err != nil {
		return s, err
	}

	rows, err := d.sql.QueryContext(ctx, `
		SELECT
			category,
			COUNT(*)
		FROM
			catalog_items
		GROUP BY
			category
		ORDER BY
			COUNT(*) DESC, category;
	`)
	if err != nil {
		return s, err
	}
	for rows.Next() {
		var c CategoryStats
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			rows.Close()
			return s, err
		}
		s.Categories = append(s.Categories, c)
	}
	if err := rows.Close(); err != nil {
		return s, err
	}

	rows, err = d.sql.QueryContext(ctx, "SELECT image_url FROM catalog_items WHERE image_url IS NOT NULL")
	if err != nil {
		return s, err
	}
	defer rows.Close()
	domains := map[string]int{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return s, err
		}
		if domain, ok := MediaDomain(u); ok {
			domains[domain]++
		}
	}
	if err := rows.Err(); err != nil {
		return s, err
	}
	for domain, n := range domains {
		s.Domains = append(s.Domains, DomainStats{Domain: domain, Count: n})
	}
	sort.Slice(s.Domains, func(i, j int) bool {
		if s.Domains[i].Count != s.Domains[j].Count {
			return s.Domains[i].Count > s.Domains[j].Count
		}
		return s.Domains[i].Domain < s.Domains[j].Domain
	})
	return s, nil
}

// Window normalizes paging parameters: a page below 1 is 1, a limit below 1
// is the default and a limit above MaxPageSize is capped. Pages past MaxPage
// return ErrPageRange.
func Window(page, limit int) (int, int, error) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		return 0, 0, ErrPageRange
	}
	if limit < 1 {
		limit = catalog.DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
