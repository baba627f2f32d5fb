package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/history"
	"github.com/sw33tLie/spacescope/pkg/storage"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, def int, names ...string) int {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return def
}

type catalogResponse struct {
	Items         []catalog.Item `json:"items"`
	Page          int            `json:"page"`
	ReturnedCount int            `json:"returnedCount"`
	TotalItems    int            `json:"totalItems"`
	HasMore       bool           `json:"hasMore"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	page, limit, err := storage.Window(intParam(r, 1, "page"), intParam(r, catalog.DefaultPageSize, "limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, total, err := s.DB.ListCatalog(r.Context(), page, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Items:         items,
		Page:          page,
		ReturnedCount: len(items),
		TotalItems:    total,
		HasMore:       page*limit < total,
	})
}

type searchRequest struct {
	Query    string `json:"query"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	// SkipHistory is accepted for compatibility. History is recorded by the
	// client, never here.
	SkipHistory bool `json:"skipHistory"`
}

type searchResponse struct {
	Query            string          `json:"query"`
	Results          []catalog.Item  `json:"results"`
	ConfidenceScores map[int]float64 `json:"confidenceScores"`
	Timestamp        int64           `json:"timestamp"`
	// ResultCount is the number of results on this page; TotalItems counts
	// every match.
	ResultCount      int             `json:"resultCount"`
	TotalItems       int             `json:"totalItems"`
	Page             int             `json:"page"`
	PageSize         int             `json:"pageSize"`
	HasMore          bool            `json:"hasMore"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	page, limit, err := storage.Window(req.Page, req.PageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Page, req.PageSize = page, limit

	items, scores, total, err := s.DB.SearchCatalog(r.Context(), req.Query, req.Page, req.PageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Query:            req.Query,
		Results:          items,
		ConfidenceScores: scores,
		Timestamp:        s.now().UnixMilli(),
		ResultCount:      len(items),
		TotalItems:       total,
		Page:             req.Page,
		PageSize:         req.PageSize,
		HasMore:          req.Page*req.PageSize < total,
	})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	page := intParam(r, 1, "page")
	pageSize := intParam(r, history.DefaultPageSize, "pageSize", "page_size")

	p, err := s.DB.List(r.Context(), page, pageSize)
	if errors.Is(err, storage.ErrPageRange) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAppendHistory(w http.ResponseWriter, r *http.Request) {
	var e history.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if e.ID == "" || strings.TrimSpace(e.Query) == "" {
		http.Error(w, history.ErrInvalidEntry.Error(), http.StatusBadRequest)
		return
	}
	if e.Timestamp == 0 {
		e.Timestamp = s.now().UnixMilli()
	}
	if err := s.DB.Append(r.Context(), e); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	e, err := s.DB.GetHistoryEntry(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "history entry not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	err := s.DB.Remove(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "history entry not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
