package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gamelibtools/igdbmirror/internal/dataset"
	"github.com/gamelibtools/igdbmirror/internal/logging"
)

// tableSummary is the inventory entry for one table.
type tableSummary struct {
	Name      string `json:"name"`
	Label     string `json:"label,omitempty"`
	Rows      int    `json:"rows"`
	Watermark int64  `json:"watermark,omitempty"`
	Syncable  bool   `json:"syncable"`
}

// columnInfo is the schema view of one column.
type columnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"tables": len(s.data.TableNames()),
	})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	names := s.data.TableNames()
	out := make([]tableSummary, 0, len(names))
	for _, name := range names {
		t, _ := s.data.Table(name)
		out = append(out, tableSummary{
			Name:      t.Name,
			Label:     t.Label,
			Rows:      t.Count(),
			Watermark: t.Watermark(),
			Syncable:  t.Syncable,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleTableDetail(w http.ResponseWriter, r *http.Request) {
	t, ok := s.data.Table(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown table")
		return
	}

	cols := make([]columnInfo, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, columnInfo{Name: c.Name, Type: c.Type.String(), Ref: c.Ref})
	}
	writeJSON(w, map[string]any{
		"name":      t.Name,
		"label":     t.Label,
		"file":      t.FilePath,
		"endpoint":  t.Endpoint,
		"rows":      t.Count(),
		"watermark": t.Watermark(),
		"syncable":  t.Syncable,
		"columns":   cols,
	})
}

func (s *Server) handleTableRows(w http.ResponseWriter, r *http.Request) {
	t, ok := s.data.Table(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown table")
		return
	}

	offset := parseIntParam(r, "offset", 0)
	limit := parseIntParam(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}

	rows := t.Rows()
	if offset > len(rows) {
		offset = len(rows)
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}

	writeJSON(w, map[string]any{
		"total":  len(rows),
		"offset": offset,
		"rows":   rows[offset:end],
	})
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	t, ok := s.data.Table(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown table")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "row id must be an integer")
		return
	}
	row, ok := t.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "row not found")
		return
	}
	writeJSON(w, row)
}

func (s *Server) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]int64)
	for _, name := range s.data.TableNames() {
		t, _ := s.data.Table(name)
		if t.Syncable {
			out[name] = t.Watermark()
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.data.History()
	if err != nil {
		logging.FromContext(r.Context()).Error("could not read sync journal", "error", err)
		writeError(w, http.StatusInternalServerError, "sync journal unreadable")
		return
	}
	if runs == nil {
		runs = []dataset.Run{}
	}
	writeJSON(w, runs)
}

// parseIntParam parses a non-negative integer query parameter with a
// default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}
