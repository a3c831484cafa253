// Package table implements the schema-typed, CSV-backed row collection
// that caches one remote IGDB resource locally.
//
// A Table owns its rows in insertion order, a primary-key index from row id
// to position, and the sync watermark (the maximum value of the timestamp
// column over all cached rows). Upsert is the sole mutation primitive used
// by imports and syncs; it keeps the index and the watermark consistent.
//
// Persistence is a delimited table: comma-separated fields, CRLF line ends,
// a header row of column titles in schema order, composite fields embedded
// as JSON-encoded strings. Numeric fields are written bare; every other
// field is quoted, nulls included, so a null loads back as an empty field.
package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gamelibtools/igdbmirror/internal/schema"
)

// ErrMissingKey reports an upsert of a row without an id field.
// Such rows cannot be stored; callers log and drop them.
var ErrMissingKey = errors.New("row has no id field")

// SchemaMismatchError reports a cache file whose header does not match the
// declared schema. Loading stops and the table stays empty; the caller is
// expected to treat this as "table needs a full reimport".
type SchemaMismatchError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("table %s: column %q: %s", e.Table, e.Column, e.Reason)
}

// Row is a single table row: column name to dynamically-typed value.
// Every stored row has an integer "id" primary key.
type Row map[string]any

// ID returns the row's primary key.
func (r Row) ID() (int64, bool) {
	v, ok := r["id"]
	if !ok {
		return 0, false
	}
	return AsInt64(v)
}

// Table is an in-memory, schema-typed row collection backed by a local
// cache file.
type Table struct {
	Name     string
	Label    string
	FilePath string
	Endpoint string
	Columns  []schema.Column
	SortCol  string
	TSCol    string
	Syncable bool

	rows      []Row
	index     map[int64]int
	watermark int64
	dirty     bool
	missing   []schema.Column
}

// New constructs an empty table from its declarative configuration.
// The schema is validated here, once; it is immutable afterwards.
func New(cfg schema.TableConfig, tablesDir string) (*Table, error) {
	if err := schema.Validate(cfg.Columns); err != nil {
		return nil, fmt.Errorf("table %q: %w", cfg.Name, err)
	}
	return &Table{
		Name:     cfg.Name,
		Label:    cfg.Label,
		FilePath: filepath.Join(tablesDir, cfg.File),
		Endpoint: cfg.Endpoint,
		Columns:  cfg.Columns,
		SortCol:  cfg.SortCol,
		TSCol:    cfg.TSCol,
		Syncable: cfg.Syncable(),
		index:    make(map[int64]int),
	}, nil
}

// Upsert inserts or overwrites a row by primary key. It keeps the index
// consistent and advances the watermark from the row's timestamp column.
func (t *Table) Upsert(r Row) error {
	id, ok := r.ID()
	if !ok {
		return ErrMissingKey
	}

	if pos, exists := t.index[id]; exists {
		t.rows[pos] = r
	} else {
		t.rows = append(t.rows, r)
		t.index[id] = len(t.rows) - 1
	}
	t.dirty = true

	if t.Syncable && t.TSCol != "" {
		if ts, ok := AsInt64(r[t.TSCol]); ok && ts > t.watermark {
			t.watermark = ts
		}
	}
	return nil
}

// Remove deletes a row by primary key. No-op when the id is not indexed.
// If the removed row held the watermark maximum, the watermark is
// recomputed from the remaining rows.
func (t *Table) Remove(id int64) {
	pos, ok := t.index[id]
	if !ok {
		return
	}

	removed := t.rows[pos]
	t.rows = append(t.rows[:pos], t.rows[pos+1:]...)
	delete(t.index, id)
	for i := pos; i < len(t.rows); i++ {
		if rid, ok := t.rows[i].ID(); ok {
			t.index[rid] = i
		}
	}
	t.dirty = true

	if t.Syncable && t.TSCol != "" {
		if ts, ok := AsInt64(removed[t.TSCol]); ok && ts == t.watermark {
			t.watermark = t.maxTimestamp()
		}
	}
}

// Get returns the row with the given primary key.
func (t *Table) Get(id int64) (Row, bool) {
	pos, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.rows[pos], true
}

// Contains reports whether a row with the given primary key is cached.
func (t *Table) Contains(id int64) bool {
	_, ok := t.index[id]
	return ok
}

// Count returns the number of cached rows.
func (t *Table) Count() int {
	return len(t.rows)
}

// Rows returns the underlying row slice in file order. Callers must not
// add or remove entries; mutation goes through Upsert and Remove.
func (t *Table) Rows() []Row {
	return t.rows
}

// Watermark returns the current sync watermark (0 when the table is empty
// or not syncable).
func (t *Table) Watermark() int64 {
	return t.watermark
}

// RestoreWatermark applies a persisted watermark, keeping whichever of the
// stored and the row-derived value is larger. The timestamp column is not
// necessarily part of the persisted schema, so a freshly loaded table may
// know its watermark only from the watermark file.
func (t *Table) RestoreWatermark(v int64) {
	if v > t.watermark {
		t.watermark = v
	}
}

// Dirty reports whether the table has unsaved changes.
func (t *Table) Dirty() bool {
	return t.dirty
}

// MissingColumns returns the declared columns that were absent from the
// cache file on the last load, in schema order. A non-empty result means
// the table needs the schema-migration expand pass.
func (t *Table) MissingColumns() []schema.Column {
	return t.missing
}

// ClearMissing marks the schema-migration pass as complete.
func (t *Table) ClearMissing() {
	t.missing = nil
}

// HasFile reports whether the cache file exists on disk.
func (t *Table) HasFile() bool {
	_, err := os.Stat(t.FilePath)
	return err == nil
}

// FieldList returns the comma-joined remote field names to request for
// this table: every column's source key (the calc key for computed
// columns), plus the timestamp column for syncable tables when it is not
// already a column.
func (t *Table) FieldList() string {
	fields := make([]string, 0, len(t.Columns)+1)
	seen := make(map[string]bool, len(t.Columns)+1)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
	}

	for _, c := range t.Columns {
		if c.Computed() {
			add(c.Calc)
			continue
		}
		add(c.SourceKey())
	}
	if t.Syncable && t.TSCol != "" {
		add(t.TSCol)
	}
	return strings.Join(fields, ",")
}

// Save persists the table to its cache file and clears the dirty flag.
func (t *Table) Save() error {
	if err := t.SaveTo(t.FilePath); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// SaveTo writes the full table to the given path. The dirty flag is
// untouched.
func (t *Table) SaveTo(path string) error {
	return t.write(path, false)
}

// SaveCheckpoint writes the table to an import resume marker. A syncable
// table usually carries its timestamp column in memory only; the marker
// persists it as an extra trailing column so a resumed import restores the
// watermark built before the interruption.
func (t *Table) SaveCheckpoint(path string) error {
	return t.write(path, t.carriesTS())
}

// carriesTS reports whether the timestamp column lives only in memory,
// alongside the declared columns.
func (t *Table) carriesTS() bool {
	if !t.Syncable || t.TSCol == "" {
		return false
	}
	for _, c := range t.Columns {
		if c.Name == t.TSCol {
			return false
		}
	}
	return true
}

func (t *Table) write(path string, withTS bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save table %s: %w", t.Name, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	header := schema.Names(t.Columns)
	numeric := make([]bool, len(t.Columns), len(t.Columns)+1)
	for i, col := range t.Columns {
		switch col.Type {
		case schema.Int, schema.Count, schema.Float, schema.Bool:
			numeric[i] = true
		}
	}
	if withTS {
		header = append(header, t.TSCol)
		numeric = append(numeric, true)
	}
	writeRecord(w, header, nil)

	record := make([]string, len(header))
	for _, row := range t.rows {
		for i, col := range t.Columns {
			field, err := encodeField(col, row[col.Name])
			if err != nil {
				slog.Warn("field not serializable, writing empty",
					"table", t.Name, "column", col.Name, "error", err)
				field = ""
			}
			record[i] = field
		}
		if withTS {
			record[len(record)-1] = ""
			if ts, ok := AsInt64(row[t.TSCol]); ok {
				record[len(record)-1] = strconv.FormatInt(ts, 10)
			}
		}
		writeRecord(w, record, numeric)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("save table %s: %w", t.Name, err)
	}
	return f.Close()
}

// writeRecord writes one CRLF-terminated record. Non-empty numeric fields
// are written bare, everything else quoted. A nil numeric mask quotes the
// whole record (the header). Write errors are sticky and surface at Flush.
func writeRecord(w *bufio.Writer, record []string, numeric []bool) {
	for i, field := range record {
		if i > 0 {
			w.WriteByte(',')
		}
		if numeric != nil && numeric[i] && field != "" {
			w.WriteString(field)
			continue
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(field, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteString("\r\n")
}

// Load reads the cache file, validates its header against the schema and
// rebuilds rows, index and watermark. Declared columns absent from the
// file are recorded as missing for the schema-migration path; file columns
// unknown to the schema are a hard SchemaMismatchError.
func (t *Table) Load() error {
	return t.LoadFrom(t.FilePath)
}

// LoadFrom reads table data from the given path (used to resume from an
// import checkpoint file).
func (t *Table) LoadFrom(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load table %s: %w", t.Name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("load table %s: %w", t.Name, err)
	}
	if len(records) == 0 {
		return &SchemaMismatchError{Table: t.Name, Reason: "file has no header row"}
	}

	colPos, missing, err := t.matchHeader(records[0])
	if err != nil {
		return err
	}

	missingID := false
	for _, c := range missing {
		if c.Name == "id" {
			missingID = true
		}
	}

	// Checkpoint files persist the carried timestamp column.
	tsPos := -1
	if t.carriesTS() {
		if pos, ok := colPos[t.TSCol]; ok {
			tsPos = pos
		}
	}

	rows := make([]Row, 0, len(records)-1)
	index := make(map[int64]int, len(records)-1)
	for n, record := range records[1:] {
		row := make(Row, len(colPos))
		rowErr := error(nil)
		for _, col := range t.Columns {
			pos, ok := colPos[col.Name]
			if !ok || pos >= len(record) {
				continue
			}
			v, err := decodeField(col, record[pos])
			if err != nil {
				rowErr = err
				break
			}
			if v != nil {
				row[col.Name] = v
			}
		}
		if tsPos >= 0 && tsPos < len(record) && record[tsPos] != "" {
			if ts, err := strconv.ParseInt(record[tsPos], 10, 64); err == nil {
				row[t.TSCol] = ts
			}
		}
		if rowErr != nil {
			slog.Warn("skipping unparsable row",
				"table", t.Name, "row", n+1, "error", rowErr)
			continue
		}
		id, ok := row.ID()
		if !ok {
			// Rows stay loadable while the key column awaits the
			// schema-migration pass; they are indexed by Reindex.
			if !missingID {
				slog.Warn("skipping row without id", "table", t.Name, "row", n+1)
				continue
			}
			rows = append(rows, row)
			continue
		}
		index[id] = len(rows)
		rows = append(rows, row)
	}

	t.rows = rows
	t.index = index
	t.missing = missing
	t.dirty = false
	t.watermark = t.maxTimestamp()
	return nil
}

// Reindex rebuilds the primary-key index from the current rows, after a
// schema-migration pass has filled in derived key values. Rows still
// lacking an id are dropped with a warning.
func (t *Table) Reindex() {
	rows := t.rows[:0]
	index := make(map[int64]int, len(t.rows))
	for _, row := range t.rows {
		id, ok := row.ID()
		if !ok {
			slog.Warn("dropping row without id on reindex", "table", t.Name)
			t.dirty = true
			continue
		}
		index[id] = len(rows)
		rows = append(rows, row)
	}
	t.rows = rows
	t.index = index
}

// matchHeader validates the file header against the schema by column name.
func (t *Table) matchHeader(header []string) (map[string]int, []schema.Column, error) {
	declared := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		declared[c.Name] = true
	}

	colPos := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := colPos[name]; dup {
			return nil, nil, &SchemaMismatchError{
				Table: t.Name, Column: name,
				Reason: "duplicate file column",
			}
		}
		if !declared[name] && !(t.carriesTS() && name == t.TSCol) {
			return nil, nil, &SchemaMismatchError{
				Table: t.Name, Column: name,
				Reason: "file column not declared in schema",
			}
		}
		colPos[name] = i
	}

	var missing []schema.Column
	for _, c := range t.Columns {
		if _, ok := colPos[c.Name]; !ok {
			missing = append(missing, c)
		}
	}
	return colPos, missing, nil
}

// maxTimestamp scans all rows for the timestamp column maximum.
func (t *Table) maxTimestamp() int64 {
	if !t.Syncable || t.TSCol == "" {
		return 0
	}
	var max int64
	for _, row := range t.rows {
		if ts, ok := AsInt64(row[t.TSCol]); ok && ts > max {
			max = ts
		}
	}
	return max
}
