// Package dataset coordinates the local mirror: a named collection of
// typed tables, the load/import/sync/save lifecycle, cross-table reference
// resolution and the per-table sync watermarks.
//
// The dataset owns no rows itself; it is the addressable namespace other
// components use to resolve references by table name. All mutation happens
// on the single control-flow path that owns the Dataset -- there is no
// concurrent writer.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gamelibtools/igdbmirror/internal/igdb"
	"github.com/gamelibtools/igdbmirror/internal/schema"
	"github.com/gamelibtools/igdbmirror/internal/table"
)

// countriesTable is the flat, read-only country lookup resolvable by name
// like any other table.
const countriesTable = "countries"

// ErrNotFound reports a reference id that does not exist remotely either.
var ErrNotFound = errors.New("row not found")

// Source is the remote query interface the mirror pulls from. Implemented
// by *igdb.Client; tests substitute a fake.
type Source interface {
	Count(ctx context.Context, endpoint, where string) (int, error)
	Fetch(ctx context.Context, endpoint string, q igdb.Query) ([]map[string]any, error)
	MaxValue(ctx context.Context, endpoint, column string) (int64, error)
}

// Downloader fetches auxiliary image assets. Optional; when nil, image
// columns keep their path/URL pair without the local file.
type Downloader interface {
	DownloadImage(ctx context.Context, url, dest string) error
}

// Options configures dataset construction.
type Options struct {
	// DataDir holds the table cache files (under tables/), downloaded
	// images (under images/), the watermark file and the sync journal.
	DataDir string

	// ConfigDir holds igdbsources.json and countries.json.
	ConfigDir string

	// Downloader enables image downloads when set.
	Downloader Downloader

	// BigTableSize is the row count from which a first import is
	// chunked and checkpointed (default 100000).
	BigTableSize int

	// ChunkSize is the number of imported rows between checkpoints
	// (default 50000).
	ChunkSize int

	// PageLimit is the fetch page size (default and maximum 500).
	PageLimit int
}

// Dataset is the sync orchestrator over all configured tables.
type Dataset struct {
	source Source
	images Downloader

	tables    map[string]*table.Table
	order     []string
	countries map[string]string

	tablesDir     string
	imgDir        string
	watermarkPath string
	historyPath   string

	watermarks map[string]int64

	bigTableSize int
	chunkSize    int
	pageLimit    int

	loaded bool
}

// New builds the dataset from the declarative sources configuration,
// restores persisted watermarks and prepares the data directories.
// No remote traffic happens here.
func New(src Source, opts Options) (*Dataset, error) {
	if opts.DataDir == "" {
		opts.DataDir = "./data"
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = "./config"
	}
	if opts.BigTableSize <= 0 {
		opts.BigTableSize = 100000
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 50000
	}
	if opts.PageLimit <= 0 || opts.PageLimit > igdb.MaxPageSize {
		opts.PageLimit = igdb.MaxPageSize
	}

	d := &Dataset{
		source:        src,
		images:        opts.Downloader,
		tables:        make(map[string]*table.Table),
		tablesDir:     filepath.Join(opts.DataDir, "tables"),
		imgDir:        filepath.Join(opts.DataDir, "images"),
		watermarkPath: filepath.Join(opts.DataDir, "watermarks.json"),
		historyPath:   filepath.Join(opts.DataDir, "sync_history.json"),
		watermarks:    make(map[string]int64),
		bigTableSize:  opts.BigTableSize,
		chunkSize:     opts.ChunkSize,
		pageLimit:     opts.PageLimit,
	}

	for _, dir := range []string{d.tablesDir, d.imgDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
	}

	countries, err := schema.LoadCountries(filepath.Join(opts.ConfigDir, "countries.json"))
	if err != nil {
		return nil, err
	}
	d.countries = countries
	slog.Info("country lookup loaded", "entries", len(countries))

	sources, err := schema.LoadSources(filepath.Join(opts.ConfigDir, "igdbsources.json"))
	if err != nil {
		return nil, err
	}
	for _, name := range sources.TableNames() {
		t, err := table.New(sources.Tables[name], d.tablesDir)
		if err != nil {
			return nil, err
		}
		d.tables[name] = t
		d.order = append(d.order, name)
	}
	slog.Info("sources configuration loaded", "tables", len(d.tables))

	if err := d.loadWatermarks(); err != nil {
		return nil, err
	}
	return d, nil
}

// Table returns a table by name.
func (d *Dataset) Table(name string) (*table.Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// TableNames returns the configured table names in load order.
func (d *Dataset) TableNames() []string {
	return d.order
}

// Load brings every configured table into memory: from its cache file when
// one exists (running the schema-migration expand pass when columns are
// missing), otherwise by a full import from the remote source.
func (d *Dataset) Load(ctx context.Context) error {
	slog.Info("loading data tables", "tables", len(d.tables))
	for _, name := range d.order {
		if err := d.loadTable(ctx, d.tables[name]); err != nil {
			return fmt.Errorf("load table %s: %w", name, err)
		}
	}
	d.loaded = true
	return nil
}

func (d *Dataset) loadTable(ctx context.Context, t *table.Table) error {
	if !t.HasFile() {
		return d.importTable(ctx, t)
	}

	if err := t.Load(); err != nil {
		var mismatch *table.SchemaMismatchError
		if errors.As(err, &mismatch) {
			// The table stays empty rather than loading corrupt
			// data; the operator removes the file to trigger a
			// full reimport.
			slog.Error("cache file does not match schema, table needs full reimport",
				"table", t.Name, "error", err)
			return nil
		}
		return err
	}
	t.RestoreWatermark(d.watermarks[t.Name])
	slog.Info("table loaded", "table", t.Name, "rows", t.Count(), "watermark", t.Watermark())

	if len(t.MissingColumns()) > 0 {
		if err := d.expandTable(ctx, t); err != nil {
			return err
		}
		if err := t.Save(); err != nil {
			return err
		}
	}
	return nil
}

// Sync pulls the incremental delta for every syncable table and persists
// the result. The watermark advances as rows are applied, so an
// interrupted sync is safe to re-run: it idempotently re-fetches the same
// delta.
func (d *Dataset) Sync(ctx context.Context) error {
	if !d.loaded {
		if err := d.Load(ctx); err != nil {
			return err
		}
	}

	run := newRun("sync")
	slog.Info("syncing data tables", "run_id", run.ID)

	var syncErr error
	for _, name := range d.order {
		t := d.tables[name]
		if !t.Syncable {
			continue
		}
		applied, err := d.syncTable(ctx, t)
		if err != nil {
			syncErr = fmt.Errorf("sync table %s: %w", name, err)
			break
		}
		run.Tables[name] = applied
	}

	// Applied rows are persisted even when a later table failed; the
	// watermark file then matches exactly what was stored.
	if err := d.Save(); err != nil {
		if syncErr == nil {
			syncErr = err
		}
	}

	run.finish()
	if err := appendRun(d.historyPath, run); err != nil {
		slog.Warn("could not record sync run", "error", err)
	}
	return syncErr
}

// syncTable applies all remote rows newer than the table watermark.
func (d *Dataset) syncTable(ctx context.Context, t *table.Table) (int, error) {
	logger := slog.With("table", t.Name)
	where := fmt.Sprintf("%s > %d", t.TSCol, t.Watermark())

	total, err := d.source.Count(ctx, t.Endpoint, where)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		logger.Debug("no changed rows")
		return 0, nil
	}
	logger.Info("syncing changed rows", "rows", total)

	fields := t.FieldList()
	applied := 0
	for applied < total {
		rows, err := d.source.Fetch(ctx, t.Endpoint, igdb.Query{
			Fields: fields,
			Offset: applied,
			Limit:  d.pageLimit,
			Sort:   t.SortCol + " asc",
			Where:  where,
		})
		if err != nil {
			return applied, err
		}
		if len(rows) == 0 {
			break
		}
		for _, src := range rows {
			row, err := d.processRow(ctx, t, t.Columns, src)
			if err != nil {
				logger.Warn("skipping row", "error", err, "source", src["id"])
				continue
			}
			if err := t.Upsert(row); err != nil {
				logger.Warn("dropping row", "error", err)
			}
		}
		applied += len(rows)
	}
	return applied, nil
}

// Save persists every dirty table and rewrites the watermark file as a
// single atomic write.
func (d *Dataset) Save() error {
	for _, name := range d.order {
		t := d.tables[name]
		if !t.Dirty() {
			continue
		}
		if err := t.Save(); err != nil {
			return err
		}
		slog.Info("table stored", "table", t.Name, "file", t.FilePath, "rows", t.Count())
	}
	return d.saveWatermarks()
}

// loadWatermarks reads the per-table watermark file, when present.
func (d *Dataset) loadWatermarks() error {
	data, err := os.ReadFile(d.watermarkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read watermark file: %w", err)
	}
	if err := json.Unmarshal(data, &d.watermarks); err != nil {
		return fmt.Errorf("parse watermark file: %w", err)
	}
	return nil
}

// saveWatermarks rewrites the watermark file wholesale: temp file plus
// rename, so a crash never leaves a torn file.
func (d *Dataset) saveWatermarks() error {
	for _, name := range d.order {
		t := d.tables[name]
		if t.Syncable {
			d.watermarks[name] = t.Watermark()
		}
	}

	data, err := json.MarshalIndent(d.watermarks, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.watermarkPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write watermark file: %w", err)
	}
	if err := os.Rename(tmp, d.watermarkPath); err != nil {
		return fmt.Errorf("write watermark file: %w", err)
	}
	slog.Info("watermark file updated", "tables", len(d.watermarks))
	return nil
}
