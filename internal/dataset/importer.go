package dataset

// importer.go drives the first full import of a table. Tables above the
// big-table threshold are streamed in checkpointed chunks so that killing
// the process loses at most one checkpoint interval of work, not the whole
// import. The snapshot horizon (the remote timestamp maximum read before
// paging begins) keeps the result set consistent even though the import
// spans many requests over time: rows created remotely after the import
// started are excluded and picked up by the first sync instead.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gamelibtools/igdbmirror/internal/igdb"
	"github.com/gamelibtools/igdbmirror/internal/schema"
	"github.com/gamelibtools/igdbmirror/internal/table"
)

// checkpoint is the on-disk resume marker of an in-progress chunked
// import, encoded in the checkpoint file name:
// <table-file-stem>_<maxIdSeen>_<snapshotTimestamp>.tmp.
// At most one checkpoint file exists per table at any time.
type checkpoint struct {
	path       string
	maxID      int64
	snapshotTS int64
}

// checkpointPath renders the checkpoint file name for a table file.
func checkpointPath(filePath string, maxID, snapshotTS int64) string {
	stem := strings.TrimSuffix(filePath, filepath.Ext(filePath))
	return fmt.Sprintf("%s_%d_%d.tmp", stem, maxID, snapshotTS)
}

// findCheckpoint looks for the single resume marker of a table. More than
// one marker means the resumability contract was broken externally; the
// import then starts fresh.
func findCheckpoint(filePath string) *checkpoint {
	stem := strings.TrimSuffix(filePath, filepath.Ext(filePath))
	matches, err := filepath.Glob(stem + "_*_*.tmp")
	if err != nil || len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		slog.Warn("multiple checkpoint files found, ignoring them", "table_file", filePath)
		return nil
	}

	name := strings.TrimSuffix(matches[0], ".tmp")
	tokens := strings.Split(strings.TrimPrefix(name, stem+"_"), "_")
	if len(tokens) != 2 {
		return nil
	}
	maxID, err1 := strconv.ParseInt(tokens[0], 10, 64)
	snapshotTS, err2 := strconv.ParseInt(tokens[1], 10, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &checkpoint{path: matches[0], maxID: maxID, snapshotTS: snapshotTS}
}

// importTable performs the full first import of a table with no cache
// file, chunked and checkpointed when the remote row count crosses the
// big-table threshold.
func (d *Dataset) importTable(ctx context.Context, t *table.Table) error {
	logger := slog.With("table", t.Name)
	logger.Info("fetching table from remote source")

	total, err := d.source.Count(ctx, t.Endpoint, "")
	if err != nil {
		return err
	}
	if total == 0 {
		logger.Info("table is empty")
		return nil
	}

	remaining := total
	where := ""
	var maxID, snapshotTS int64
	var cpPath string
	chunked := total >= d.bigTableSize
	resumed := false

	if chunked {
		if cp := findCheckpoint(t.FilePath); cp != nil {
			if err := t.LoadFrom(cp.path); err != nil {
				logger.Warn("checkpoint file unreadable, starting fresh",
					"checkpoint", cp.path, "error", err)
				os.Remove(cp.path)
			} else {
				maxID, snapshotTS, cpPath = cp.maxID, cp.snapshotTS, cp.path
				resumed = true
				where = fmt.Sprintf("id > %d", maxID)
				if snapshotTS > 0 {
					where += fmt.Sprintf(" & %s <= %d", t.TSCol, snapshotTS)
				}
				logger.Info("resuming chunked import",
					"rows", t.Count(), "max_id", maxID, "snapshot", snapshotTS)
			}
		}
		if !resumed && t.TSCol != "" && t.TSCol != "id" {
			// Fix the snapshot horizon before any paging begins.
			snapshotTS, err = d.source.MaxValue(ctx, t.Endpoint, t.TSCol)
			if err != nil {
				return err
			}
			if snapshotTS == 0 {
				logger.Info("table is empty")
				return nil
			}
			where = fmt.Sprintf("%s <= %d", t.TSCol, snapshotTS)
		}

		if where != "" {
			remaining, err = d.source.Count(ctx, t.Endpoint, where)
			if err != nil {
				return err
			}
		}
		if remaining == 0 && !resumed {
			logger.Info("no data found")
			return nil
		}

		snapSize := total
		if resumed && snapshotTS > 0 {
			snapSize, err = d.source.Count(ctx, t.Endpoint,
				fmt.Sprintf("%s < %d", t.TSCol, snapshotTS))
			if err != nil {
				return err
			}
		}
		if snapSize != remaining+t.Count() {
			logger.Warn("remaining row count does not match the expected number, data may have been modified upstream",
				"expected", snapSize, "cached", t.Count(), "remaining", remaining)
		}
	} else if t.TSCol != "" && t.TSCol != "id" {
		snapshotTS, err = d.source.MaxValue(ctx, t.Endpoint, t.TSCol)
		if err != nil {
			return err
		}
		if snapshotTS == 0 {
			logger.Info("table is empty")
			return nil
		}
		where = fmt.Sprintf("%s <= %d", t.TSCol, snapshotTS)
		remaining, err = d.source.Count(ctx, t.Endpoint, where)
		if err != nil {
			return err
		}
		if remaining == 0 {
			logger.Info("no data found")
			return nil
		}
	}
	logger.Info("importing data", "total", total, "remaining", remaining)

	fields := t.FieldList()
	processed := 0
	sinceCheckpoint := 0
	for processed < remaining {
		rows, err := d.source.Fetch(ctx, t.Endpoint, igdb.Query{
			Fields: fields,
			Offset: processed,
			Limit:  d.pageLimit,
			Sort:   t.SortCol + " asc",
			Where:  where,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		for _, src := range rows {
			if id, ok := table.AsInt64(src["id"]); ok && id > maxID {
				maxID = id
			}
			row, err := d.processRow(ctx, t, t.Columns, src)
			if err != nil {
				logger.Warn("skipping row", "error", err, "source", src["id"])
				continue
			}
			if err := t.Upsert(row); err != nil {
				logger.Warn("dropping row", "error", err)
			}
		}
		processed += len(rows)
		sinceCheckpoint += len(rows)

		// Pages rarely align with the chunk size; checkpoint as soon as
		// a chunk worth of rows accumulated.
		if chunked && sinceCheckpoint >= d.chunkSize {
			sinceCheckpoint = 0
			next := checkpointPath(t.FilePath, maxID, snapshotTS)
			if err := t.SaveCheckpoint(next); err != nil {
				return err
			}
			// The new checkpoint is written before the old one is
			// removed; there is always at least one valid marker.
			if cpPath != "" && cpPath != next {
				os.Remove(cpPath)
			}
			cpPath = next
			logger.Info("checkpoint written", "rows", t.Count(), "max_id", maxID)
		}
	}

	d.resolveSelfRefs(ctx, t)

	if err := t.Save(); err != nil {
		return err
	}
	if cpPath != "" {
		os.Remove(cpPath)
	}
	logger.Info("table imported", "rows", t.Count(), "watermark", t.Watermark())
	return nil
}

// resolveSelfRefs is the post-import pass that resolves columns whose
// reference target is the table itself. Mid-stream the target row may not
// have been cached yet; by now every row is in the index.
func (d *Dataset) resolveSelfRefs(ctx context.Context, t *table.Table) {
	var selfCols []schema.Column
	for _, col := range t.Columns {
		if col.Ref == t.Name {
			selfCols = append(selfCols, col)
		}
	}
	if len(selfCols) == 0 {
		return
	}

	for _, row := range t.Rows() {
		for _, col := range selfCols {
			raw, ok := row[col.Name]
			if !ok || raw == nil {
				continue
			}
			row[col.Name] = d.Resolve(ctx, raw, col.Ref, refProp(col))
		}
	}
}
