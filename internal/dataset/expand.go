package dataset

// expand.go is the schema-migration path: a previously-saved cache file
// that is missing columns now declared in the schema is expanded by
// fetching just those columns (plus id) for all existing rows and merging
// them in. When the only missing column is the primary key itself the pass
// runs purely locally, deriving the key from its source field and
// reindexing; no remote traffic happens.

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gamelibtools/igdbmirror/internal/igdb"
	"github.com/gamelibtools/igdbmirror/internal/schema"
	"github.com/gamelibtools/igdbmirror/internal/table"
)

func (d *Dataset) expandTable(ctx context.Context, t *table.Table) error {
	missing := t.MissingColumns()
	if len(missing) == 0 {
		return nil
	}
	logger := slog.With("table", t.Name)
	logger.Info("expanding table", "columns", schema.Names(missing))

	if len(missing) == 1 && missing[0].Name == "id" {
		// Local-only migration: derive the key from cached data.
		for _, row := range t.Rows() {
			if err := d.processInto(ctx, t, missing, row, row); err != nil {
				logger.Warn("could not derive key for row", "error", err)
			}
		}
		t.Reindex()
		t.ClearMissing()
		return nil
	}

	fields := expandFieldList(missing)
	total, err := d.source.Count(ctx, t.Endpoint, "")
	if err != nil {
		return err
	}
	if total == 0 {
		logger.Debug("no data found")
		t.ClearMissing()
		return nil
	}

	fetched := 0
	merged := 0
	for fetched < total {
		rows, err := d.source.Fetch(ctx, t.Endpoint, igdb.Query{
			Fields: fields,
			Offset: fetched,
			Limit:  d.pageLimit,
			Sort:   t.SortCol + " asc",
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}
		for _, src := range rows {
			id, ok := table.AsInt64(src["id"])
			if !ok {
				continue
			}
			dst, cached := t.Get(id)
			if !cached {
				// Rows unknown locally are not part of the
				// migration; sync picks them up.
				continue
			}
			if err := d.processInto(ctx, t, missing, src, dst); err != nil {
				logger.Warn("skipping row", "error", err, "id", id)
				continue
			}
			merged++
		}
		fetched += len(rows)
	}

	logger.Info("table expanded", "rows", merged)
	t.ClearMissing()
	return nil
}

// expandFieldList builds the remote field list for a migration fetch: the
// primary key plus the source keys of the missing columns.
func expandFieldList(missing []schema.Column) string {
	fields := []string{"id"}
	seen := map[string]bool{"id": true}
	for _, col := range missing {
		key := col.SourceKey()
		if col.Computed() {
			key = col.Calc
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		fields = append(fields, key)
	}
	return strings.Join(fields, ",")
}
