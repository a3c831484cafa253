package dataset

// resolver.go implements lazy cross-table reference resolution. A foreign
// id is looked up in the target table's index; a miss triggers a single-row
// remote fetch that runs through the target's own row processor and is
// upserted into the target table. The cache is self-healing: any reference
// encountered anywhere becomes permanently cached, so repeated resolutions
// are index hits.

import (
	"context"
	"fmt"
	"log/slog"

	clone "github.com/huandu/go-clone/generic"

	"github.com/gamelibtools/igdbmirror/internal/igdb"
	"github.com/gamelibtools/igdbmirror/internal/schema"
	"github.com/gamelibtools/igdbmirror/internal/table"
)

// refProp selects what a reference column reads from the target row:
// a single property name or a list yielding a sub-map.
func refProp(col schema.Column) any {
	if len(col.Props) > 0 {
		return col.Props
	}
	return col.RefProp()
}

// Resolve resolves a foreign key, or a list of foreign keys, against the
// named table. prop is a property name (scalar result), a []string
// (sub-map result) or "" (the whole row). Unresolvable ids are logged and
// yield nil; resolution never aborts the caller.
func (d *Dataset) Resolve(ctx context.Context, ref any, tableName string, prop any) any {
	if tableName == "" || ref == nil {
		return nil
	}
	if tableName == countriesTable {
		return d.resolveCountry(ref)
	}

	t, ok := d.tables[tableName]
	if !ok {
		slog.Warn("reference to unknown table", "table", tableName)
		return nil
	}

	if ids, ok := ref.([]any); ok {
		out := make([]any, 0, len(ids))
		for _, raw := range ids {
			v, err := d.resolveOne(ctx, t, raw, prop)
			if err != nil {
				slog.Warn("invalid table reference",
					"table", t.Name, "id", raw, "error", err)
				continue
			}
			out = append(out, v)
		}
		return out
	}

	v, err := d.resolveOne(ctx, t, ref, prop)
	if err != nil {
		slog.Warn("invalid table reference", "table", t.Name, "id", ref, "error", err)
		return nil
	}
	return v
}

// resolveOne resolves a single id, lazily materializing the target row.
func (d *Dataset) resolveOne(ctx context.Context, t *table.Table, ref any, prop any) (any, error) {
	id, ok := table.AsInt64(ref)
	if !ok {
		return nil, fmt.Errorf("reference key %v is not an id", ref)
	}

	row, cached := t.Get(id)
	if !cached {
		fetched, err := d.fetchRow(ctx, t, id)
		if err != nil {
			return nil, err
		}
		row = fetched
	}

	switch p := prop.(type) {
	case []string:
		sub := make(map[string]any, len(p))
		for _, key := range p {
			if v, ok := row[key]; ok {
				sub[key] = clone.Clone(v)
			}
		}
		return sub, nil
	case string:
		if p == "" {
			return map[string]any(row), nil
		}
		if v, ok := row[p]; ok {
			return v, nil
		}
		return map[string]any(row), nil
	default:
		return map[string]any(row), nil
	}
}

// fetchRow pulls one remote row by id, runs it through the target table's
// own row processor (recursively applying its schema and references) and
// caches it.
func (d *Dataset) fetchRow(ctx context.Context, t *table.Table, id int64) (table.Row, error) {
	rows, err := d.source.Fetch(ctx, t.Endpoint, igdb.Query{
		Fields: t.FieldList(),
		Limit:  d.pageLimit,
		Where:  fmt.Sprintf("id = %d", id),
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	row, err := d.processRow(ctx, t, t.Columns, rows[0])
	if err != nil {
		return nil, err
	}
	if err := t.Upsert(row); err != nil {
		return nil, err
	}
	return row, nil
}

// resolveCountry resolves against the flat country lookup (keyed by the
// string form of the numeric ISO code).
func (d *Dataset) resolveCountry(ref any) any {
	if codes, ok := ref.([]any); ok {
		out := make([]any, 0, len(codes))
		for _, code := range codes {
			name, ok := d.countries[fmt.Sprint(code)]
			if !ok {
				slog.Warn("invalid country reference", "code", code)
				continue
			}
			out = append(out, name)
		}
		return out
	}

	name, ok := d.countries[fmt.Sprint(ref)]
	if !ok {
		slog.Warn("invalid country reference", "code", ref)
		return nil
	}
	return name
}
