package dataset

// rowproc.go transforms raw remote rows into typed table rows: schema
// coercion, epoch-to-date formatting, derived counts, reference resolution
// and image materialization. A failed column aborts the row; the caller
// logs it and moves on, so one bad row never stops an import or sync.

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/gamelibtools/igdbmirror/internal/schema"
	"github.com/gamelibtools/igdbmirror/internal/table"
)

// processRow builds a fresh typed row from a raw remote row.
func (d *Dataset) processRow(ctx context.Context, t *table.Table, cols []schema.Column, src map[string]any) (table.Row, error) {
	dst := make(table.Row, len(cols))
	if err := d.processInto(ctx, t, cols, src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// processInto applies the given columns of a raw source row onto dst,
// which may be an existing cached row (the schema-migration merge path).
// The raw timestamp column value is carried into the row even when it is
// not a declared column, so the table watermark stays derivable from rows.
func (d *Dataset) processInto(ctx context.Context, t *table.Table, cols []schema.Column, src map[string]any, dst table.Row) error {
	for _, col := range cols {
		v, present, err := d.processColumn(ctx, t, col, src)
		if err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}
		if present {
			dst[col.Name] = v
		}
	}

	if t.TSCol != "" {
		if _, declared := dst[t.TSCol]; !declared {
			if raw, ok := src[t.TSCol]; ok {
				if ts, ok := table.AsInt64(raw); ok {
					dst[t.TSCol] = ts
				}
			}
		}
	}
	return nil
}

// processColumn computes one column value from the raw source row.
// present is false when the source row does not carry the column at all.
func (d *Dataset) processColumn(ctx context.Context, t *table.Table, col schema.Column, src map[string]any) (v any, present bool, err error) {
	if col.Computed() {
		raw, ok := src[col.Calc]
		if !ok {
			return nil, false, nil
		}
		if list, ok := raw.([]any); ok {
			return int64(len(list)), true, nil
		}
		return nil, true, nil
	}

	raw, ok := src[col.SourceKey()]
	if !ok {
		return nil, false, nil
	}
	if raw == nil {
		return nil, true, nil
	}

	switch {
	case col.Type == schema.Date || col.Type == schema.DateTime:
		ts, ok := table.AsInt64(raw)
		if !ok {
			return nil, true, fmt.Errorf("expected epoch seconds, got %T", raw)
		}
		if ts <= 0 {
			return nil, true, nil
		}
		when := time.Unix(ts, 0).UTC()
		if col.Type == schema.Date {
			return when.Format("2006-01-02"), true, nil
		}
		return when.Format("2006-01-02 15:04:05"), true, nil

	case col.Type == schema.Count:
		if list, ok := raw.([]any); ok {
			return int64(len(list)), true, nil
		}
		return nil, true, nil

	case col.Ref != "" && col.Ref == t.Name:
		// Self reference: the target row may not be cached yet while
		// the table is still streaming in. Keep the raw id(s); the
		// post-import pass resolves them.
		return raw, true, nil

	case col.Ref != "":
		resolved := d.Resolve(ctx, raw, col.Ref, refProp(col))
		if col.Type == schema.Image {
			resolved = d.resolveImage(ctx, resolved, col, src)
		}
		return resolved, true, nil

	case col.Prettify:
		s, ok := raw.(string)
		if !ok {
			return nil, true, fmt.Errorf("expected string, got %T", raw)
		}
		return prettify(s), true, nil
	}

	switch col.Type {
	case schema.Int:
		i, ok := table.AsInt64(raw)
		if !ok {
			return nil, true, fmt.Errorf("expected int, got %T", raw)
		}
		return i, true, nil
	case schema.Float:
		f, ok := table.AsFloat64(raw)
		if !ok {
			return nil, true, fmt.Errorf("expected float, got %T", raw)
		}
		return f, true, nil
	case schema.Bool:
		b, ok := table.AsBool(raw)
		if !ok {
			return nil, true, fmt.Errorf("expected bool, got %T", raw)
		}
		return b, true, nil
	case schema.String:
		if s, ok := raw.(string); ok {
			return s, true, nil
		}
		return fmt.Sprint(raw), true, nil
	default:
		return raw, true, nil
	}
}

// prettify turns enum-ish remote values ("main_game") into readable
// labels ("Main game").
func prettify(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
