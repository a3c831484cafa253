package dataset

// export.go writes enriched "cards": a deep copy of a cached row merged
// with the remote fields the table schema does not cache, stored as an
// indented JSON document for downstream consumers.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	clone "github.com/huandu/go-clone/generic"

	"github.com/gamelibtools/igdbmirror/internal/igdb"
	"github.com/gamelibtools/igdbmirror/internal/table"
)

// ExportCard writes the full card of one cached row to dir and returns
// the file path. The cached row is never mutated; enrichment happens on a
// deep copy.
func (d *Dataset) ExportCard(ctx context.Context, tableName string, id int64, dir string) (string, error) {
	t, ok := d.tables[tableName]
	if !ok {
		return "", fmt.Errorf("export card: unknown table %q", tableName)
	}
	row, ok := t.Get(id)
	if !ok {
		return "", fmt.Errorf("export card: table %s id %d: %w", tableName, id, ErrNotFound)
	}

	card := clone.Clone(row)

	rows, err := d.source.Fetch(ctx, t.Endpoint, igdb.Query{
		Fields: "*",
		Limit:  1,
		Where:  fmt.Sprintf("id = %d", id),
	})
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		for key, v := range rows[0] {
			if _, cached := card[key]; !cached {
				card[key] = v
			}
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, cardFileName(id, card))
	data, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func cardFileName(id int64, card table.Row) string {
	if slug, ok := card["slug"].(string); ok && slug != "" {
		return fmt.Sprintf("%06d_%s.json", id, slug)
	}
	return fmt.Sprintf("%06d.json", id)
}
