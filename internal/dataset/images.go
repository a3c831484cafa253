package dataset

// images.go materializes image-reference columns. The resolved image URL
// becomes a {path, url} pair pointing at the original-size asset and its
// local file; the download is best effort, so the pair is kept even when
// the transport fails and the local file never appeared.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gamelibtools/igdbmirror/internal/schema"
	"github.com/gamelibtools/igdbmirror/internal/table"
)

// resolveImage converts a resolved image URL (or list of URLs) into
// {path, url} pairs, optionally downloading the asset.
func (d *Dataset) resolveImage(ctx context.Context, resolved any, col schema.Column, src map[string]any) any {
	if resolved == nil {
		return nil
	}

	token := imageToken(col, src)
	if urls, ok := resolved.([]any); ok {
		out := make([]any, 0, len(urls))
		for i, u := range urls {
			out = append(out, d.fetchImage(ctx, u, col, fmt.Sprintf("%s_%d", token, i+1)))
		}
		return out
	}
	return d.fetchImage(ctx, resolved, col, token)
}

func (d *Dataset) fetchImage(ctx context.Context, resolved any, col schema.Column, token string) any {
	rawURL, ok := resolved.(string)
	if !ok || rawURL == "" {
		return nil
	}

	prefix := col.FilePrefix
	if prefix == "" {
		prefix = "img"
	}
	pair := map[string]any{
		"path": filepath.Join(d.imgDir, fmt.Sprintf("%s_%s.jpg", prefix, token)),
		"url":  originalSizeURL(rawURL),
	}

	if col.Download && d.images != nil {
		dest := pair["path"].(string)
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			if err := d.images.DownloadImage(ctx, pair["url"].(string), dest); err != nil {
				slog.Warn("image download failed", "url", pair["url"], "error", err)
			}
		}
	}
	return pair
}

// imageToken picks the file-name token of an image: the configured token
// field of the source row, falling back to its slug, then its id.
func imageToken(col schema.Column, src map[string]any) string {
	key := col.FileToken
	if key == "" {
		key = "slug"
	}
	if v, ok := src[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if id, ok := table.AsInt64(src["id"]); ok {
		return fmt.Sprint(id)
	}
	return "unknown"
}

// originalSizeURL upgrades a thumbnail URL to the original-size asset and
// makes protocol-relative URLs absolute.
func originalSizeURL(u string) string {
	u = strings.Replace(u, "/t_thumb/", "/t_original/", 1)
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
