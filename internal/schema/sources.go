package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// TableConfig is one entry of the sources configuration: everything needed
// to construct a typed table for an IGDB endpoint.
type TableConfig struct {
	// Name is the registry key of the table.
	Name string

	// Label is the human-readable table title.
	Label string `json:"name"`

	// File is the cache file name (default "igdb_<name>.csv").
	File string `json:"file"`

	// Endpoint is the remote resource path (default "/<name>").
	Endpoint string `json:"endpoint"`

	// Sync marks the table as participating in incremental sync.
	// Lookup tables that never change are imported once and left alone.
	Sync *bool `json:"sync"`

	// SortCol orders full-import paging (default "id").
	SortCol string `json:"sortcol"`

	// TSCol is the timestamp column driving the sync watermark
	// (default "updated_at" for syncable tables).
	TSCol string `json:"tscol"`

	Columns []Column `json:"schema"`
}

// Syncable reports whether the table takes part in incremental sync.
func (tc TableConfig) Syncable() bool {
	return tc.Sync == nil || *tc.Sync
}

// ApplyDefaults fills unset fields from the table name.
func (tc *TableConfig) ApplyDefaults() {
	if tc.Label == "" {
		tc.Label = tc.Name
	}
	if tc.File == "" {
		tc.File = fmt.Sprintf("igdb_%s.csv", tc.Name)
	}
	if tc.Endpoint == "" {
		tc.Endpoint = "/" + tc.Name
	}
	if tc.SortCol == "" {
		tc.SortCol = "id"
	}
	if tc.TSCol == "" && tc.Syncable() {
		tc.TSCol = "updated_at"
	}
}

// Sources is the parsed sources configuration file.
type Sources struct {
	Tables map[string]TableConfig `json:"tables"`
}

// LoadSources reads and validates the sources configuration.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources config: %w", err)
	}

	var src Sources
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("parse sources config %s: %w", path, err)
	}

	for name, tc := range src.Tables {
		tc.Name = name
		tc.ApplyDefaults()
		if err := Validate(tc.Columns); err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		src.Tables[name] = tc
	}
	return &src, nil
}

// TableNames returns the configured table names in stable order.
func (s *Sources) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadCountries reads the flat country-code lookup (ISO numeric code,
// as a string key, to country name).
func LoadCountries(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read countries config: %w", err)
	}
	countries := make(map[string]string)
	if err := json.Unmarshal(data, &countries); err != nil {
		return nil, fmt.Errorf("parse countries config %s: %w", filepath.Base(path), err)
	}
	return countries, nil
}
