package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestColumnUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Column
	}{
		{
			name:  "bare string column",
			input: `"slug"`,
			want:  Column{Name: "slug", Type: String},
		},
		{
			name:  "bare id column is int",
			input: `"id"`,
			want:  Column{Name: "id", Type: Int},
		},
		{
			name:  "object with type",
			input: `{"name": "generation", "type": "int"}`,
			want:  Column{Name: "generation", Type: Int},
		},
		{
			name:  "list column",
			input: `{"name": "versions", "type": "list"}`,
			want:  Column{Name: "versions", Type: List},
		},
		{
			name:  "reference column with param spelling",
			input: `{"name": "platform_family", "ref": "platform_families", "param": "name"}`,
			want:  Column{Name: "platform_family", Type: String, Ref: "platform_families", Prop: "name"},
		},
		{
			name:  "computed count column",
			input: `{"name": "games_count", "type": "count", "calc": "games"}`,
			want:  Column{Name: "games_count", Type: Count, Calc: "games"},
		},
		{
			name:  "image column downloads by default",
			input: `{"name": "logo", "type": "img", "ref": "images"}`,
			want:  Column{Name: "logo", Type: Image, Ref: "images", Download: true},
		},
		{
			name:  "image column with download disabled",
			input: `{"name": "logo", "type": "img", "ref": "images", "download": false}`,
			want:  Column{Name: "logo", Type: Image, Ref: "images", Download: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Column
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Name != tt.want.Name || got.Type != tt.want.Type ||
				got.Ref != tt.want.Ref || got.Prop != tt.want.Prop ||
				got.Calc != tt.want.Calc || got.Download != tt.want.Download {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestColumnDefaults(t *testing.T) {
	ref := Column{Name: "parent", Ref: "companies"}
	if got := ref.RefProp(); got != "name" {
		t.Errorf("RefProp() = %q, want %q", got, "name")
	}

	img := Column{Name: "logo", Type: Image, Ref: "images"}
	if got := img.RefProp(); got != "url" {
		t.Errorf("image RefProp() = %q, want %q", got, "url")
	}

	aliased := Column{Name: "released", Field: "first_release_date"}
	if got := aliased.SourceKey(); got != "first_release_date" {
		t.Errorf("SourceKey() = %q, want %q", got, "first_release_date")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cols    []Column
		wantErr bool
	}{
		{
			name: "valid schema",
			cols: []Column{{Name: "id", Type: Int}, {Name: "name"}},
		},
		{
			name:    "missing id column",
			cols:    []Column{{Name: "name"}},
			wantErr: true,
		},
		{
			name:    "id with wrong type",
			cols:    []Column{{Name: "id", Type: String}},
			wantErr: true,
		},
		{
			name:    "duplicate column",
			cols:    []Column{{Name: "id", Type: Int}, {Name: "name"}, {Name: "name"}},
			wantErr: true,
		},
		{
			name:    "image without reference",
			cols:    []Column{{Name: "id", Type: Int}, {Name: "logo", Type: Image}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cols)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSources(t *testing.T) {
	raw := `{
		"tables": {
			"platforms": {
				"name": "Platforms",
				"schema": ["id", "name", "slug", {"name": "generation", "type": "int"}]
			},
			"regions": {
				"sync": false,
				"schema": ["id", "name"]
			}
		}
	}`

	dir := t.TempDir()
	path := filepath.Join(dir, "igdbsources.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}

	platforms := src.Tables["platforms"]
	if platforms.File != "igdb_platforms.csv" {
		t.Errorf("default file = %q", platforms.File)
	}
	if platforms.Endpoint != "/platforms" {
		t.Errorf("default endpoint = %q", platforms.Endpoint)
	}
	if platforms.SortCol != "id" {
		t.Errorf("default sortcol = %q", platforms.SortCol)
	}
	if platforms.TSCol != "updated_at" {
		t.Errorf("default tscol = %q", platforms.TSCol)
	}
	if !platforms.Syncable() {
		t.Error("platforms should be syncable by default")
	}

	regions := src.Tables["regions"]
	if regions.Syncable() {
		t.Error("regions should not be syncable")
	}
	if regions.TSCol != "" {
		t.Errorf("non-syncable table got tscol %q", regions.TSCol)
	}

	names := src.TableNames()
	if len(names) != 2 || names[0] != "platforms" || names[1] != "regions" {
		t.Errorf("TableNames() = %v", names)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	src, err := LoadSources(filepath.Join("..", "..", "config", "igdbsources.json"))
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	for _, name := range []string{"games", "companies", "platforms", "genres"} {
		if _, ok := src.Tables[name]; !ok {
			t.Errorf("shipped sources missing table %q", name)
		}
	}
	if !src.Tables["games"].Syncable() {
		t.Error("games should be syncable")
	}

	countries, err := LoadCountries(filepath.Join("..", "..", "config", "countries.json"))
	if err != nil {
		t.Fatalf("LoadCountries: %v", err)
	}
	if countries["392"] != "Japan" {
		t.Errorf(`countries["392"] = %q, want Japan`, countries["392"])
	}
}

func TestLoadSourcesInvalidSchema(t *testing.T) {
	raw := `{"tables": {"broken": {"schema": ["name"]}}}`

	dir := t.TempDir()
	path := filepath.Join(dir, "igdbsources.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadSources(path); err == nil {
		t.Error("expected error for schema without id column")
	}
}
