package table

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gamelibtools/igdbmirror/internal/schema"
)

func boolPtr(b bool) *bool { return &b }

func testConfig() schema.TableConfig {
	cfg := schema.TableConfig{
		Name: "companies",
		File: "igdb_companies.csv",
		Columns: []schema.Column{
			{Name: "id", Type: schema.Int},
			{Name: "name", Type: schema.String},
			{Name: "generation", Type: schema.Int},
			{Name: "rating", Type: schema.Float},
			{Name: "active", Type: schema.Bool},
			{Name: "games", Type: schema.List},
			{Name: "updated_at", Type: schema.Int},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(testConfig(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestUpsertIdempotence(t *testing.T) {
	tbl := newTestTable(t)

	row := Row{"id": int64(7), "name": "Nintendo", "updated_at": int64(100)}
	if err := tbl.Upsert(row); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Upsert(Row{"id": int64(7), "name": "Nintendo EPD", "updated_at": int64(105)}); err != nil {
		t.Fatal(err)
	}

	if tbl.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", tbl.Count())
	}
	got, ok := tbl.Get(7)
	if !ok {
		t.Fatal("row 7 not found")
	}
	if got["name"] != "Nintendo EPD" {
		t.Errorf("name = %v, want latest value", got["name"])
	}
	if !tbl.Dirty() {
		t.Error("table should be dirty after upsert")
	}
}

func TestUpsertWithoutKey(t *testing.T) {
	tbl := newTestTable(t)

	err := tbl.Upsert(Row{"name": "orphan"})
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("err = %v, want ErrMissingKey", err)
	}
	if tbl.Count() != 0 {
		t.Error("row without key must not be stored")
	}
}

func TestWatermark(t *testing.T) {
	tbl := newTestTable(t)

	if tbl.Watermark() != 0 {
		t.Fatalf("empty table watermark = %d, want 0", tbl.Watermark())
	}

	for _, r := range []Row{
		{"id": int64(1), "updated_at": int64(50)},
		{"id": int64(2), "updated_at": int64(120)},
		{"id": int64(3), "updated_at": int64(80)},
	} {
		if err := tbl.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}
	if tbl.Watermark() != 120 {
		t.Errorf("watermark = %d, want 120", tbl.Watermark())
	}

	// Removing the max holder recomputes from the remaining rows.
	tbl.Remove(2)
	if tbl.Watermark() != 80 {
		t.Errorf("watermark after remove = %d, want 80", tbl.Watermark())
	}

	// Removing a non-max row leaves the watermark alone.
	tbl.Remove(1)
	if tbl.Watermark() != 80 {
		t.Errorf("watermark = %d, want 80", tbl.Watermark())
	}

	// Removing an unknown id is a no-op.
	tbl.Remove(99)
	if tbl.Count() != 1 {
		t.Errorf("Count() = %d, want 1", tbl.Count())
	}
}

func TestRemoveKeepsIndexConsistent(t *testing.T) {
	tbl := newTestTable(t)

	for i := int64(1); i <= 5; i++ {
		if err := tbl.Upsert(Row{"id": i, "updated_at": i * 10}); err != nil {
			t.Fatal(err)
		}
	}
	tbl.Remove(2)

	for _, id := range []int64{1, 3, 4, 5} {
		row, ok := tbl.Get(id)
		if !ok {
			t.Fatalf("row %d lost after remove", id)
		}
		if got, _ := row.ID(); got != id {
			t.Errorf("index points at row %d, want %d", got, id)
		}
	}
	if tbl.Contains(2) {
		t.Error("removed row still indexed")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tbl := newTestTable(t)

	rows := []Row{
		{"id": int64(1), "name": "Capcom", "generation": int64(3), "rating": 91.5,
			"active": true, "games": []any{"sf2", "mm"}, "updated_at": int64(100)},
		{"id": int64(2), "name": "", "active": false, "updated_at": int64(200)},
		{"id": int64(3), "name": "Quoted, \"name\"", "updated_at": int64(150)},
	}
	for _, r := range rows {
		if err := tbl.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := tbl.Save(); err != nil {
		t.Fatal(err)
	}
	if tbl.Dirty() {
		t.Error("table should be clean after save")
	}

	loaded, err := New(testConfig(), filepath.Dir(tbl.FilePath))
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}

	if loaded.Count() != 3 {
		t.Fatalf("loaded %d rows, want 3", loaded.Count())
	}
	if loaded.Watermark() != 200 {
		t.Errorf("loaded watermark = %d, want 200", loaded.Watermark())
	}

	got, _ := loaded.Get(1)
	if got["name"] != "Capcom" {
		t.Errorf("name = %v", got["name"])
	}
	if g, _ := AsInt64(got["generation"]); g != 3 {
		t.Errorf("generation = %v", got["generation"])
	}
	if f, _ := AsFloat64(got["rating"]); f != 91.5 {
		t.Errorf("rating = %v", got["rating"])
	}
	if got["active"] != true {
		t.Errorf("active = %v", got["active"])
	}
	if !reflect.DeepEqual(got["games"], []any{"sf2", "mm"}) {
		t.Errorf("games = %v", got["games"])
	}

	// Null fields round-trip as absent values, not as the string "null".
	row2, _ := loaded.Get(2)
	if _, present := row2["generation"]; present {
		t.Errorf("null int loaded as %v, want absent", row2["generation"])
	}
	if row2["active"] != false {
		t.Errorf("active = %v, want false", row2["active"])
	}

	row3, _ := loaded.Get(3)
	if row3["name"] != "Quoted, \"name\"" {
		t.Errorf("quoted name = %v", row3["name"])
	}
}

func TestSaveQuotesNonNumericFields(t *testing.T) {
	tbl := newTestTable(t)

	rows := []Row{
		{"id": int64(1), "name": "Journey", "generation": int64(3), "rating": 91.5,
			"active": true, "games": []any{"sf2"}, "updated_at": int64(100)},
		{"id": int64(2)},
	}
	for _, r := range rows {
		if err := tbl.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := tbl.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(tbl.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	want := `"id","name","generation","rating","active","games","updated_at"` + "\r\n" +
		`1,"Journey",3,91.5,1,"[""sf2""]",100` + "\r\n" +
		`2,"","","","","",""` + "\r\n"
	if string(data) != want {
		t.Errorf("saved file = %q, want %q", data, want)
	}
}

func TestCheckpointCarriesTimestampColumn(t *testing.T) {
	cfg := schema.TableConfig{
		Name: "games",
		Columns: []schema.Column{
			{Name: "id", Type: schema.Int},
			{Name: "name", Type: schema.String},
		},
	}
	cfg.ApplyDefaults()

	dir := t.TempDir()
	tbl, err := New(cfg, dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range []Row{
		{"id": int64(1), "name": "a", "updated_at": int64(900)},
		{"id": int64(2), "name": "b", "updated_at": int64(400)},
	} {
		if err := tbl.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}

	marker := filepath.Join(dir, "igdb_games_2_900.tmp")
	if err := tbl.SaveCheckpoint(marker); err != nil {
		t.Fatal(err)
	}

	// The timestamp column is not part of the schema, yet the marker
	// restores both the row timestamps and the watermark.
	resumed, err := New(cfg, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := resumed.LoadFrom(marker); err != nil {
		t.Fatal(err)
	}
	if resumed.Watermark() != 900 {
		t.Errorf("watermark from checkpoint = %d, want 900", resumed.Watermark())
	}
	row, _ := resumed.Get(1)
	if ts, _ := AsInt64(row["updated_at"]); ts != 900 {
		t.Errorf("carried timestamp = %v, want 900", row["updated_at"])
	}
	if len(resumed.MissingColumns()) != 0 {
		t.Errorf("marker columns reported missing: %v", schema.Names(resumed.MissingColumns()))
	}

	// The final cache file keeps the declared schema only.
	if err := resumed.Save(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(resumed.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); !strings.HasPrefix(got, `"id","name"`+"\r\n") {
		t.Errorf("cache file header = %q, want declared columns only", got)
	}
}

func TestLoadHeaderMismatch(t *testing.T) {
	dir := t.TempDir()
	tbl, err := New(testConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}

	data := "id,name,bogus\r\n1,Sega,x\r\n"
	if err := os.WriteFile(tbl.FilePath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	err = tbl.Load()
	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want SchemaMismatchError", err)
	}
	if tbl.Count() != 0 {
		t.Error("table must stay empty after a header mismatch")
	}
}

func TestLoadRecordsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	tbl, err := New(testConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}

	data := "id,name\r\n1,Sega\r\n2,Atari\r\n"
	if err := os.WriteFile(tbl.FilePath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Load(); err != nil {
		t.Fatal(err)
	}

	if tbl.Count() != 2 {
		t.Fatalf("loaded %d rows, want 2", tbl.Count())
	}
	missing := tbl.MissingColumns()
	want := []string{"generation", "rating", "active", "games", "updated_at"}
	if len(missing) != len(want) {
		t.Fatalf("missing columns = %v, want %v", schema.Names(missing), want)
	}
	for i, name := range want {
		if missing[i].Name != name {
			t.Errorf("missing[%d] = %q, want %q", i, missing[i].Name, name)
		}
	}
}

func TestLoadSkipsBadRows(t *testing.T) {
	dir := t.TempDir()
	tbl, err := New(testConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}

	data := "id,name,generation\r\n1,Sega,3\r\nnotanint,Broken,4\r\n2,Atari,2\r\n"
	if err := os.WriteFile(tbl.FilePath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Load(); err != nil {
		t.Fatal(err)
	}
	if tbl.Count() != 2 {
		t.Errorf("loaded %d rows, want 2 (bad row skipped)", tbl.Count())
	}
}

func TestFieldList(t *testing.T) {
	cfg := schema.TableConfig{
		Name: "franchises",
		Sync: boolPtr(true),
		Columns: []schema.Column{
			{Name: "id", Type: schema.Int},
			{Name: "name"},
			{Name: "released", Field: "first_release_date", Type: schema.Date},
			{Name: "games_count", Type: schema.Count, Calc: "games"},
		},
	}
	cfg.ApplyDefaults()

	tbl, err := New(cfg, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	want := "id,name,first_release_date,games,updated_at"
	if got := tbl.FieldList(); got != want {
		t.Errorf("FieldList() = %q, want %q", got, want)
	}
}

func TestFieldListNoDuplicateTimestamp(t *testing.T) {
	tbl := newTestTable(t)

	want := "id,name,generation,rating,active,games,updated_at"
	if got := tbl.FieldList(); got != want {
		t.Errorf("FieldList() = %q, want %q", got, want)
	}
}
