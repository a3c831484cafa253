package dataset

// history.go keeps the sync-run journal: one record per load/sync run with
// a unique run id, so operators can correlate log output with what each
// run actually applied.

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
)

// Run is one journal entry. Tables maps table name to the number of rows
// applied during the run.
type Run struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Tables     map[string]int `json:"tables,omitempty"`
}

func newRun(kind string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		Tables:    make(map[string]int),
	}
}

func (r *Run) finish() {
	r.FinishedAt = time.Now().UTC()
}

// History returns the recorded runs in journal order, oldest first.
func (d *Dataset) History() ([]Run, error) {
	data, err := os.ReadFile(d.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var runs []Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// appendRun rewrites the journal file with the new record appended.
func appendRun(path string, r *Run) error {
	var runs []Run
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt journal is replaced rather than blocking the sync.
		_ = json.Unmarshal(data, &runs)
	}
	runs = append(runs, *r)

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
