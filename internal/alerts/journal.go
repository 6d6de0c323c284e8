package alerts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal is an append-only JSONL record of every escalation handed to
// the notification collaborator, so operator-facing failures survive a
// webhook outage.
type Journal struct {
	mu   sync.Mutex
	path string
}

type journalEntry struct {
	Type  string    `json:"type"`
	Data  any       `json:"data"`
	Event time.Time `json:"event"`
}

func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Journal{path: path}, nil
}

func (j *Journal) Append(kind string, data any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := journalEntry{Type: kind, Data: data, Event: time.Now().UTC()}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(b, '\n'))
	return err
}
