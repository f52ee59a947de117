package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

// fileStore is a dependency-free reminder backend: one JSON document holding
// every record. It re-reads the file per query so edits show up on the next
// tick, and rewrites it atomically (temp file + rename) on SetActive.
//
// Intended for dev and tests; use the sqlite driver for anything bigger.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

type fileDoc struct {
	Reminders []reminder.Reminder `json:"reminders"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// Create an empty document on first run so ListActive doesn't fail.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeFileDoc(path, &fileDoc{}); err != nil {
			return nil, err
		}
	}

	st := &fileStore{log: log, path: path}
	// Fail fast on malformed content.
	if _, err := st.read(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *fileStore) read() (*fileDoc, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	for _, r := range doc.Reminders {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
	}
	return &doc, nil
}

func writeFileDoc(path string, doc *fileDoc) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) ListActive(ctx context.Context, kind reminder.Kind) ([]reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	var out []reminder.Reminder
	for _, r := range doc.Reminders {
		if r.Kind != kind {
			continue
		}
		// Active filtering happens here for every kind, including medicines;
		// the evaluator only re-checks the flag for alarms and meetings.
		if !r.Active {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fileStore) SetActive(ctx context.Context, kind reminder.Kind, id string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	changed := false
	for i := range doc.Reminders {
		if doc.Reminders[i].Kind == kind && doc.Reminders[i].ID == id {
			if doc.Reminders[i].Active != active {
				doc.Reminders[i].Active = active
				changed = true
			}
		}
	}
	// Unknown id is not an error: deactivation is idempotent and the record
	// may have been deleted since it fired.
	if !changed {
		return nil
	}
	return writeFileDoc(s.path, doc)
}

func (s *fileStore) Close() error { return nil }
