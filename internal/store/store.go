// Package store provides the reminder source consumed by the trigger loops.
//
// The loops only ever see the Source and Deactivator interfaces; the drivers
// here are reference implementations so the daemon runs standalone:
//   - "file": a JSON reminder file (dev/tests)
//   - "sqlite": SQLite database file (optional build tag)
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Source lists evaluation candidates. Each call is assumed point-in-time
// consistent; the loops do not manage consistency windows themselves.
//
// Per-kind active filtering follows the reference data model: alarms filter
// on their active flag, meetings on their enabled flag, and medicines are
// listed whenever their record is active (the evaluator itself never
// consults a medicine's flag).
type Source interface {
	ListActive(ctx context.Context, kind reminder.Kind) ([]reminder.Reminder, error)
}

// Deactivator flips a reminder's active flag. SetActive is idempotent;
// calling it twice is harmless.
type Deactivator interface {
	SetActive(ctx context.Context, kind reminder.Kind, id string, active bool) error
}

// Store is the full persistence API used by the daemon.
type Store interface {
	Source
	Deactivator
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
