//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListActive(ctx context.Context, kind reminder.Kind) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	switch kind {
	case reminder.KindAlarm:
		return s.listAlarms(ctx)
	case reminder.KindMedicine:
		return s.listMedicines(ctx)
	case reminder.KindMeeting:
		return s.listMeetings(ctx)
	default:
		return nil, fmt.Errorf("unknown reminder kind %q", kind)
	}
}

func (s *sqliteStore) listAlarms(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, time, date, days, title, spoken_text, audio_ref, image_ref, duration_s, loop, voice
		 FROM alarms WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			r          reminder.Reminder
			timeOfDay  string
			date, days sql.NullString
			title      sql.NullString
			spoken     sql.NullString
			audio      sql.NullString
			image      sql.NullString
			durationS  sql.NullInt64
			loop       int
			voice      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &timeOfDay, &date, &days, &title, &spoken, &audio, &image, &durationS, &loop, &voice); err != nil {
			return nil, err
		}
		r.Kind = reminder.KindAlarm
		r.Active = true
		r.Times = []string{timeOfDay}
		r.Date = date.String
		if days.Valid && days.String != "" {
			if err := json.Unmarshal([]byte(days.String), &r.Days); err != nil {
				return nil, fmt.Errorf("alarm %s: bad days: %w", r.ID, err)
			}
		}
		r.Title = title.String
		r.SpokenText = spoken.String
		r.AudioRef = audio.String
		r.ImageRef = image.String
		r.Duration = int(durationS.Int64)
		lp := loop != 0
		r.Loop = &lp
		r.Voice = voice.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) listMedicines(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, dosage, times, spoken_text, audio_ref, image_ref, duration_s, loop, voice
		 FROM medicines WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			r         reminder.Reminder
			dosage    sql.NullString
			times     string
			spoken    sql.NullString
			audio     sql.NullString
			image     sql.NullString
			durationS sql.NullInt64
			loop      int
			voice     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &dosage, &times, &spoken, &audio, &image, &durationS, &loop, &voice); err != nil {
			return nil, err
		}
		r.Kind = reminder.KindMedicine
		r.Active = true
		if err := json.Unmarshal([]byte(times), &r.Times); err != nil {
			return nil, fmt.Errorf("medicine %s: bad times: %w", r.ID, err)
		}
		r.Dosage = dosage.String
		r.SpokenText = spoken.String
		r.AudioRef = audio.String
		r.ImageRef = image.String
		r.Duration = int(durationS.Int64)
		lp := loop != 0
		r.Loop = &lp
		r.Voice = voice.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) listMeetings(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, location, time, date, spoken_text
		 FROM meetings WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			r         reminder.Reminder
			title     sql.NullString
			location  sql.NullString
			timeOfDay string
			spoken    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &title, &location, &timeOfDay, &r.Date, &spoken); err != nil {
			return nil, err
		}
		r.Kind = reminder.KindMeeting
		r.Active = true
		r.Times = []string{timeOfDay}
		r.Title = title.String
		r.Location = location.String
		r.SpokenText = spoken.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetActive(ctx context.Context, kind reminder.Kind, id string, active bool) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	v := 0
	if active {
		v = 1
	}
	var err error
	switch kind {
	case reminder.KindAlarm:
		_, err = s.db.ExecContext(ctx, `UPDATE alarms SET active = ? WHERE id = ?`, v, id)
	case reminder.KindMedicine:
		_, err = s.db.ExecContext(ctx, `UPDATE medicines SET active = ? WHERE id = ?`, v, id)
	case reminder.KindMeeting:
		_, err = s.db.ExecContext(ctx, `UPDATE meetings SET enabled = ? WHERE id = ?`, v, id)
	default:
		return fmt.Errorf("unknown reminder kind %q", kind)
	}
	return err
}
