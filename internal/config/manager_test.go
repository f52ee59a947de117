package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"scheduler": {"timezone": "Asia/Kolkata", "tick": "1s", "snooze_default": "5m"},
		"sink": {"driver": "log"},
		"storage": {"driver": "file", "path": "./reminders.json"}
	}`)
	m := NewConfigManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Scheduler.Tick != "1s" || cfg.Storage.Driver != "file" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
scheduler:
  timezone: Asia/Kolkata
  cron_spec: "* * * * *"
dispatch:
  workers: 4
  send_timeout: 15s
sink:
  driver: telegram
  telegram:
    token: "123:abc"
    recipients:
      u1: [100, 200]
storage:
  driver: sqlite
  path: ./reminders.db
`)
	m := NewConfigManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Dispatch == nil || cfg.Dispatch.Workers != 4 {
		t.Fatalf("dispatch section lost: %+v", cfg.Dispatch)
	}
	got := cfg.Sink.Telegram.Recipients["u1"]
	if len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Fatalf("recipients = %v", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler": {"tick_rate": "1s"}}`)
	m := NewConfigManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("want error for unknown field")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if _, err := ParseDurationField("scheduler.tick", "not-a-duration"); err == nil {
		t.Fatal("want error for bad duration")
	}
	d, err := ParseDurationOrDefault("scheduler.tick", "", 2*time.Second)
	if err != nil || d != 2*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("scheduler.tick", "750ms", time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("parsed = %v, %v", d, err)
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"sink": {"driver": "log"}, "storage": {"driver": "file", "path": "./r.json"}}`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}
