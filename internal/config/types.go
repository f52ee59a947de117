package config

// DefaultTimezone is the canonical timezone every "now" value is projected
// into before matching. Keep this in one place; the reference deployment had
// the constant duplicated per call site and the copies drifted.
const DefaultTimezone = "Asia/Kolkata"

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the trigger loop in both run modes.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Dispatch controls the async pipeline between the trigger loop and the
	// notification sink. If omitted, defaults apply.
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`

	Sink    SinkConfig    `json:"sink"`
	Storage StorageConfig `json:"storage"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls trigger timing.
//
// All durations are Go duration strings (e.g. "500ms", "1s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Asia/Kolkata"
//   - tick: "1s" (poll mode)
//   - snooze_default: "5m"
//   - cron_spec: "* * * * *" (cron mode)
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`

	// Tick is the poll-mode evaluation period.
	Tick string `json:"tick,omitempty"`

	SnoozeDefault string `json:"snooze_default,omitempty"`

	// CronSpec drives the batch pass in cron mode. Invoking it more often
	// than once per minute sends duplicate notifications; that is a property
	// of the stateless deployment, not something this config can fix.
	CronSpec string `json:"cron_spec,omitempty"`
}

// DispatchConfig controls the async dispatch pipeline.
//
// Defaults: workers 2, queue_size 256, rate_per_sec 5, send_timeout "10s".
type DispatchConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// SinkConfig selects the notification sink.
//
// Driver values:
//   - "log": render fired reminders to the structured log (dev / local UI)
//   - "telegram": deliver to per-owner Telegram chats
type SinkConfig struct {
	Driver   string              `json:"driver"`
	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`
}

type TelegramSinkConfig struct {
	Token string `json:"token"`

	// Recipients maps an owner id to one or more chat ids. A dispatch for an
	// owner fans out to all of their chats; per-chat failures are counted,
	// not fatal.
	Recipients map[string][]int64 `json:"recipients"`
}

// StorageConfig selects the reminder store.
//
// Driver values:
//   - "file": JSON reminder file (dev/tests)
//   - "sqlite": SQLite database file (optional build tag)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
