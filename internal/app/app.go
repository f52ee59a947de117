// Package app wires the daemon together: config manager, logging, store,
// sink, dispatch pipeline, and one of the two run modes (polling loop or
// cron-driven batch pass).
package app

import (
	"context"
	"fmt"
	"time"

	"remindd/internal/batch"
	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/eventbus"
	"remindd/internal/poller"
	"remindd/internal/reminder"
	"remindd/internal/sink"
	"remindd/internal/sink/telegram"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// Mode selects the trigger strategy.
type Mode string

const (
	// ModePoll runs the resident 1-second evaluation loop with in-memory
	// snooze/dismiss state.
	ModePoll Mode = "poll"
	// ModeCron runs the stateless batch pass on a cron schedule.
	ModeCron Mode = "cron"
)

type App struct {
	mode Mode

	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus

	st     store.Store
	snk    sink.Sink
	disp   *dispatch.Service
	poll   *poller.Service
	batch  *batch.Service
	cancel context.CancelFunc
}

// New builds the daemon from the config file at path. Nothing is started yet.
func New(path string, mode Mode) (*App, error) {
	cfgMgr := config.NewConfigManager(path)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		mode:   mode,
		cfgMgr: cfgMgr,
		logSvc: logSvc,
		log:    log,
		bus:    eventbus.New(),
	}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	st, err := store.Open(storeConfig(cfg), a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if st == nil {
		return fmt.Errorf("storage driver required (set storage.driver)")
	}
	a.st = st

	a.snk, err = buildSink(cfg, a.log)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	dispCfg, err := dispatchConfig(cfg)
	if err != nil {
		return err
	}

	switch a.mode {
	case ModePoll:
		a.disp = dispatch.New(dispCfg, a.snk, a.log.With(logx.String("comp", "dispatch")), a.bus)
		pollCfg, err := pollerConfig(cfg)
		if err != nil {
			return err
		}
		a.poll = poller.New(pollCfg, a.st, a.st, a.disp, reminder.SystemClock{},
			a.log.With(logx.String("comp", "poller")), a.bus)
	case ModeCron:
		batchCfg, err := batchConfig(cfg)
		if err != nil {
			return err
		}
		a.batch = batch.New(batchCfg, a.st, a.st, a.snk, reminder.SystemClock{},
			a.log.With(logx.String("comp", "batch")), a.bus)
	default:
		return fmt.Errorf("unknown mode %q", a.mode)
	}
	return nil
}

// Start brings the daemon up and begins watching the config file for hot
// reloads (logging, dispatch, and scheduler timing apply live; storage and
// sink changes need a restart).
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	switch a.mode {
	case ModePoll:
		a.disp.Start(ctx)
		a.poll.Start()
	case ModeCron:
		if err := a.batch.Start(ctx); err != nil {
			return err
		}
	}

	go a.watchConfig(ctx)
	a.log.Info("daemon started", logx.String("mode", string(a.mode)))
	return nil
}

// RunBatchOnce executes a single batch pass and returns its summary. Used by
// the -once flag so an external cron can drive the process.
func (a *App) RunBatchOnce(ctx context.Context) (batch.Summary, error) {
	if a.batch == nil {
		return batch.Summary{}, fmt.Errorf("batch pass only available in cron mode")
	}
	return a.batch.RunOnce(ctx)
}

// Snooze forwards to the polling loop. Only meaningful in poll mode.
func (a *App) Snooze(ctx context.Context, kind reminder.Kind, id string, d time.Duration) error {
	if a.poll == nil {
		return fmt.Errorf("snooze only available in poll mode")
	}
	return a.poll.Snooze(ctx, kind, id, d)
}

// Dismiss forwards to the polling loop. Only meaningful in poll mode.
func (a *App) Dismiss(ctx context.Context, kind reminder.Kind, id string) error {
	if a.poll == nil {
		return fmt.Errorf("dismiss only available in poll mode")
	}
	return a.poll.Dismiss(ctx, kind, id)
}

// Events exposes the daemon's lifecycle event stream.
func (a *App) Events() eventbus.Bus { return a.bus }

func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	switch a.mode {
	case ModePoll:
		a.poll.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		a.disp.Stop(ctx)
		cancel()
	case ModeCron:
		a.batch.Stop()
	}
	if a.st != nil {
		_ = a.st.Close()
	}
	a.log.Info("daemon stopped")
	_ = a.logSvc.Close()
}

func (a *App) watchConfig(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(updates)

	go func() {
		if err := a.cfgMgr.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if a.disp != nil {
		if dc, err := dispatchConfig(cfg); err == nil {
			a.disp.Apply(dc)
		} else {
			a.log.Warn("bad dispatch config in reload, keeping previous", logx.Err(err))
		}
	}
	if a.poll != nil {
		if pc, err := pollerConfig(cfg); err == nil {
			a.poll.Apply(pc)
		} else {
			a.log.Warn("bad scheduler config in reload, keeping previous", logx.Err(err))
		}
	}
	a.log.Info("configuration reloaded")
}

// ---- config translation ----

func storeConfig(cfg *config.Config) store.Config {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		busy = 0
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func buildSink(cfg *config.Config, log logx.Logger) (sink.Sink, error) {
	switch cfg.Sink.Driver {
	case "", "log":
		return sink.NewLog(log.With(logx.String("comp", "sink"))), nil
	case "telegram":
		if cfg.Sink.Telegram == nil {
			return nil, fmt.Errorf("sink.telegram section required for the telegram driver")
		}
		return telegram.New(telegram.Config{
			Token:      cfg.Sink.Telegram.Token,
			Recipients: cfg.Sink.Telegram.Recipients,
		}, log.With(logx.String("comp", "sink")))
	default:
		return nil, fmt.Errorf("unknown sink driver %q", cfg.Sink.Driver)
	}
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	var out dispatch.Config
	d := cfg.Dispatch
	if d == nil {
		return out, nil
	}
	timeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", d.SendTimeout, 0)
	if err != nil {
		return out, err
	}
	out.Workers = d.Workers
	out.QueueSize = d.QueueSize
	out.RatePerSec = d.RatePerSec
	out.SendTimeout = timeout
	return out, nil
}

func pollerConfig(cfg *config.Config) (poller.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, 0)
	if err != nil {
		return poller.Config{}, err
	}
	snooze, err := config.ParseDurationOrDefault("scheduler.snooze_default", cfg.Scheduler.SnoozeDefault, 0)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Tick:          tick,
		Timezone:      cfg.Scheduler.Timezone,
		SnoozeDefault: snooze,
	}, nil
}

func batchConfig(cfg *config.Config) (batch.Config, error) {
	return batch.Config{
		Timezone: cfg.Scheduler.Timezone,
		CronSpec: cfg.Scheduler.CronSpec,
	}, nil
}
