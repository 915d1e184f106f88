package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/config"
	"github.com/gyaneshwarpardhi/uebax/internal/recorder"
	"github.com/gyaneshwarpardhi/uebax/internal/report"
	"github.com/gyaneshwarpardhi/uebax/internal/rule"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

// app is the wired engine shared by every command.
type app struct {
	cfg      *config.Config
	loader   *config.Loader // nil when running on defaults
	registry *rule.Registry
	events   store.EventStore
	alerts   store.AlertStore
	pingers  map[string]store.Pinger
	rec      *recorder.Recorder
	reporter *report.Reporter
	closers  []io.Closer

	mu       sync.Mutex
	buildErr error
}

func openApp(path string) (*app, error) {
	a := &app{registry: rule.DefaultRegistry(), pingers: map[string]store.Pinger{}}
	if path == "" {
		a.cfg = config.Default()
	} else {
		l, err := config.NewLoader(path)
		if err != nil {
			return nil, err
		}
		a.loader, a.cfg = l, l.Config()
	}

	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	set, err := a.registry.Build(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}
	if err := a.openStores(); err != nil {
		a.Close()
		return nil, err
	}

	a.rec = recorder.New(a.events, a.alerts, set, a.cfg.Engine)
	a.reporter = report.New(a.events, a.alerts, loc)
	slog.Info("engine ready",
		"rules", set.Len(), "timezone", loc.String(),
		"events", a.cfg.Store.Driver, "alerts", a.cfg.Store.Alerts)
	return a, nil
}

func (a *app) openStores() error {
	sc := a.cfg.Store
	bc := func(name string) store.BreakerConfig {
		return store.BreakerConfig{Name: name, FailureThreshold: sc.Breaker.FailureThreshold, OpenTimeout: sc.Breaker.OpenTimeout}
	}

	var events store.EventStore
	var sameAlerts store.AlertStore
	switch sc.Driver {
	case "memory":
		m := store.NewMemory()
		events, sameAlerts = m, m
		a.pingers["memory"] = m
	case "sqlite":
		s, err := store.NewSQLite(sc.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s)
		events, sameAlerts = s, s
		a.pingers["sqlite"] = s
	default:
		return fmt.Errorf("unknown store driver %q", sc.Driver)
	}

	alerts := sameAlerts
	if sc.Alerts == "redis" {
		r := store.NewRedisAlerts(store.RedisOptions{
			Addr: sc.Redis.Addr, Password: sc.Redis.Password, DB: sc.Redis.DB, Prefix: sc.Redis.Prefix,
		})
		a.closers = append(a.closers, r)
		alerts = r
		a.pingers["redis"] = r
	}

	a.events = store.NewBreakerEvents(events, bc("events"))
	a.alerts = store.NewBreakerAlerts(alerts, bc("alerts"))
	return nil
}

// applyConfig rebuilds the rule set and the dashboard timezone from a freshly
// loaded config. A config that fails to build keeps the previous rules.
func (a *app) applyConfig(cfg *config.Config) {
	set, err := a.registry.Build(cfg)
	a.mu.Lock()
	a.buildErr = err
	a.mu.Unlock()
	if err != nil {
		slog.Warn("rule reload skipped: previous rules stay active", "err", err)
		return
	}
	a.rec.SwapRules(set)
	if loc, err := cfg.Location(); err == nil {
		a.reporter.SetLocation(loc)
	} else {
		slog.Warn("timezone reload skipped", "err", err)
	}
	slog.Info("rules reloaded", "rules", set.Len(), "timezone", a.reporter.Location().String())
}

// reload forces a re-read of the config file.
func (a *app) reload(context.Context) error {
	if _, err := a.loader.Reload(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buildErr
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// cliContext bounds one-shot commands.
func cliContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
