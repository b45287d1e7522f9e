// Package app wires config, ledger, engine, and refresher together for
// the CLI and the server.
package app

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"kanline/internal/config"
	"kanline/internal/engine"
	"kanline/internal/ledger"
	"kanline/internal/refresh"
)

// App is the assembled application. Close cancels the refresher loop.
type App struct {
	Config    *config.Config
	Ledger    ledger.Ledger
	Engine    engine.Engine
	Refresher *refresh.Refresher

	cancel context.CancelFunc
}

// Options tune assembly. LiveRefresh starts the background refresher and
// hooks it to ledger mutations; one-shot CLI commands leave it off and
// refresh explicitly.
type Options struct {
	Workspace   string
	LiveRefresh bool
	Logger      *log.Logger
}

// New resolves the workspace config, ensures the data directory exists,
// and builds the engine on top of the locked ledger.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Refresh.LivePath), 0o755); err != nil {
		return nil, err
	}

	led := ledger.New(cfg.Ledger.Path)
	led.Logger = opts.Logger
	ref := refresh.New(led, cfg)
	ref.Logger = opts.Logger

	a := &App{Config: cfg, Refresher: ref}
	if opts.LiveRefresh {
		led.Notify = ref
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		go ref.Run(ctx)
	}
	a.Ledger = led
	a.Engine = engine.New(led, cfg)
	return a, nil
}

// Close stops background work. Safe on a nil or refresher-less App.
func (a *App) Close() {
	if a != nil && a.cancel != nil {
		a.cancel()
	}
}
