// Package app wires runtime capabilities together before the shell starts.
//
// Plugins are initialised in registration order. If any of them fails, the ones already
// initialised are closed again and Build returns the error: the process never runs with a
// partially initialised set of capabilities.
package app

import (
	"context"
	errs "errors"
	"net/http"

	"github.com/maloquacious/noto/internal/logger"
	"github.com/maloquacious/noto/internal/store/sqlite"
	"github.com/pkg/errors"
)

// Plugin is an optional runtime capability attached at startup.
type Plugin interface {
	Name() string
	Init(ctx context.Context, a *App) error
	Close() error
}

// Shell takes over once every capability is ready.
type Shell interface {
	Run(ctx context.Context, a *App) error
}

// ShellFunc adapts a function to Shell.
type ShellFunc func(ctx context.Context, a *App) error

func (f ShellFunc) Run(ctx context.Context, a *App) error { return f(ctx, a) }

// App holds the capabilities provided by plugins.
type App struct {
	log     logger.Logger
	http    *http.Client
	store   *sqlite.SQLiteStore
	plugins []Plugin
}

// Logger returns the diagnostic logger; it discards everything unless a log plugin enabled it.
func (a *App) Logger() logger.Logger {
	return a.log
}

// HTTPClient returns the outbound HTTP client, or nil without the HTTP plugin.
func (a *App) HTTPClient() *http.Client {
	return a.http
}

// Store returns the migrated notes database, or nil without the SQL plugin.
func (a *App) Store() *sqlite.SQLiteStore {
	return a.store
}

// Close releases plugins in reverse registration order.
func (a *App) Close() error {
	var err error
	for i := len(a.plugins) - 1; i >= 0; i-- {
		p := a.plugins[i]
		if cerr := p.Close(); cerr != nil {
			err = errs.Join(err, errors.Wrapf(cerr, "close plugin %s", p.Name()))
		}
	}
	a.plugins = nil
	return err
}

// Builder collects plugins.
type Builder struct {
	plugins []Plugin
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Plugin registers p.
func (b *Builder) Plugin(p Plugin) *Builder {
	b.plugins = append(b.plugins, p)
	return b
}

// Build initialises every plugin.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	a := &App{log: logger.Discard()}
	for _, p := range b.plugins {
		if err := p.Init(ctx, a); err != nil {
			cerr := a.Close()
			return nil, errs.Join(errors.Wrapf(err, "init plugin %s", p.Name()), cerr)
		}
		a.plugins = append(a.plugins, p)
		a.log.Debug("plugin %s ready", p.Name())
	}
	return a, nil
}

// Run builds the app, hands control to shell and closes the app when the shell returns.
func (b *Builder) Run(ctx context.Context, shell Shell) error {
	a, err := b.Build(ctx)
	if err != nil {
		return err
	}
	runErr := shell.Run(ctx, a)
	return errs.Join(runErr, a.Close())
}
