package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/maloquacious/noto/internal/logger"
	"github.com/maloquacious/noto/internal/store"
	"github.com/maloquacious/noto/internal/store/sqlite"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogPlugin turns on diagnostic logging.
type LogPlugin struct {
	Level logrus.Level
	Out   io.Writer
}

func (p *LogPlugin) Name() string { return "log" }

func (p *LogPlugin) Init(ctx context.Context, a *App) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	a.log = logger.New(out, p.Level)
	return nil
}

func (p *LogPlugin) Close() error { return nil }

// HTTPPlugin provides the outbound HTTP client.
type HTTPPlugin struct {
	Timeout time.Duration

	client *http.Client
}

func (p *HTTPPlugin) Name() string { return "http" }

func (p *HTTPPlugin) Init(ctx context.Context, a *App) error {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	p.client = &http.Client{Timeout: timeout}
	a.http = p.client
	return nil
}

func (p *HTTPPlugin) Close() error {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

// SQLPlugin opens the notes database in Dir and applies pending migrations.
// A migration failure fails startup.
type SQLPlugin struct {
	Dir        string
	DBName     string
	Migrations []sqlite.Migration

	store *sqlite.SQLiteStore
}

func (p *SQLPlugin) Name() string { return "sql" }

func (p *SQLPlugin) Init(ctx context.Context, a *App) error {
	dir := store.GetStorePath(p.Dir)
	if err := store.EnsureDir(dir); err != nil {
		return err
	}
	name := p.DBName
	if name == "" {
		name = store.DefaultDBFile
	}
	migrations := p.Migrations
	if migrations == nil {
		migrations = sqlite.Migrations
	}

	s := sqlite.New(filepath.Join(dir, name), sqlite.WithLogger(a.log), sqlite.WithMigrations(migrations))
	if err := s.Open(); err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return errors.Wrap(err, "migrate")
	}
	version, err := s.GetSchemaVersion()
	if err != nil {
		s.Close()
		return err
	}
	a.log.Info("database %s at schema version %d", s.Path(), version)

	p.store = s
	a.store = s
	return nil
}

func (p *SQLPlugin) Close() error {
	if p.store == nil {
		return nil
	}
	err := p.store.Close()
	p.store = nil
	return err
}
