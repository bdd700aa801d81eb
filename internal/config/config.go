// Package config loads noto settings from a YAML file, a .env file and NOTO_* variables.
package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/maloquacious/noto/internal/d1"
	"github.com/maloquacious/noto/internal/logger"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFile = "noto.yaml"
	EnvPrefix   = "NOTO_"
)

// Cloud holds the optional D1 mirror settings.
type Cloud struct {
	Enabled bool      `yaml:"enabled" env:"ENABLED"`
	D1      d1.Config `yaml:"d1" envPrefix:"D1_"`
}

// Active reports whether cloud sync should run.
func (c Cloud) Active() bool {
	return c.Enabled && c.D1.Valid()
}

// Config is the full application configuration.
type Config struct {
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
	Port    int    `yaml:"port" env:"PORT"`
	Verbose bool   `yaml:"verbose" env:"VERBOSE"`
	Cloud   Cloud  `yaml:"cloud" envPrefix:"CLOUD_"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DataDir: ".",
		Port:    8383,
	}
}

// Load returns Default overlaid with the YAML file at path (if it exists), then .env and the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// Watch reloads the config whenever the file at path changes and passes the result to
// onChange. It returns when ctx is done.
func Watch(ctx context.Context, path string, log logger.Logger, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create config watcher")
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(path))
	}
	name := filepath.Clean(path)

	// coalesce bursts of events from a single save
	const settle = 100 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher: %v", err)
		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload: %v", err)
				continue
			}
			log.Info("config reloaded from %s", path)
			onChange(cfg)
		}
	}
}
