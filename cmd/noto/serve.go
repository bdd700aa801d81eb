package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/maloquacious/noto/internal/api"
	"github.com/maloquacious/noto/internal/app"
	"github.com/maloquacious/noto/internal/buildinfo"
	"github.com/maloquacious/noto/internal/config"
	"github.com/maloquacious/noto/internal/d1"
	"github.com/maloquacious/noto/internal/syncer"
	"github.com/spf13/cobra"
)

// runServe migrates the database and serves the notes API until interrupted.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return newBuilder(cfg).Run(ctx, app.ShellFunc(func(ctx context.Context, a *app.App) error {
		coord, err := newCoordinator(ctx, cfg, a)
		if err != nil {
			return err
		}

		// the config watcher must stop before the coordinator and the store close
		ctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		defer coord.Close()
		defer wg.Wait()
		defer cancel()

		if cfg.Cloud.Active() {
			coord.SyncInBackground(ctx)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, configPath, a.Logger(), func(next config.Config) {
				applyCloud(ctx, next, a, coord)
			})
			if err != nil {
				a.Logger().Warn("config watch disabled: %v", err)
			}
		}()

		srv := api.New(coord, api.Info{
			Version:       buildinfo.Version(),
			BuildDate:     buildinfo.BuildDate(),
			SchemaVersion: a.Store().GetSchemaVersion,
		}, a.Logger())
		return srv.Serve(ctx, cfg.Port, shutdownTO)
	}))
}

func newCoordinator(ctx context.Context, cfg config.Config, a *app.App) (*syncer.Coordinator, error) {
	coord, err := syncer.New(a.Store(), syncer.NewQueueFile(syncFile(cfg)), syncer.WithLogger(a.Logger()))
	if err != nil {
		return nil, err
	}
	applyCloud(ctx, cfg, a, coord)
	return coord, nil
}

// applyCloud points the coordinator at the D1 mirror and checks the credentials, or detaches
// it when cloud sync is off. A failed check leaves the mirror attached but offline.
func applyCloud(ctx context.Context, cfg config.Config, a *app.App, coord *syncer.Coordinator) {
	if !cfg.Cloud.Active() {
		coord.SetRemote(nil)
		return
	}
	coord.SetRemote(d1.New(cfg.Cloud.D1, a.HTTPClient()))
	if err := coord.CheckRemote(ctx); err != nil {
		a.Logger().Warn("cloud sync for database %s: %v", cfg.Cloud.D1.DatabaseID, err)
		return
	}
	a.Logger().Info("cloud sync enabled for database %s", cfg.Cloud.D1.DatabaseID)
}
