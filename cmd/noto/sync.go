package main

import (
	"context"
	"encoding/json"

	"github.com/maloquacious/noto/internal/app"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Cloud.Active() {
		return errors.New("cloud sync is not configured (set cloud.enabled and cloud.d1 in the settings file)")
	}

	return newBuilder(cfg).Run(cmd.Context(), app.ShellFunc(func(ctx context.Context, a *app.App) error {
		coord, err := newCoordinator(ctx, cfg, a)
		if err != nil {
			return err
		}
		defer coord.Close()

		if err := coord.Sync(ctx); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(coord.Status())
	}))
}
