package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maloquacious/noto/internal/app"
	"github.com/maloquacious/noto/internal/buildinfo"
	"github.com/maloquacious/noto/internal/config"
	"github.com/maloquacious/noto/internal/logger"
	"github.com/maloquacious/noto/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	verbose    bool
	port       int
	shutdownTO time.Duration
	targetVer  int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "noto",
		Short:        "Noto notes backend: local database, migrations and cloud sync",
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "settings file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding "+store.DefaultDBFile+" (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging (debug builds only)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Migrate the database and serve the notes API on loopback",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "API port on 127.0.0.1 (overrides config)")
	serveCmd.Flags().DurationVar(&shutdownTO, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")

	// db command group
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create the datastore and apply every migration",
		RunE:  runDBCreate,
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply pending migrations",
		RunE:  runDBUpgrade,
	}
	dbUpgradeCmd.Flags().IntVar(&targetVer, "to", 0, "stop after this version (default: latest)")
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify schema integrity and version",
		RunE:  runDBVerify,
	}
	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes to the cloud mirror and pull newer notes",
		RunE:  runSync,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "noto version %s\n", buildinfo.Version())
		},
	}

	rootCmd.AddCommand(serveCmd, dbCmd, syncCmd, versionCmd)
	return rootCmd
}

// loadConfig reads the settings file and applies command line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Port = port
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

// newBuilder registers the capabilities every command needs: diagnostic logging (debug builds
// only), the outbound HTTP client and the migrated notes database.
func newBuilder(cfg config.Config) *app.Builder {
	b := app.NewBuilder()
	if buildinfo.Debug {
		level := logrus.InfoLevel
		if cfg.Verbose {
			level = logrus.DebugLevel
		}
		b.Plugin(&app.LogPlugin{Level: level, Out: os.Stderr})
	}
	return b.
		Plugin(&app.HTTPPlugin{}).
		Plugin(&app.SQLPlugin{Dir: cfg.DataDir, DBName: store.DefaultDBFile})
}

func syncFile(cfg config.Config) string {
	return filepath.Join(store.GetStorePath(cfg.DataDir), "noto-sync.yaml")
}

// cliLogger is used before the app is built.
func cliLogger() logger.Logger {
	if buildinfo.Debug {
		return logger.New(os.Stderr, logrus.InfoLevel)
	}
	return logger.Discard()
}
