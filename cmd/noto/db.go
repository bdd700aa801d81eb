package main

import (
	"encoding/json"
	"fmt"

	"github.com/maloquacious/noto/internal/store"
	"github.com/maloquacious/noto/internal/store/sqlite"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func openStore() (*sqlite.SQLiteStore, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	dir := store.GetStorePath(cfg.DataDir)
	s := sqlite.New(store.GetDBPath(dir), sqlite.WithLogger(cliLogger()))
	return s, dir, nil
}

func runDBCreate(cmd *cobra.Command, args []string) error {
	s, dir, err := openStore()
	if err != nil {
		return err
	}
	exists, err := store.CheckExists(dir)
	if err != nil {
		return err
	}
	if exists {
		return errors.Errorf("datastore already exists: %s", s.Path())
	}
	if err := store.EnsureDir(dir); err != nil {
		return err
	}
	if err := s.Open(); err != nil {
		return err
	}
	defer s.Close()

	if err := s.Migrate(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", s.Path())
	return nil
}

func runDBUpgrade(cmd *cobra.Command, args []string) error {
	s, dir, err := openStore()
	if err != nil {
		return err
	}
	exists, err := store.CheckExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Errorf("datastore not found: %s (run `noto db create`)", s.Path())
	}
	if err := s.Open(); err != nil {
		return err
	}
	defer s.Close()

	target := targetVer
	if target == 0 {
		target = sqlite.LatestVersion()
	}
	if err := s.MigrateTo(cmd.Context(), target); err != nil {
		return err
	}
	version, err := s.GetSchemaVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}

type verifyReport struct {
	Path          string   `json:"path"`
	State         string   `json:"state"`
	SchemaVersion int      `json:"schemaVersion"`
	LatestVersion int      `json:"latestVersion"`
	Baseline      int      `json:"baseline,omitempty"`
	Pending       []int    `json:"pending,omitempty"`
	Columns       []string `json:"columns,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// runDBVerify opens the database read-only, reports its schema state as JSON and fails unless it is fully
// migrated with the expected notes columns.
func runDBVerify(cmd *cobra.Command, args []string) error {
	s, dir, err := openStore()
	if err != nil {
		return err
	}
	report := verifyReport{Path: s.Path(), LatestVersion: sqlite.LatestVersion(), State: store.StateMissing.String()}

	exists, err := store.CheckExists(dir)
	if err != nil {
		return err
	}
	if exists {
		if err := s.OpenReadOnly(); err != nil {
			return err
		}
		defer s.Close()
		if err := fillReport(cmd, s, &report); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.State != store.StateReady.String() || report.Error != "" {
		return errors.Errorf("datastore is %s", report.State)
	}
	return nil
}

func fillReport(cmd *cobra.Command, s *sqlite.SQLiteStore, report *verifyReport) error {
	state, err := s.CheckState()
	if err != nil {
		return err
	}
	report.State = state.String()

	st, err := s.MigrationStatus(cmd.Context())
	if err != nil {
		return err
	}
	report.SchemaVersion = st.Current
	report.Baseline = st.Baseline
	for _, m := range st.Pending {
		report.Pending = append(report.Pending, m.Version)
	}
	if state == store.StateUninitialized && st.Baseline == 0 {
		return nil
	}

	cols, err := s.Columns(cmd.Context(), "notes")
	if err != nil {
		return err
	}
	report.Columns = cols
	if state == store.StateReady {
		if err := s.VerifySchema(cmd.Context()); err != nil {
			report.Error = err.Error()
		}
	}
	return nil
}
