package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	DefaultDBFile = "noto.db"
)

// CheckExists verifies if the datastore exists at the given path.
// Returns true if the store exists, false otherwise.
func CheckExists(storePath string) (bool, error) {
	dbPath := GetDBPath(storePath)
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check store existence")
	}
	if info.IsDir() {
		return false, errors.Errorf("datastore path is a directory, expected file: %s", dbPath)
	}
	return true, nil
}

// GetStorePath returns the path to the datastore directory.
// An empty dataDir means the current working directory.
func GetStorePath(dataDir string) string {
	if dataDir == "" {
		return "."
	}
	return dataDir
}

// GetDBPath returns the full path to the database file.
func GetDBPath(storePath string) string {
	return filepath.Join(storePath, DefaultDBFile)
}

// EnsureDir creates the datastore directory if it is missing.
func EnsureDir(storePath string) error {
	if err := os.MkdirAll(storePath, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create store directory %s", storePath)
	}
	return nil
}
