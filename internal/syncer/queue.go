package syncer

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OpType names a write that still has to reach the remote.
type OpType string

const (
	OpCreate  OpType = "create"
	OpUpdate  OpType = "update"
	OpDelete  OpType = "delete"
	OpRestore OpType = "restore"
	OpPurge   OpType = "purge"
)

// Operation is one queued remote write.
type Operation struct {
	ID         string `yaml:"id"`
	Type       OpType `yaml:"type"`
	NoteID     string `yaml:"note_id"`
	Timestamp  int64  `yaml:"timestamp"`
	RetryCount int    `yaml:"retry_count"`
}

// State is the part of the sync state that survives restarts.
type State struct {
	Queue      []Operation `yaml:"queue"`
	LastSyncAt *int64      `yaml:"last_sync_at,omitempty"`
}

// QueueFile persists State as YAML.
type QueueFile struct {
	path string
}

func NewQueueFile(path string) *QueueFile {
	return &QueueFile{path: path}
}

// Load reads the state. A missing file is an empty state.
func (f *QueueFile) Load() (State, error) {
	var st State
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, errors.Wrap(err, "read sync queue")
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, errors.Wrapf(err, "parse sync queue %s", f.path)
	}
	return st, nil
}

// Save writes the state atomically.
func (f *QueueFile) Save(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode sync queue")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".sync-*.yaml")
	if err != nil {
		return errors.Wrap(err, "create sync queue temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write sync queue")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close sync queue")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "replace sync queue")
	}
	return nil
}
