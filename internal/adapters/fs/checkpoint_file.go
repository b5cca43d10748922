package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bft-labs/opstream/internal/domain"
)

// CheckpointFile implements ports.CheckpointStore using a JSON file.
type CheckpointFile struct {
	path string
}

// NewCheckpointFile creates a checkpoint store at path.
func NewCheckpointFile(path string) *CheckpointFile {
	return &CheckpointFile{path: path}
}

// Load retrieves the last saved checkpoint.
// Returns an empty checkpoint and nil error if none was saved.
func (f *CheckpointFile) Load(ctx context.Context) (domain.Checkpoint, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Checkpoint{}, nil
		}
		return domain.Checkpoint{}, err
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", f.path, err)
	}
	return cp, nil
}

// Save persists cp, replacing the previous checkpoint atomically.
func (f *CheckpointFile) Save(ctx context.Context, cp domain.Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Path returns the checkpoint file path.
func (f *CheckpointFile) Path() string {
	return f.path
}
