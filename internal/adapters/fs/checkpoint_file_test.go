package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/domain"
)

func TestCheckpointFile(t *testing.T) {
	ctx := context.Background()
	f := NewCheckpointFile(filepath.Join(t.TempDir(), "nested", "checkpoint.json"))

	cp, err := f.Load(ctx)
	require.NoError(t, err)
	assert.True(t, cp.IsEmpty())

	want := domain.Checkpoint{TenantID: "fluid", DocumentID: "doc", SequenceNumber: 42, MinimumSequenceNumber: 40}
	require.NoError(t, f.Save(ctx, want))

	got, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = os.Stat(f.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := NewCheckpointFile(path).Load(context.Background())
	assert.Error(t, err)
}
