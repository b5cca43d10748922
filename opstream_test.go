package opstream

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/testutil"
	stream "github.com/bft-labs/opstream/pkg/opstream"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.ServiceURL = "ws://unused"
	cfg.TenantID = "fluid"
	cfg.DocumentID = "doc"
	cfg.TenantKey = "key"
	cfg.ArchivePath = filepath.Join(t.TempDir(), "archive.db")
	return cfg
}

func TestRunDeliversUntilCancelled(t *testing.T) {
	provider := testutil.NewProvider()
	provider.Opened = make(chan *testutil.Conn, 1)
	h := testutil.NewHandler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, testConfig(t), Checkpoint{SequenceNumber: 2}, h,
			stream.WithConnectionProvider(provider))
	}()

	conn := <-provider.Opened
	conn.EmitOps(testutil.Ops(3, 4)...)
	require.Eventually(t, func() bool { return len(h.Sequences()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{3, 4}, h.Sequences())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, conn.Closed())
}

func TestRunReturnsFatalConnectError(t *testing.T) {
	provider := testutil.NewProvider()
	provider.FailNext(domain.NewNetworkError("forbidden", false, 403, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Run(ctx, testConfig(t), Checkpoint{}, testutil.NewHandler(), stream.WithConnectionProvider(provider))
	require.Error(t, err)
	assert.False(t, domain.CanRetry(err))
	assert.Contains(t, err.Error(), "forbidden")
}

func TestRunInvalidConfig(t *testing.T) {
	err := Run(context.Background(), DefaultConfig(), Checkpoint{}, testutil.NewHandler())
	assert.ErrorIs(t, err, stream.ErrInvalidConfig)
}
