package catchup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/internal/testutil"
	"github.com/bft-labs/opstream/pkg/log"
)

// fastConfig keeps retry delays tiny so tests run on the real clock.
func fastConfig() Config {
	return Config{
		BatchSize:         DefaultBatchSize,
		MissingFetchDelay: time.Microsecond,
		MaxFetchDelay:     50 * time.Microsecond,
		MaxRetries:        DefaultMaxRetries,
	}
}

type collector struct {
	mu   sync.Mutex
	seqs []int64
}

func (c *collector) deliver(msgs []domain.SequencedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, testutil.SequenceNumbers(msgs)...)
}

func (c *collector) get() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.seqs...)
}

func contiguous(from, to int64) []int64 {
	var out []int64
	for s := from; s <= to; s++ {
		out = append(out, s)
	}
	return out
}

func TestFetch_BoundedRangeIsPaged(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Ops(1, 5000)...)
	f := New(storage, clock.New(), log.NewNoopLogger(), fastConfig())
	c := &collector{}

	err := f.Fetch(context.Background(), Request{From: 0, To: 4500}, c.deliver)

	require.NoError(t, err)
	assert.Equal(t, contiguous(1, 4499), c.get())
	assert.Equal(t, []testutil.Range{{From: 0, To: 2000}, {From: 1999, To: 3999}, {From: 3998, To: 4500}}, storage.Requests())
	assert.Equal(t, 1, storage.Connects(), "storage connection is cached")
}

func TestFetch_OpenEndedStopsOnShortPage(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Ops(11, 20)...)
	f := New(storage, clock.New(), nil, fastConfig())
	c := &collector{}

	require.NoError(t, f.Fetch(context.Background(), Request{From: 10}, c.deliver))
	assert.Equal(t, contiguous(11, 20), c.get())
	assert.Len(t, storage.Requests(), 1)
}

func TestFetch_GapRange(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Op(12))
	f := New(storage, clock.New(), nil, fastConfig())
	c := &collector{}

	require.NoError(t, f.Fetch(context.Background(), Request{From: 11, To: 13}, c.deliver))
	assert.Equal(t, []int64{12}, c.get())
	assert.Equal(t, []testutil.Range{{From: 11, To: 13}}, storage.Requests())
}

func TestFetch_RetriesRetryableErrors(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Ops(1, 3)...)
	storage.FailNext(errors.New("connection reset"), domain.NewNetworkError("offline", true, 0, 0))
	f := New(storage, clock.New(), nil, fastConfig())
	c := &collector{}

	require.NoError(t, f.Fetch(context.Background(), Request{From: 0, To: 4}, c.deliver))
	assert.Equal(t, []int64{1, 2, 3}, c.get())
	assert.Len(t, storage.Requests(), 3)
}

func TestFetch_NonRetryableErrorAborts(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Ops(1, 3)...)
	forbidden := domain.NewNetworkError("forbidden", false, 403, 0)
	storage.FailNext(forbidden)
	f := New(storage, clock.New(), nil, fastConfig())
	c := &collector{}

	err := f.Fetch(context.Background(), Request{From: 0, To: 4}, c.deliver)
	assert.ErrorIs(t, err, forbidden)
	assert.Empty(t, c.get())
}

func TestFetch_StorageConnectFailureAborts(t *testing.T) {
	down := errors.New("no route to storage")
	provider := ports.StorageProviderFunc(func(context.Context) (ports.DeltaStorage, error) {
		return nil, down
	})
	f := New(provider, clock.New(), nil, fastConfig())

	err := f.Fetch(context.Background(), Request{From: 0}, func([]domain.SequencedMessage) {})
	assert.ErrorIs(t, err, down)
}

func TestFetch_ThrottleDelayIsReported(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Ops(1, 2)...)
	storage.FailNext(domain.NewThrottlingError("busy", 2*time.Millisecond))
	f := New(storage, clock.New(), nil, fastConfig())

	var delays []time.Duration
	f.OnThrottle = func(d time.Duration) { delays = append(delays, d) }

	require.NoError(t, f.Fetch(context.Background(), Request{From: 0, To: 3}, func([]domain.SequencedMessage) {}))
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, delays)
}

func TestFetch_GivesUpAfterMaxEmptyRetries(t *testing.T) {
	storage := testutil.NewMemoryStorage()
	f := New(storage, clock.New(), nil, fastConfig())

	err := f.Fetch(context.Background(), Request{From: 11, To: 13}, func([]domain.SequencedMessage) {
		t.Fatal("nothing to deliver")
	})

	require.Error(t, err)
	assert.True(t, domain.IsCritical(err))
	assert.False(t, domain.CanRetry(err))
	assert.Len(t, storage.Requests(), DefaultMaxRetries)
}

func TestFetch_FailedRequestsDoNotCountTowardsGivingUp(t *testing.T) {
	storage := testutil.NewMemoryStorage()
	errs := make([]error, 5)
	for i := range errs {
		errs[i] = errors.New("flaky")
	}
	storage.FailNext(errs...)
	cfg := fastConfig()
	cfg.MaxRetries = 3
	f := New(storage, clock.New(), nil, cfg)

	err := f.Fetch(context.Background(), Request{From: 1, To: 3}, func([]domain.SequencedMessage) {})
	require.Error(t, err)
	assert.True(t, domain.IsCritical(err))
	assert.Len(t, storage.Requests(), 6, "retry count keeps growing but only a successful empty request can end the fetch")
}

func TestFetch_BackoffDoublesToCap(t *testing.T) {
	f := New(testutil.NewMemoryStorage(), clock.NewMock(), nil, DefaultConfig())

	assert.Equal(t, 200*time.Millisecond, f.backoff(1))
	assert.Equal(t, 400*time.Millisecond, f.backoff(2))
	assert.Equal(t, 6400*time.Millisecond, f.backoff(6))
	assert.Equal(t, 10*time.Second, f.backoff(7))
	assert.Equal(t, 10*time.Second, f.backoff(99))
}

func TestFetch_ContextEndDiscardsInFlightResult(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Ops(1, 5)...)
	storage.Gate = make(chan struct{})
	f := New(storage, clock.New(), nil, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}

	errCh := make(chan error, 1)
	go func() { errCh <- f.Fetch(ctx, Request{From: 0}, c.deliver) }()

	cancel()
	close(storage.Gate)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return")
	}
	assert.Empty(t, c.get())
}

func TestStart_IsSingleFlight(t *testing.T) {
	storage := testutil.NewMemoryStorage(testutil.Ops(1, 5)...)
	storage.Gate = make(chan struct{})
	f := New(storage, clock.New(), nil, fastConfig())
	c := &collector{}
	done := make(chan error, 2)

	require.True(t, f.Start(context.Background(), Request{From: 0}, c.deliver, func(err error) { done <- err }))
	assert.True(t, f.Fetching())
	assert.False(t, f.Start(context.Background(), Request{From: 3}, c.deliver, func(err error) { done <- err }))

	close(storage.Gate)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not finish")
	}
	assert.Eventually(t, func() bool { return !f.Fetching() }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, c.get())
	assert.Len(t, done, 0)
}
