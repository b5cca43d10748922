package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/testutil"
)

type retry struct {
	attempt int
	delay   time.Duration
}

type dialOutcome struct {
	res Result
	err error
}

// dialWithMock runs Dial on a mock clock, advancing it by every armed delay.
func dialWithMock(t *testing.T, ctx context.Context, p *testutil.Provider) ([]retry, Result, error) {
	t.Helper()
	mock := clock.NewMock()
	d := NewDialer(p, mock, nil, nil)

	retries := make(chan retry, 16)
	d.OnRetry = func(attempt int, delay time.Duration, _ error) {
		retries <- retry{attempt, delay}
	}

	out := make(chan dialOutcome, 1)
	go func() {
		res, err := d.Dial(ctx, domain.Client{Mode: domain.ModeWrite})
		out <- dialOutcome{res, err}
	}()

	var seen []retry
	for {
		select {
		case r := <-retries:
			seen = append(seen, r)
			mock.Add(r.delay)
		case o := <-out:
			return seen, o.res, o.err
		case <-time.After(2 * time.Second):
			t.Fatal("dial did not finish")
		}
	}
}

func delays(rs []retry) []time.Duration {
	var out []time.Duration
	for _, r := range rs {
		out = append(out, r.delay)
	}
	return out
}

func TestDial_BackoffSequence(t *testing.T) {
	p := testutil.NewProvider()
	offline := errors.New("offline")
	p.FailNext(offline, offline, offline, offline, offline)

	rs, res, err := dialWithMock(t, context.Background(), p)

	require.NoError(t, err)
	assert.Equal(t, 6, res.Attempts)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second,
	}, delays(rs))
	assert.Equal(t, 23*time.Second, res.Duration)

	// A fresh dial starts over at one second.
	p.FailNext(offline)
	rs, _, err = dialWithMock(t, context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, delays(rs))
}

func TestDial_RetryAfterOverridesBackoff(t *testing.T) {
	p := testutil.NewProvider()
	offline := errors.New("offline")
	p.FailNext(offline, domain.NewThrottlingError("busy", 5*time.Second), offline)

	mock := clock.NewMock()
	d := NewDialer(p, mock, nil, nil)
	var throttled []time.Duration
	d.OnThrottle = func(delay time.Duration) { throttled = append(throttled, delay) }
	retries := make(chan retry, 16)
	d.OnRetry = func(attempt int, delay time.Duration, _ error) { retries <- retry{attempt, delay} }

	done := make(chan error, 1)
	go func() {
		_, err := d.Dial(context.Background(), domain.Client{})
		done <- err
	}()

	var seen []time.Duration
	for len(seen) < 3 {
		r := <-retries
		seen = append(seen, r.delay)
		mock.Add(r.delay)
	}
	require.NoError(t, <-done)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 2 * time.Second}, seen)
	assert.Equal(t, []time.Duration{5 * time.Second}, throttled)
}

func TestDial_FatalErrorStops(t *testing.T) {
	p := testutil.NewProvider()
	fatal := domain.NewNetworkError("unauthorized", false, 401, 0)
	p.FailNext(errors.New("offline"), fatal)

	rs, _, err := dialWithMock(t, context.Background(), p)

	assert.ErrorIs(t, err, fatal)
	assert.Len(t, rs, 1)
	assert.Len(t, p.Opens(), 2)
}

func TestDial_ContextEndStopsRetrying(t *testing.T) {
	p := testutil.NewProvider()
	p.FailNext(errors.New("offline"))
	mock := clock.NewMock()
	d := NewDialer(p, mock, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.OnRetry = func(int, time.Duration, error) { cancel() }

	_, err := d.Dial(ctx, domain.Client{})

	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.Len(t, p.Opens(), 1)
}
