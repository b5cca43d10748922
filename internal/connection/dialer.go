package connection

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// Dialer opens connections, retrying retryable failures forever.
type Dialer struct {
	provider ports.ConnectionProvider
	clock    clock.Clock
	logger   log.Logger
	backoff  *Backoff

	// OnRetry is called once the wait before the next attempt is armed.
	OnRetry func(attempt int, delay time.Duration, err error)
	// OnThrottle is called with server-suggested delays.
	OnThrottle func(delay time.Duration)
}

// Result describes a successful Dial.
type Result struct {
	Conn     ports.Connection
	Attempts int
	Duration time.Duration
}

// NewDialer creates a dialer. backoff may be nil for the default delays.
func NewDialer(provider ports.ConnectionProvider, clk clock.Clock, logger log.Logger, backoff *Backoff) *Dialer {
	if clk == nil {
		clk = clock.New()
	}
	if backoff == nil {
		backoff = NewBackoff(DefaultInitialDelay, DefaultMaxDelay)
	}
	return &Dialer{
		provider: provider,
		clock:    clk,
		logger:   log.OrNoop(logger).With(log.Component("dialer")),
		backoff:  backoff,
	}
}

// Dial opens a connection for client. It returns domain.ErrClosed when ctx
// ends, and the provider's error when it is not retryable. Each call starts
// the backoff over. An attempt in progress when ctx ends is not aborted; a
// connection it yields is closed.
func (d *Dialer) Dial(ctx context.Context, client domain.Client) (Result, error) {
	d.backoff.Reset()
	start := d.clock.Now()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return Result{}, domain.ErrClosed
		}

		conn, err := d.provider.Open(context.WithoutCancel(ctx), client)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return Result{}, domain.ErrClosed
		}
		if err == nil {
			res := Result{Conn: conn, Attempts: attempt, Duration: d.clock.Since(start)}
			if attempt > 1 {
				d.logger.Info("connected after retries",
					log.Event("MultipleDeltaConnectionFailures"),
					log.Int("attempts", attempt),
					log.Duration("duration", res.Duration),
				)
			}
			return res, nil
		}

		if !domain.CanRetry(err) {
			d.logger.Error("connect failed", log.Event("DeltaConnectionFailureToConnect"), log.Err(err))
			return Result{}, err
		}

		delay, throttled := domain.RetryDelay(err)
		if !throttled {
			delay = d.backoff.Next()
		}

		// Offline clients fail on every attempt; log only the first.
		if attempt == 1 {
			d.logger.Warn("connect failed, retrying",
				log.Event("DeltaConnectionFailureToConnect"),
				log.Duration("delay", delay),
				log.Err(err),
			)
		}
		if throttled && d.OnThrottle != nil {
			d.OnThrottle(delay)
		}

		timer := d.clock.Timer(delay)
		if d.OnRetry != nil {
			d.OnRetry(attempt, delay, err)
		}
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, domain.ErrClosed
		case <-timer.C:
		}
	}
}
