// Package catchup retrieves ranges of historical deltas from storage in
// bounded pages, with retry and backoff.
package catchup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// Default fetch configuration values.
const (
	DefaultBatchSize         = 2000
	DefaultMissingFetchDelay = 100 * time.Millisecond
	DefaultMaxFetchDelay     = 10 * time.Second
	DefaultMaxRetries        = 100
)

// Config tunes paging and retry.
type Config struct {
	// BatchSize caps the span of a single storage request.
	BatchSize int64
	// MissingFetchDelay is the base of the exponential retry delay.
	MissingFetchDelay time.Duration
	// MaxFetchDelay caps the retry delay.
	MaxFetchDelay time.Duration
	// MaxRetries is how many consecutive empty successful requests are
	// tolerated before giving up.
	MaxRetries int
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:         DefaultBatchSize,
		MissingFetchDelay: DefaultMissingFetchDelay,
		MaxFetchDelay:     DefaultMaxFetchDelay,
		MaxRetries:        DefaultMaxRetries,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MissingFetchDelay <= 0 {
		c.MissingFetchDelay = d.MissingFetchDelay
	}
	if c.MaxFetchDelay <= 0 {
		c.MaxFetchDelay = d.MaxFetchDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
}

// Request names the half-open range (From, To) to fetch.
// To <= 0 means up to the head of history.
type Request struct {
	From   int64
	To     int64
	Reason string
}

// Fetcher pulls deltas from storage.
type Fetcher struct {
	provider ports.StorageProvider
	clock    clock.Clock
	logger   log.Logger
	cfg      Config

	// OnThrottle, when set, receives server-suggested delays.
	// It must be set before the first fetch.
	OnThrottle func(delay time.Duration)

	mu       sync.Mutex
	storage  ports.DeltaStorage
	fetching atomic.Bool
}

// New creates a fetcher.
func New(provider ports.StorageProvider, clk clock.Clock, logger log.Logger, cfg Config) *Fetcher {
	cfg.setDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Fetcher{
		provider: provider,
		clock:    clk,
		logger:   log.OrNoop(logger).With(log.Component("catchup")),
		cfg:      cfg,
	}
}

// Fetching reports whether a Start-ed fetch is in flight.
func (f *Fetcher) Fetching() bool {
	return f.fetching.Load()
}

// Start runs Fetch on a new goroutine unless one is already in flight.
// done receives the result of Fetch. It returns false if it did nothing.
func (f *Fetcher) Start(ctx context.Context, req Request, deliver func([]domain.SequencedMessage), done func(error)) bool {
	if !f.fetching.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		err := f.Fetch(ctx, req, deliver)
		f.fetching.Store(false)
		if done != nil {
			done(err)
		}
	}()
	return true
}

// Fetch retrieves req's range page by page, handing each non-empty page to
// deliver as soon as it arrives. It returns domain.ErrClosed when ctx ends,
// the storage error when it is not retryable, and a critical error after
// MaxRetries consecutive empty successful requests.
//
// An in-flight storage request is not cancelled by ctx; its result is
// discarded.
func (f *Fetcher) Fetch(ctx context.Context, req Request, deliver func([]domain.SequencedMessage)) error {
	event := "GetDeltas_" + req.Reason
	from, to := req.From, req.To
	start := f.clock.Now()

	var retry, requests, total int

	f.logger.Debug("fetching deltas",
		log.Event(event+"_start"),
		log.Int64("from", from),
		log.Int64("to", to),
	)

	for {
		if ctx.Err() != nil {
			f.logger.Debug("fetch abandoned", log.Event("GetDeltasClosedConnection"))
			return domain.ErrClosed
		}

		maxFetchTo := from + f.cfg.BatchSize
		fetchTo := maxFetchTo
		if to > 0 && to < maxFetchTo {
			fetchTo = to
		}

		got := 0
		success := true
		retryAfter := time.Duration(-1)

		storage, err := f.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ErrClosed
			}
			f.logger.Error("failed to connect to delta storage", log.Event("GetDeltas_Error"), log.Err(err))
			return err
		}

		requests++
		msgs, err := storage.Get(context.WithoutCancel(ctx), from, fetchTo)
		if ctx.Err() != nil {
			return domain.ErrClosed
		}

		if err != nil {
			f.logger.Warn("failed to get deltas",
				log.Event("GetDeltas_Error"),
				log.Int64("from", from),
				log.Int64("fetchTo", fetchTo),
				log.Int("requests", requests),
				log.Int("retry", retry+1),
				log.Err(err),
			)
			if !domain.CanRetry(err) {
				return err
			}
			success = false
			if d, ok := domain.RetryDelay(err); ok {
				retryAfter = d
			}
		} else {
			got = len(msgs)
			total += got
			lastFetch := from
			if got > 0 {
				lastFetch = msgs[got-1].SequenceNumber
				deliver(msgs)
			}

			// More than asked for can come back, so compare with >=.
			if (to <= 0 && lastFetch < maxFetchTo-1) || (to > 0 && to-1 <= lastFetch) {
				f.logger.Debug("fetched deltas",
					log.Event(event+"_end"),
					log.Int64("lastFetch", lastFetch),
					log.Int("deltasRetrievedTotal", total),
					log.Int("requests", requests),
					log.Duration("duration", f.clock.Since(start)),
				)
				return nil
			}
			from = lastFetch
		}

		var delay time.Duration
		if got != 0 {
			retry = 0
		} else {
			retry++
			if retryAfter >= 0 {
				delay = retryAfter
			} else {
				delay = f.backoff(retry)
			}

			if success && retry >= f.cfg.MaxRetries {
				cerr := domain.NewNetworkError("failed to retrieve ops from storage: giving up after too many retries", false, 0, 0)
				cerr.Critical = true
				f.logger.Error("giving up on storage",
					log.Event(event+"_cancel"),
					log.Int("retry", retry),
					log.Int("requests", requests),
					log.Int("deltasRetrievedTotal", total),
					log.Int64("replayFrom", from),
					log.Int64("to", to),
				)
				return cerr
			}
		}

		if retryAfter >= 0 && f.OnThrottle != nil {
			f.OnThrottle(delay)
		}

		if delay > 0 && !f.sleep(ctx, delay) {
			return domain.ErrClosed
		}
	}
}

// backoff returns min(MaxFetchDelay, MissingFetchDelay * 2^retry).
func (f *Fetcher) backoff(retry int) time.Duration {
	d := f.cfg.MissingFetchDelay
	for i := 0; i < retry && d < f.cfg.MaxFetchDelay; i++ {
		d *= 2
	}
	if d > f.cfg.MaxFetchDelay {
		d = f.cfg.MaxFetchDelay
	}
	return d
}

func (f *Fetcher) connect(ctx context.Context) (ports.DeltaStorage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storage != nil {
		return f.storage, nil
	}
	s, err := f.provider.ConnectToDeltaStorage(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	f.storage = s
	return s, nil
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) bool {
	t := f.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
