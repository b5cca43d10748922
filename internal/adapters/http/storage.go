package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/opstream/internal/adapters/token"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

const deltasEndpoint = "/deltas"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Config locates the delta storage of one document.
type Config struct {
	// BaseURL of the storage service, e.g. http://localhost:3001.
	BaseURL    string
	TenantID   string
	DocumentID string
	// UserAgent is sent with every request.
	UserAgent string
}

// DeltaStorage reads historical ops over HTTP. It implements
// ports.DeltaStorage and ports.StorageProvider.
type DeltaStorage struct {
	cfg    Config
	client ports.HTTPClient
	tokens token.Provider
	logger log.Logger
}

// NewDeltaStorage creates a delta storage client.
func NewDeltaStorage(cfg Config, client ports.HTTPClient, tokens token.Provider, logger log.Logger) *DeltaStorage {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "opstream (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &DeltaStorage{
		cfg:    cfg,
		client: client,
		tokens: tokens,
		logger: log.OrNoop(logger).With(log.Component("deltastorage")),
	}
}

// ConnectToDeltaStorage implements ports.StorageProvider.
func (s *DeltaStorage) ConnectToDeltaStorage(context.Context) (ports.DeltaStorage, error) {
	return s, nil
}

// Get implements ports.DeltaStorage. to <= 0 leaves the range open.
func (s *DeltaStorage) Get(ctx context.Context, from, to int64) ([]domain.SequencedMessage, error) {
	req, err := s.newRequest(ctx, from, to)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("get deltas: "+err.Error(), true, 0, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("get deltas (%d, %d): %s", from, to, strings.TrimSpace(string(body)))
		return nil, domain.NewStatusError(msg, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var msgs []domain.SequencedMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, domain.NewNetworkError("decode deltas: "+err.Error(), true, resp.StatusCode, 0)
	}
	s.logger.Debug("fetched deltas", log.Int64("from", from), log.Int64("to", to), log.Int("count", len(msgs)))
	return msgs, nil
}

func (s *DeltaStorage) newRequest(ctx context.Context, from, to int64) (*http.Request, error) {
	u := s.cfg.BaseURL + deltasEndpoint + "/" + url.PathEscape(s.cfg.TenantID) + "/" + url.PathEscape(s.cfg.DocumentID)
	q := url.Values{}
	q.Set("from", strconv.FormatInt(from, 10))
	if to > 0 {
		q.Set("to", strconv.FormatInt(to, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.NewFatalError("create request: " + err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	if s.tokens != nil {
		tok, err := s.tokens.Token(ctx, s.cfg.TenantID, s.cfg.DocumentID)
		if err != nil {
			return nil, domain.NewNetworkError("fetch token: "+err.Error(), true, 0, 0)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// parseRetryAfter reads a Retry-After header in seconds or as an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
