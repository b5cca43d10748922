package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/adapters/token"
	"github.com/bft-labs/opstream/internal/domain"
)

func TestGetDeltas(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		_ = json.NewEncoder(w).Encode([]domain.SequencedMessage{
			{ClientID: "a", SequenceNumber: 6, Type: domain.MessageTypeOp},
			{ClientID: "a", SequenceNumber: 7, Type: domain.MessageTypeOp},
		})
	}))
	defer srv.Close()

	s := NewDeltaStorage(Config{BaseURL: srv.URL + "/", TenantID: "fluid", DocumentID: "doc 1"}, srv.Client(), token.Static("tok"), nil)

	msgs, err := s.Get(context.Background(), 5, 8)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(6), msgs[0].SequenceNumber)
	mu.Lock()
	assert.Equal(t, "/deltas/fluid/doc 1", gotPath)
	assert.Equal(t, "from=5&to=8", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
	mu.Unlock()

	_, err = s.Get(context.Background(), 5, 0)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, "from=5", gotQuery)
	mu.Unlock()
}

func TestGetDeltasClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   string
		canRetry bool
		delay    time.Duration
	}{
		{name: "throttled", status: http.StatusTooManyRequests, header: "7", canRetry: true, delay: 7 * time.Second},
		{name: "unauthorized", status: http.StatusUnauthorized, canRetry: false},
		{name: "forbidden", status: http.StatusForbidden, canRetry: false},
		{name: "not found", status: http.StatusNotFound, canRetry: false},
		{name: "server error", status: http.StatusBadGateway, canRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			s := NewDeltaStorage(Config{BaseURL: srv.URL, TenantID: "t", DocumentID: "d"}, srv.Client(), nil, nil)
			_, err := s.Get(context.Background(), 0, 10)
			require.Error(t, err)
			assert.Equal(t, tt.canRetry, domain.CanRetry(err))
			d, _ := domain.RetryDelay(err)
			assert.Equal(t, tt.delay, d)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestGetDeltasBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	s := NewDeltaStorage(Config{BaseURL: srv.URL}, srv.Client(), nil, nil)
	_, err := s.Get(context.Background(), 0, 10)
	require.Error(t, err)
	assert.True(t, domain.CanRetry(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 30*time.Second)
}
