package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottleUpdate(t *testing.T) {
	type step struct {
		ep    retryEndpoint
		delay time.Duration
		want  time.Duration
		ok    bool
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "silent until both endpoints report",
			steps: []step{
				{ep: endpointStream, delay: 5 * time.Second},
				{ep: endpointStream, delay: 3 * time.Second},
			},
		},
		{
			name: "larger delay wins",
			steps: []step{
				{ep: endpointStorage, delay: connectedDelay},
				{ep: endpointStream, delay: 4 * time.Second, want: 4 * time.Second, ok: true},
				{ep: endpointStorage, delay: 9 * time.Second, want: 9 * time.Second, ok: true},
			},
		},
		{
			name: "both connected is not throttled",
			steps: []step{
				{ep: endpointStream, delay: connectedDelay},
				{ep: endpointStorage, delay: connectedDelay},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var th throttle
			for i, s := range tt.steps {
				got, ok := th.update(s.ep, s.delay)
				assert.Equal(t, s.ok, ok, "step %d", i)
				assert.Equal(t, s.want, got, "step %d", i)
			}
		})
	}
}
