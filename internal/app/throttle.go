package app

import "time"

type retryEndpoint int

const (
	endpointStream retryEndpoint = iota
	endpointStorage
)

// connectedDelay marks an endpoint as reachable again.
const connectedDelay = time.Duration(-1)

// throttle tracks the last delay reported by each endpoint. Zero means the
// endpoint has not reported yet.
type throttle struct {
	stream  time.Duration
	storage time.Duration
}

// update records delay for ep and returns the delay to surface, if any:
// once both endpoints have reported, the larger of the two when it is not
// negative.
func (t *throttle) update(ep retryEndpoint, delay time.Duration) (time.Duration, bool) {
	switch ep {
	case endpointStream:
		t.stream = delay
	case endpointStorage:
		t.storage = delay
	}
	if t.stream == 0 || t.storage == 0 {
		return 0, false
	}
	d := max(t.stream, t.storage)
	if d < 0 {
		return 0, false
	}
	return d, true
}
