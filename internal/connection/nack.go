package connection

import (
	"net/http"

	"github.com/bft-labs/opstream/internal/domain"
)

// ShouldReconnectOnNack reports whether a nack still allows reconnecting.
// Forbidden and hard rate limits do not.
func ShouldReconnectOnNack(c *domain.NackContent) bool {
	if c == nil {
		return true
	}
	if c.Code == http.StatusForbidden {
		return false
	}
	if c.Code == http.StatusTooManyRequests && c.Type == domain.NackTypeLimitExceeded {
		return false
	}
	return true
}
