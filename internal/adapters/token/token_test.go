package token

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/domain"
)

func TestInsecureProviderRoundTrip(t *testing.T) {
	p := NewInsecureProvider("secret", domain.User{ID: "alice"}, WithScopes(domain.ScopeDocRead))

	tok, err := p.Token(context.Background(), "fluid", "doc-1")
	require.NoError(t, err)

	claims, err := Verify(tok, "secret")
	require.NoError(t, err)
	assert.Equal(t, "fluid", claims.TenantID)
	assert.Equal(t, "doc-1", claims.DocumentID)
	assert.Equal(t, []string{domain.ScopeDocRead}, claims.Scopes)
	assert.Equal(t, "alice", claims.User.ID)
	assert.Equal(t, "1.0", claims.Version)
	assert.NotEmpty(t, claims.ID)

	unverified, err := ParseClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, claims.Domain(), unverified.Domain())
}

func TestTokenIDsAreUnique(t *testing.T) {
	p := NewInsecureProvider("secret", domain.User{})
	assert.NotEmpty(t, p.User().ID)

	a, err := p.Token(context.Background(), "t", "d")
	require.NoError(t, err)
	b, err := p.Token(context.Background(), "t", "d")
	require.NoError(t, err)

	ca, err := ParseClaims(a)
	require.NoError(t, err)
	cb, err := ParseClaims(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestVerifyRejects(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Now().Add(-2 * time.Hour))
	expired, err := NewInsecureProvider("secret", domain.User{ID: "bob"}, WithClock(mock)).
		Token(context.Background(), "t", "d")
	require.NoError(t, err)

	_, err = Verify(expired, "secret")
	require.Error(t, err)
	assert.False(t, domain.CanRetry(err))
	assert.Contains(t, err.Error(), "token expired")

	valid, err := NewInsecureProvider("secret", domain.User{ID: "bob"}).Token(context.Background(), "t", "d")
	require.NoError(t, err)
	_, err = Verify(valid, "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestParseClaimsRejectsGarbage(t *testing.T) {
	_, err := ParseClaims("not-a-token")
	assert.Error(t, err)
}
