// Package token mints and reads the access tokens presented to the
// ordering service.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bft-labs/opstream/internal/domain"
)

// DefaultLifetime is how long minted tokens stay valid.
const DefaultLifetime = time.Hour

// tokenVersion is the claims layout version understood by the service.
const tokenVersion = "1.0"

// Provider supplies access tokens for a document.
type Provider interface {
	Token(ctx context.Context, tenantID, documentID string) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, tenantID, documentID string) (string, error)

// Token calls f.
func (f ProviderFunc) Token(ctx context.Context, tenantID, documentID string) (string, error) {
	return f(ctx, tenantID, documentID)
}

// Static always returns tok.
func Static(tok string) Provider {
	return ProviderFunc(func(context.Context, string, string) (string, error) { return tok, nil })
}

// Claims is the JWT payload of a document access token.
type Claims struct {
	DocumentID string      `json:"documentId"`
	TenantID   string      `json:"tenantId"`
	Scopes     []string    `json:"scopes"`
	User       domain.User `json:"user"`
	Version    string      `json:"ver"`
	jwt.RegisteredClaims
}

// Domain converts c to the claims attached to a connection.
func (c *Claims) Domain() domain.Claims {
	return domain.Claims{
		DocumentID: c.DocumentID,
		TenantID:   c.TenantID,
		Scopes:     append([]string(nil), c.Scopes...),
		User:       c.User,
	}
}

// InsecureProvider signs tokens locally with the tenant key. It is meant
// for development services and tests where the key is not a secret.
type InsecureProvider struct {
	key      []byte
	user     domain.User
	scopes   []string
	lifetime time.Duration
	clock    clock.Clock
}

// Option configures an InsecureProvider.
type Option func(*InsecureProvider)

// WithScopes overrides the granted scopes.
func WithScopes(scopes ...string) Option {
	return func(p *InsecureProvider) { p.scopes = scopes }
}

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(p *InsecureProvider) { p.lifetime = d }
}

// WithClock sets the clock used for issue and expiry times.
func WithClock(c clock.Clock) Option {
	return func(p *InsecureProvider) { p.clock = c }
}

// NewInsecureProvider creates a provider signing with key on behalf of user.
// A user without an id gets a random one.
func NewInsecureProvider(key string, user domain.User, opts ...Option) *InsecureProvider {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	p := &InsecureProvider{
		key:      []byte(key),
		user:     user,
		scopes:   []string{domain.ScopeDocRead, domain.ScopeDocWrite, domain.ScopeSummaryWrite},
		lifetime: DefaultLifetime,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// User returns the user tokens are minted for.
func (p *InsecureProvider) User() domain.User { return p.user }

// Token implements Provider.
func (p *InsecureProvider) Token(_ context.Context, tenantID, documentID string) (string, error) {
	now := p.clock.Now()
	claims := Claims{
		DocumentID: documentID,
		TenantID:   tenantID,
		Scopes:     p.scopes,
		User:       p.user,
		Version:    tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseClaims reads the claims of tok without verifying its signature.
func ParseClaims(tok string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// Verify checks the signature and expiry of tok against key.
func Verify(tok, key string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.NewNetworkError("token expired", false, 401, 0)
		}
		return nil, domain.NewNetworkError("invalid token: "+err.Error(), false, 403, 0)
	}
	return claims, nil
}
