// ABOUTME: Connect-time token validation against ANF with a shared TTL cache
// ABOUTME: Maps upstream outcomes onto the session-fatal auth error taxonomy

package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/keyme/panel-gateway/internal/ttlcache"
)

// ConnectSlug is the fixed capability every gateway connection requires.
const ConnectSlug = "admin_access"

// Auth errors. All of them close the session before any backend dial.
var (
	ErrMissingToken           = errors.New("missing token")
	ErrUpstream               = errors.New("token validation unreachable")
	ErrInvalidToken           = errors.New("invalid or expired token")
	ErrInsufficientPermission = errors.New("insufficient permissions")
)

// Validator performs connect-time validation of opaque KeyMe tokens. One
// instance serves both the HTTP login/logout surface and the relay
// goroutines; the injected cache is the single source of truth for trusted
// tokens, so Revoke here is immediately visible to every caller.
type Validator struct {
	client  *Client
	cache   *ttlcache.Cache
	relaxed bool
	logger  *slog.Logger
}

// NewValidator creates a token validator. In relaxed mode (staging) only
// token validity is required: a 200 from ANF passes even when the connect
// capability itself is not granted.
func NewValidator(client *Client, cache *ttlcache.Cache, relaxed bool, logger *slog.Logger) *Validator {
	return &Validator{
		client:  client,
		cache:   cache,
		relaxed: relaxed,
		logger:  logger.With("component", "authz"),
	}
}

// Validate checks the credential and returns its grant record. Results are
// cached under the token for the cache TTL; a cached, non-expired grant
// performs no upstream call.
func (v *Validator) Validate(ctx context.Context, token string) (Grant, error) {
	if token == "" {
		return Grant{}, ErrMissingToken
	}

	if cached, ok := v.cache.Get(token); ok {
		if grant, ok := cached.(Grant); ok {
			return grant, nil
		}
	}

	grant, status, err := v.client.CheckPermission(ctx, token, ConnectSlug)
	if err != nil {
		v.logger.Warn("ANF permission check failed", "error", err)
		return Grant{}, ErrUpstream
	}
	if status != http.StatusOK {
		v.logger.Info("ANF rejected token", "status", status)
		return Grant{}, ErrInvalidToken
	}
	if !grant.Granted && !v.relaxed {
		v.logger.Info("connect permission not granted", "slug", ConnectSlug)
		return Grant{}, ErrInsufficientPermission
	}

	v.cache.Set(token, grant)
	return grant, nil
}

// Revoke evicts a credential's connect-time entry so the token is no longer
// trusted locally. Used by the logout proxy.
func (v *Validator) Revoke(token string) {
	if token == "" {
		return
	}
	v.cache.Pop(token)
}
