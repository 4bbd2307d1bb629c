// ABOUTME: Per-command permission checks consulted by the relay for gated fleet events
// ABOUTME: Never fails the caller; any upstream trouble degrades to a denial

package authz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/keyme/panel-gateway/internal/ttlcache"
)

// checkResult is what the per-command cache stores for a (token, slug) pair.
type checkResult struct {
	granted bool
	user    string
}

// Checker validates (credential, capability) pairs during a relay session.
// Unlike connect-time validation it must never abort the caller: a transient
// ANF outage degrades to refusing gated commands, not to dropping the relay.
type Checker struct {
	client  *Client
	cache   *ttlcache.Cache
	relaxed bool
	logger  *slog.Logger
}

// NewChecker creates a permission checker. In relaxed mode every check is
// granted without calling upstream.
func NewChecker(client *Client, cache *ttlcache.Cache, relaxed bool, logger *slog.Logger) *Checker {
	return &Checker{
		client:  client,
		cache:   cache,
		relaxed: relaxed,
		logger:  logger.With("component", "authz"),
	}
}

// Check reports whether the credential holds the capability, together with
// the user identifier ANF attached when available. Results are cached per
// (token, slug) pair for the cache TTL.
func (c *Checker) Check(ctx context.Context, token, slug string) (bool, string) {
	if c.relaxed {
		return true, ""
	}
	if token == "" {
		return false, ""
	}

	key := token + "\x00" + slug
	if cached, ok := c.cache.Get(key); ok {
		if res, ok := cached.(checkResult); ok {
			return res.granted, res.user
		}
	}

	grant, status, err := c.client.CheckPermission(ctx, token, slug)
	if err != nil {
		c.logger.Warn("permission check unreachable, denying", "slug", slug, "error", err)
		return false, ""
	}
	if status != http.StatusOK {
		c.logger.Info("permission check rejected", "slug", slug, "status", status)
		return false, ""
	}

	res := checkResult{granted: grant.Granted, user: grant.UserIdentifier()}
	c.cache.Set(key, res)
	return res.granted, res.user
}
