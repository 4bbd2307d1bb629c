// Package authz validates opaque KeyMe tokens and fleet-command permissions
// against the ANF authorization service.
//
// # Overview
//
// Tokens are opaque bearer credentials: never parsed or decoded here, only
// used as cache keys and forwarded verbatim in the KEYME-TOKEN header. Two
// service objects cover the two call sites:
//
//   - Validator: connect-time validation of the fixed admin_access
//     capability, once per gateway connection. Failures are session-fatal
//     and map onto the ErrMissingToken / ErrUpstream / ErrInvalidToken /
//     ErrInsufficientPermission taxonomy.
//   - Checker: per-command (token, slug) checks during a relay session.
//     Never returns an error; transport failures and rejections both come
//     back as a plain denial so a flaky upstream cannot kill the relay.
//
// # Caching
//
// Both objects take injected ttlcache instances (300 s TTL in production
// wiring) and perform zero upstream calls on a cache hit. The validator's
// cache doubles as the local trust set: Revoke (the logout path) pops the
// entry so the next validation re-queries ANF.
//
// # Relaxed Mode
//
// Staging deployments run relaxed: Validate accepts any token ANF answers
// 200 for, and Check grants everything without calling upstream. The
// deployed-kiosk handshake gate in the relay is the compensating control.
//
// # Upstream Calls
//
// Every ANF call is bounded to 10 seconds. The Client also proxies login
// and logout bodies for the HTTP surface.
package authz
