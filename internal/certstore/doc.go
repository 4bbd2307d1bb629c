// ABOUTME: Package documentation for the device certificate store
// ABOUTME: Explains the S3 layout, caching, and the unpinned fallback

// Package certstore resolves per-device TLS certificates for dialing kiosks.
//
// Each kiosk serves its WebSocket endpoint with a self-issued certificate
// whose public half is published to S3 under wss_certs/{DEVICE}/{fqdn}.crt.
// The store fetches that object on first use, builds a tls.Config pinned to
// it, and caches both so repeat sessions to the same device cost nothing.
//
// # Fallback
//
// A missing or unparsable certificate does not block the session: the store
// hands back a config that skips verification and logs the degraded mode.
// That config is per-attempt and never cached, so the next session fetches
// again and pinning resumes as soon as the certificate is readable.
// Callers that hit a TLS failure on dial can Invalidate the device and ask
// again, which refetches from S3; that is how certificate rotation on the
// kiosk is picked up mid-fleet.
package certstore
