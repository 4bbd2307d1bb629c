// ABOUTME: Package documentation for the relay
// ABOUTME: Describes the session lifecycle, gate, and close-code contract

// Package relay moves WebSocket traffic between an authenticated control
// panel and a kiosk backend.
//
// A session validates the panel credential, resolves the kiosk identity,
// dials wss://{fqdn}:2026/ws with the fleet service key and the device's
// pinned certificate, and then pumps frames both ways until either side
// goes away. Panel frames that name a gated fleet event are checked against
// the credential before forwarding; a refused command turns into an error
// frame back to the panel and is never seen by the kiosk.
//
// # Close codes
//
// The panel connection closes with 4400 for an unusable device reference,
// 4401 for any credential failure, 4403 when the staging gate refuses a
// deployed kiosk, 4500 when the gateway itself is misconfigured, and 1011
// with a short classified reason (ssl, refused, port, or the literal error)
// when the kiosk cannot be reached.
//
// # Staging gate
//
// In restrictive mode the session probes the kiosk's deployment state
// before relaying. Frames the kiosk emits before answering are held and
// flushed to the panel in arrival order. A kiosk that never answers within
// the gate timeout is let through.
package relay
