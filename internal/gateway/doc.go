// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes the HTTP surface and component wiring

// Package gateway assembles the panel gateway: the WebSocket entry point,
// the health and readiness endpoints, and the thin login/logout proxies to
// the ANF authorization service.
//
// # Endpoints
//
//   - GET  /ws            upgrade and relay a panel session (token + device
//     query parameters)
//   - GET  /health        capacity report, unauthenticated
//   - GET  /health/ready  200 once the device service key is resolvable
//   - GET  /ping          liveness echo for the panel's cloud check
//   - POST /api/login     proxied to ANF verbatim
//   - POST /api/logout    local credential revocation, then proxied to ANF
//
// The gateway serves no static assets; the control panel is hosted
// elsewhere and reaches this service cross-origin.
package gateway
