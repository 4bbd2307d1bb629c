// ABOUTME: HTTP surface of the gateway: WS entry, health, ping, auth proxies
// ABOUTME: Thin handlers that delegate to the relay, monitor, and ANF client

package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/keyme/panel-gateway/internal/authz"
)

// maxProxyBody bounds login/logout bodies forwarded upstream.
const maxProxyBody = 1 << 20

// upgrader accepts panels from any origin; authentication happens on the
// token, not the Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", g.handleWS)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /ping", g.handlePing)
	mux.HandleFunc("POST /api/login", g.handleLogin)
	mux.HandleFunc("POST /api/logout", g.handleLogout)
	return mux
}

// handleWS upgrades the panel connection and hands it to the relay. The
// credential and target device ride in query parameters; everything after
// the upgrade, including all error reporting, happens over WebSocket close
// frames.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get(authz.TokenHeader)
	}
	device := r.URL.Query().Get("device")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Info("websocket upgrade failed", "error", err)
		return
	}
	g.relay.Handle(r.Context(), conn, token, device)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.monitor.Report())
}

// handleReady reports whether the critical dependency, the device service
// key, is resolvable. Kubernetes keeps traffic away until it is.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.keys.ServiceKey(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		g.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (g *Gateway) handlePing(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "source": "cloud"})
}

// handleLogin forwards the credential exchange to ANF untouched.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	g.proxyToANF(w, r, "/api/login")
}

// handleLogout drops the caller's cached credential before telling ANF, so
// the token stops working here even if the upstream call fails.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(authz.TokenHeader)
	if token != "" {
		g.validator.Revoke(token)
	}
	g.proxyToANF(w, r, "/api/logout")
}

func (g *Gateway) proxyToANF(w http.ResponseWriter, r *http.Request, path string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		http.Error(w, "request body unreadable", http.StatusBadRequest)
		return
	}

	status, respBody, err := g.anf.Proxy(r.Context(), path, body)
	if err != nil {
		g.logger.Warn("auth proxy failed", "path", path, "error", err)
		g.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "authorization service unavailable"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("writing response", "error", err)
	}
}
