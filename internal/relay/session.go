// ABOUTME: Relay session state machine from authenticated panel to kiosk backend
// ABOUTME: Owns dial retry, the staging gate, per-command checks, and teardown

package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/keyme/panel-gateway/internal/authz"
	"github.com/keyme/panel-gateway/internal/device"
)

// Backend endpoint every kiosk serves.
const (
	DevicePort = 2026
	DevicePath = "/ws"
)

// maxMessageSize bounds frames in both directions. Calibration payloads run
// to a few megabytes; anything past this is a protocol violation.
const maxMessageSize = 10 << 20

// Application close codes on the panel connection.
const (
	CloseInvalidDevice   = 4400
	CloseAuthFailure     = 4401
	CloseStagingDeployed = 4403
	CloseServerConfig    = 4500
)

const deployedCloseReason = "Staging gateway cannot connect to a deployed kiosk"

// closeWriteWait bounds the courtesy close frame before tearing down.
const closeWriteWait = 5 * time.Second

// TokenValidator validates the panel credential at connect time.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (authz.Grant, error)
}

// PermissionChecker answers per-command capability checks during the session.
type PermissionChecker interface {
	Check(ctx context.Context, token, slug string) (granted bool, user string)
}

// CertStore resolves device TLS material.
type CertStore interface {
	TLSConfig(ctx context.Context, id device.Identity) (*tls.Config, bool)
	Refresh(ctx context.Context, id device.Identity) error
}

// KeySource provides the service key presented to the kiosk.
type KeySource interface {
	ServiceKey(ctx context.Context) (string, error)
}

// Dialer opens the backend WebSocket. The TLS config is per-device.
type Dialer interface {
	Dial(ctx context.Context, urlStr string, header http.Header, tlsCfg *tls.Config) (*websocket.Conn, error)
}

// WSDialer is the production Dialer.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, urlStr string, header http.Header, tlsCfg *tls.Config) (*websocket.Conn, error) {
	wd := websocket.Dialer{
		TLSClientConfig:  tlsCfg,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := wd.DialContext(ctx, urlStr, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// Relay holds the collaborators shared by every session.
type Relay struct {
	Validator TokenValidator
	Checker   PermissionChecker
	Certs     CertStore
	Keys      KeySource
	Dialer    Dialer
	Counter   *Counter

	// Restrictive enables the staging deployed-kiosk gate.
	Restrictive bool
	GateTimeout time.Duration

	Logger *slog.Logger
}

// Handle runs one relay session over an already-upgraded panel connection.
// It owns the panel connection from here on and always closes it.
func (r *Relay) Handle(ctx context.Context, panel *websocket.Conn, token, rawDevice string) {
	s := &session{
		relay:     r,
		panel:     panel,
		token:     token,
		logger:    r.Logger.With("component", "relay", "session", uuid.NewString()),
		devFrames: make(chan devFrame),
		devErr:    make(chan error, 1),
		done:      make(chan struct{}),
	}
	s.run(ctx, rawDevice)
}

type session struct {
	relay  *Relay
	panel  *websocket.Conn
	device *websocket.Conn
	token  string
	logger *slog.Logger

	// Device frames flow through one reader goroutine so the gate and the
	// live relay never compete for ReadMessage.
	devFrames chan devFrame
	devErr    chan error
	done      chan struct{}

	panelMu  sync.Mutex
	teardown sync.Once
	counted  bool
}

type devFrame struct {
	mt   int
	data []byte
}

func (s *session) run(ctx context.Context, rawDevice string) {
	defer s.close()

	grant, err := s.relay.Validator.Validate(ctx, s.token)
	if err != nil {
		s.logger.Info("connection rejected", "error", err)
		s.closePanel(CloseAuthFailure, authReason(err))
		return
	}

	id, err := device.Resolve(rawDevice)
	if err != nil {
		s.logger.Info("connection rejected", "device", rawDevice, "error", err)
		s.closePanel(CloseInvalidDevice, "invalid device")
		return
	}
	s.logger = s.logger.With("device", id.FQDN)
	if u := grant.UserIdentifier(); u != "" {
		s.logger = s.logger.With("user", u)
	}

	tlsCfg, pinned := s.relay.Certs.TLSConfig(ctx, id)
	if !pinned {
		s.logger.Warn("dialing without certificate pinning")
	}

	s.relay.Counter.Increment()
	s.counted = true

	key, err := s.relay.Keys.ServiceKey(ctx)
	if err != nil {
		s.logger.Error("service key unavailable", "error", err)
		s.closePanel(CloseServerConfig, "server configuration error")
		return
	}

	dev, err := s.dial(ctx, id, key, tlsCfg)
	if err != nil {
		reason := classifyDialError(err)
		s.logger.Warn("backend dial failed", "reason", reason, "error", err)
		s.closePanel(websocket.CloseInternalServerErr, reason)
		return
	}
	s.device = dev
	s.panel.SetReadLimit(maxMessageSize)
	s.device.SetReadLimit(maxMessageSize)
	s.logger.Info("session established")

	go s.readDevice()

	if s.relay.Restrictive {
		proceed := s.stagingGate()
		if !proceed {
			return
		}
	}

	s.pump(ctx)
}

// dial connects to the kiosk, refreshing the pinned certificate and retrying
// once when the first attempt fails. Only the initial dial retries; anything
// after the session is live fails the session.
func (s *session) dial(ctx context.Context, id device.Identity, key string, tlsCfg *tls.Config) (*websocket.Conn, error) {
	urlStr := fmt.Sprintf("wss://%s:%d%s", id.FQDN, DevicePort, DevicePath)
	header := http.Header{"Authorization": {"Bearer " + key}}

	conn, err := s.relay.Dialer.Dial(ctx, urlStr, header, tlsCfg)
	if err == nil {
		return conn, nil
	}

	// The kiosk may have rotated its certificate since we cached it.
	if refreshErr := s.relay.Certs.Refresh(ctx, id); refreshErr != nil {
		s.logger.Warn("certificate refresh failed", "error", refreshErr)
		return nil, err
	}
	tlsCfg, _ = s.relay.Certs.TLSConfig(ctx, id)
	s.logger.Info("retrying dial with refreshed certificate")
	return s.relay.Dialer.Dial(ctx, urlStr, header, tlsCfg)
}

// readDevice is the session's only reader of the backend connection. It
// feeds frames to whoever currently owns the device side (gate, then relay)
// and parks the terminal error for them.
func (s *session) readDevice() {
	for {
		mt, data, err := s.device.ReadMessage()
		if err != nil {
			s.devErr <- err
			return
		}
		select {
		case s.devFrames <- devFrame{mt: mt, data: data}:
		case <-s.done:
			return
		}
	}
}

// stagingGate probes the kiosk for its deployment state before relaying.
// Frames the kiosk sends before answering are buffered and flushed in order.
// No answer within the gate timeout fails open. Returns false when the
// session must not proceed.
func (s *session) stagingGate() bool {
	if err := s.device.WriteMessage(websocket.TextMessage, ProbeFrame()); err != nil {
		s.logger.Warn("gate probe write failed", "error", err)
		s.closePanel(websocket.CloseInternalServerErr, "device connection lost")
		return false
	}

	timeout := s.relay.GateTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var held []devFrame
wait:
	for {
		select {
		case f := <-s.devFrames:
			if deployed, ok := ParseProbeReply(f.data); ok {
				if deployed {
					s.logger.Info("deployed kiosk blocked by staging gate")
					s.closePanel(CloseStagingDeployed, deployedCloseReason)
					return false
				}
				break wait
			}
			held = append(held, f)
		case err := <-s.devErr:
			s.logger.Warn("device closed during gate probe", "error", err)
			s.closePanel(websocket.CloseInternalServerErr, "device connection lost")
			return false
		case <-timer.C:
			s.logger.Warn("gate probe timed out, proceeding")
			break wait
		}
	}

	for _, f := range held {
		if err := s.writePanel(f.mt, f.data); err != nil {
			s.logger.Warn("panel write failed flushing gate buffer", "error", err)
			return false
		}
	}
	return true
}

// pump runs the bidirectional relay until either side fails or closes.
// The first goroutine to finish closes both connections, which unblocks the
// other; teardown itself runs exactly once.
func (s *session) pump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := s.panelToDevice(ctx)
		s.finish("panel", err)
	}()
	go func() {
		defer wg.Done()
		err := s.deviceToPanel()
		s.finish("device", err)
	}()

	wg.Wait()
}

// finish logs the side that ended the session and tears both conns down.
func (s *session) finish(side string, err error) {
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Info("session ended", "side", side, "error", err)
	} else {
		s.logger.Info("session closed", "side", side)
	}
	s.close()
}

func (s *session) panelToDevice(ctx context.Context) error {
	for {
		mt, data, err := s.panel.ReadMessage()
		if err != nil {
			return err
		}
		if mt == websocket.TextMessage {
			if req, ok := ParseRequest(data); ok {
				if slug := RequiredPermission(req.Event); slug != "" {
					granted, user := s.relay.Checker.Check(ctx, s.token, slug)
					if !granted {
						s.logger.Info("command denied", "event", req.Event, "slug", slug)
						if werr := s.writePanel(websocket.TextMessage, ErrorResponse(req.ID, DenialMessage(slug, user))); werr != nil {
							return werr
						}
						continue
					}
				}
			}
		}
		if err := s.device.WriteMessage(mt, data); err != nil {
			return err
		}
	}
}

func (s *session) deviceToPanel() error {
	for {
		select {
		case f := <-s.devFrames:
			if err := s.writePanel(f.mt, f.data); err != nil {
				return err
			}
		case err := <-s.devErr:
			return err
		}
	}
}

// writePanel serializes panel writes; denials and relayed frames come from
// different goroutines.
func (s *session) writePanel(mt int, data []byte) error {
	s.panelMu.Lock()
	defer s.panelMu.Unlock()
	return s.panel.WriteMessage(mt, data)
}

// closePanel sends a close frame with the given application code, then tears
// the session down.
func (s *session) closePanel(code int, reason string) {
	s.panelMu.Lock()
	_ = s.panel.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteWait))
	s.panelMu.Unlock()
	s.close()
}

// close releases the session's connections and counter slot exactly once.
func (s *session) close() {
	s.teardown.Do(func() {
		close(s.done)
		_ = s.panel.Close()
		if s.device != nil {
			_ = s.device.Close()
		}
		if s.counted {
			s.relay.Counter.Decrement()
		}
	})
}

// authReason maps the connect-time auth taxonomy onto short close reasons.
func authReason(err error) string {
	switch {
	case errors.Is(err, authz.ErrMissingToken):
		return "missing token"
	case errors.Is(err, authz.ErrUpstream):
		return "token validation unavailable"
	case errors.Is(err, authz.ErrInsufficientPermission):
		return "insufficient permissions"
	default:
		return "invalid token"
	}
}

// classifyDialError collapses backend connect failures into the reason
// strings the panel surfaces to operators.
func classifyDialError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "tls") || strings.Contains(msg, "x509") || strings.Contains(msg, "certificate"):
		return "ssl"
	case strings.Contains(msg, "connection refused"):
		return "refused"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "unreachable"):
		return "port"
	default:
		return strings.TrimSpace(err.Error())
	}
}
