// ABOUTME: Wire envelope for the panel <-> kiosk JSON command protocol
// ABOUTME: Parses command frames, builds denial responses and the panel-info probe

package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a panel command frame. Everything else on the wire (including
// frames this fails to parse) is passed through untouched; the gateway only
// needs the event name for authorization and the id for denial responses.
type Request struct {
	ID    json.RawMessage `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseRequest decodes a panel frame as a command when it is a JSON object
// with a string event field. ok is false for anything else; such frames are
// relayed verbatim.
func ParseRequest(data []byte) (Request, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Request{}, false
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, false
	}
	if req.Event == "" {
		return Request{}, false
	}
	return req, true
}

// ErrorResponse builds the denial frame sent back to the panel in place of
// a refused command. id is echoed verbatim so the panel can correlate.
func ErrorResponse(id json.RawMessage, message string) []byte {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	out, err := json.Marshal(struct {
		ID      json.RawMessage `json:"id"`
		Success bool            `json:"success"`
		Errors  []string        `json:"errors"`
	}{ID: id, Success: false, Errors: []string{message}})
	if err != nil {
		// Marshal of these types cannot fail; keep the escape hatch anyway.
		return []byte(`{"id":null,"success":false,"errors":["internal error"]}`)
	}
	return out
}

// DenialMessage formats the refusal text for a gated command. The user
// identifier is included when the upstream check returned one.
func DenialMessage(slug, user string) string {
	msg := fmt.Sprintf("Permission denied: '%s' is required", slug)
	if user != "" {
		msg += " for " + user
	}
	return msg
}

// Panel-info probe, used by the staging gate. The kiosk answers requests it
// did not originate with the same id, so the probe uses a reserved one.
const (
	probeID    = 0
	probeEvent = "get_panel_info"
)

// ProbeFrame returns the get_panel_info request the gate sends on connect.
func ProbeFrame() []byte {
	return []byte(fmt.Sprintf(`{"id":%d,"event":%q}`, probeID, probeEvent))
}

// probeReply is the kiosk's answer to the panel-info probe.
type probeReply struct {
	ID      json.RawMessage `json:"id"`
	Success bool            `json:"success"`
	Data    struct {
		Deployed bool `json:"deployed"`
	} `json:"data"`
}

// ParseProbeReply reports whether the frame answers the gate probe and, when
// it does, whether the kiosk declares itself deployed.
func ParseProbeReply(data []byte) (deployed bool, ok bool) {
	var reply probeReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return false, false
	}
	if strings.TrimSpace(string(reply.ID)) != "0" {
		return false, false
	}
	if !reply.Success {
		return false, true
	}
	return reply.Data.Deployed, true
}
