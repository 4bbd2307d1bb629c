// ABOUTME: Capability table mapping panel fleet events to permission slugs
// ABOUTME: Events not listed here relay without a per-command check

package relay

// gatedEvents maps each permission-gated panel event to the capability slug
// the credential must hold. Everything else rides on the connect-time grant.
var gatedEvents = map[string]string{
	"fleet_reboot_kiosk":        "reboot_kiosk",
	"fleet_clear_cutter_stuck":  "clear_cutter_stuck",
	"fleet_restart_process":     "restart_restart_all_process",
	"fleet_reset_device":        "reset_all_cameras_device",
	"fleet_switch_process_list": "switch_processes",
}

// RequiredPermission returns the capability slug a panel event is gated on,
// or "" when the event is ungated.
func RequiredPermission(event string) string {
	return gatedEvents[event]
}
