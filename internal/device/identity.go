// ABOUTME: Normalizes user-supplied kiosk references into canonical device identities
// ABOUTME: Produces the short name, FQDN, and upper-case storage key component

package device

import (
	"errors"
	"strings"
)

// KioskDomainSuffix is appended to bare kiosk names to form the
// fully-qualified hostname the device serves WSS on.
const KioskDomainSuffix = ".keymekiosk.com"

// ErrInvalidDevice reports an empty or unusable device reference.
var ErrInvalidDevice = errors.New("invalid device")

// Identity is the canonical form of a kiosk reference. Short is the name
// before the first dot, FQDN the dialable hostname, and Upper the
// upper-cased short name used as the S3 key component for device certs.
type Identity struct {
	Short string
	FQDN  string
	Upper string
}

// Resolve normalizes a raw host string into an Identity. An optional scheme
// and trailing path are stripped; names without a dot get the kiosk domain
// suffix appended. Returns ErrInvalidDevice when nothing usable remains.
func Resolve(raw string) (Identity, error) {
	host := strings.TrimSpace(raw)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return Identity{}, ErrInvalidDevice
	}

	fqdn := host
	if !strings.Contains(host, ".") {
		fqdn = host + KioskDomainSuffix
	}
	short, _, _ := strings.Cut(fqdn, ".")

	return Identity{
		Short: short,
		FQDN:  fqdn,
		Upper: strings.ToUpper(short),
	}, nil
}
