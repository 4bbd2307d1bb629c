// ABOUTME: Tests for device identity resolution
// ABOUTME: Covers scheme/path stripping, suffix appending, casing, and rejection of empty input

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_BareName(t *testing.T) {
	id, err := Resolve("ns9999")
	assert.NoError(t, err)
	assert.Equal(t, "ns9999", id.Short)
	assert.Equal(t, "ns9999.keymekiosk.com", id.FQDN)
	assert.Equal(t, "NS9999", id.Upper)
}

func TestResolve_AlreadyQualified(t *testing.T) {
	id, err := Resolve("ns9999.keymekiosk.com")
	assert.NoError(t, err)
	assert.Equal(t, "ns9999", id.Short)
	assert.Equal(t, "ns9999.keymekiosk.com", id.FQDN)
}

func TestResolve_StripsSchemeAndPath(t *testing.T) {
	id, err := Resolve("wss://ns9999.keymekiosk.com/ws")
	assert.NoError(t, err)
	assert.Equal(t, "ns9999.keymekiosk.com", id.FQDN)

	id, err = Resolve("https://ns0042/some/path")
	assert.NoError(t, err)
	assert.Equal(t, "ns0042.keymekiosk.com", id.FQDN)
}

func TestResolve_Lowercases(t *testing.T) {
	id, err := Resolve("NS9999")
	assert.NoError(t, err)
	assert.Equal(t, "ns9999", id.Short)
	assert.Equal(t, "NS9999", id.Upper)
}

func TestResolve_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "https:///path", "wss://"} {
		_, err := Resolve(raw)
		assert.ErrorIs(t, err, ErrInvalidDevice, "input %q", raw)
	}
}
