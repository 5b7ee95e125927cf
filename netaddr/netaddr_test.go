package netaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalAddressIsIPv4(t *testing.T) {
	ip := net.ParseIP(LocalAddress())
	if assert.NotNil(t, ip) {
		assert.NotNil(t, ip.To4())
	}
}

func TestResolverOverride(t *testing.T) {
	r := NewResolver("10.1.2.3")
	assert.Equal(t, "10.1.2.3", r.LocalAddress())
	r.Refresh()
	assert.Equal(t, "10.1.2.3", r.LocalAddress())
}

func TestResolverCaches(t *testing.T) {
	r := NewResolver("")
	first := r.LocalAddress()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, r.LocalAddress())
}
