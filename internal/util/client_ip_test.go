package util

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", "fd00::/8"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{name: "untrusted peer ignores forwarded headers", remoteAddr: "198.51.100.10:1234", xff: "203.0.113.5", xrip: "203.0.113.6", want: "198.51.100.10"},
		{name: "trusted peer honors x-forwarded-for", remoteAddr: "10.0.0.20:1234", xff: "203.0.113.5", trusted: trusted, want: "203.0.113.5"},
		{name: "rightmost untrusted hop wins", remoteAddr: "10.0.0.20:1234", xff: "203.0.113.9, 203.0.113.5, 10.0.0.10", trusted: trusted, want: "203.0.113.5"},
		{name: "x-real-ip fallback", remoteAddr: "10.0.0.20:1234", xff: "garbage", xrip: "203.0.113.7", trusted: trusted, want: "203.0.113.7"},
		{name: "all trusted returns leftmost", remoteAddr: "10.0.0.20:1234", xff: "10.0.0.5, 10.0.0.10", trusted: trusted, want: "10.0.0.5"},
		{name: "ipv6 trusted proxy", remoteAddr: "[fd00::1]:443", xff: "2001:db8::7", trusted: trusted, want: "2001:db8::7"},
		{name: "unparseable remote returned verbatim", remoteAddr: "pipe", want: "pipe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			assert.Equal(t, tc.want, ClientIP(req, tc.trusted))
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	got, err := NewTrustedProxies([]string{" ", ""})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = NewTrustedProxies([]string{"bad-cidr"})
	assert.Error(t, err)
	_, err = NewTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
