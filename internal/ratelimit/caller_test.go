package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallerKey(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "forwarded first hop", xff: "203.0.113.7, 10.0.0.1", remoteAddr: "10.0.0.1:5000", want: "203.0.113.7"},
		{name: "forwarded garbage falls to real ip", xff: "not-an-ip", realIP: "198.51.100.2", remoteAddr: "10.0.0.1:5000", want: "198.51.100.2"},
		{name: "real ip", realIP: " 198.51.100.2 ", remoteAddr: "10.0.0.1:5000", want: "198.51.100.2"},
		{name: "remote addr", remoteAddr: "192.0.2.10:1234", want: "192.0.2.10"},
		{name: "remote addr ipv6", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "nothing usable", xff: "???", realIP: "x", remoteAddr: "pipe", want: UnknownCaller},
		{name: "empty remote", remoteAddr: "", want: UnknownCaller},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/messages", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			require.Equal(t, tt.want, CallerKey(r))
		})
	}
}

func TestKey(t *testing.T) {
	require.Equal(t, "203.0.113.7:/api/v1/auth/login", Key("203.0.113.7", "/api/v1/auth/login"))
}
