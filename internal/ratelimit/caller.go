package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownCaller is the shared bucket for requests whose origin cannot be determined.
const UnknownCaller = "unknown"

// CallerKey identifies the client behind r: the first parseable address in
// X-Forwarded-For, then X-Real-IP, then the connection's remote host.
func CallerKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return UnknownCaller
}
