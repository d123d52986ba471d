package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the canonical remote address of a request.
// The router installs middleware.RealIP, so RemoteAddr already reflects
// X-Forwarded-For / X-Real-IP when the service runs behind a proxy.
// The value is normalized through net.ParseIP so equivalent addresses
// always produce the same string.
func ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}
