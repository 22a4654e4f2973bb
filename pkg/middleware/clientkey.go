package middleware

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClientKey is shared by every request without a usable remote address
const UnknownClientKey = "unknown"

// KeyFunc derives the rate limit key of a request
type KeyFunc func(r *http.Request) string

// ExtractKey returns the client IP of r without its port. Forwarding headers
// are ignored since any client can set them.
func ExtractKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return UnknownClientKey
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}
