/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package middleware

import (
	"net"
	"net/http"
	"strings"
)

// Headers inspected by RealIP, in priority order.
var realIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"Client-IP",           // used by some load balancers
	"X-Cluster-Client-IP", // used by AWS sometimes
	"CF-Connecting-IP",    // used by Cloudflare sometimes
}

// RealIP returns the client IP address of the request, to the best of our
// ability: the first parseable address from the proxy headers above, falling
// back to the transport peer address. ok is false when nothing parseable was
// found anywhere.
//
// Trusting these headers is only sound behind a proxy that sanitizes them;
// deciding that is the caller's responsibility.
func RealIP(r *http.Request) (ip string, ok bool) {
	for _, header := range realIPHeaders {
		if addr := parseIPFromHeader(r.Header.Get(header)); addr != "" {
			return addr, true
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if addr := net.ParseIP(host); addr != nil {
			return addr.String(), true
		}
	}
	return "", false
}

// parseIPFromHeader takes the first element of a comma-separated header value
// (X-Forwarded-For lists the client first) and returns it if it is a valid IP.
func parseIPFromHeader(val string) string {
	if val == "" {
		return ""
	}
	first, _, _ := strings.Cut(val, ",")
	addr := net.ParseIP(strings.TrimSpace(first))
	if addr == nil {
		return ""
	}
	return addr.String()
}
