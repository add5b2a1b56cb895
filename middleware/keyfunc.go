/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/vasayxtx/go-glob"

	"github.com/routepace/routepace/limiter"
)

// GetKeyFunc extracts the rate-limiting key from a request.
// Returns key, bypass (whether to bypass rate limiting), and error.
type GetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// KeyByHeader keys requests by the value of the given header. When
// noBypassEmpty is false, requests without the header bypass limiting.
func KeyByHeader(headerName string, noBypassEmpty bool) GetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		headerVal := strings.TrimSpace(r.Header.Get(headerName))
		if noBypassEmpty {
			return headerVal, false, nil
		}
		return headerVal, headerVal == "", nil
	}
}

// KeyByRemoteAddr keys requests by the transport peer address.
func KeyByRemoteAddr() GetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		return host, false, err
	}
}

// KeyByRealIP keys requests by the client IP resolved via RealIP.
func KeyByRealIP() GetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		ip, ok := RealIP(r)
		if !ok {
			return "", false, fmt.Errorf("no client IP found in request")
		}
		return ip, false, nil
	}
}

// makeGetKeyFunc builds the key extractor for a zone. A zone without a key
// type throttles the route as a whole (a single shared cell). The returned
// func is nil only on error.
func makeGetKeyFunc(zone limiter.ZoneConfig, identity GetKeyFunc) (GetKeyFunc, error) {
	makeByType := func() (GetKeyFunc, error) {
		switch zone.Key.Type {
		case limiter.ZoneKeyTypeNoKey:
			return func(*http.Request) (string, bool, error) { return "", false, nil }, nil
		case limiter.ZoneKeyTypeHeader:
			return KeyByHeader(zone.Key.HeaderName, zone.Key.NoBypassEmpty), nil
		case limiter.ZoneKeyTypeRemoteAddr:
			return KeyByRemoteAddr(), nil
		case limiter.ZoneKeyTypeRealIP:
			return KeyByRealIP(), nil
		case limiter.ZoneKeyTypeIdentity:
			if identity == nil {
				return nil, fmt.Errorf("identity key extractor is required for %q key zone type",
					limiter.ZoneKeyTypeIdentity)
			}
			return identity, nil
		}
		return nil, fmt.Errorf("unknown key zone type %q", zone.Key.Type)
	}

	getKey, err := makeByType()
	if err != nil {
		return nil, err
	}
	if len(zone.IncludedKeys) == 0 && len(zone.ExcludedKeys) == 0 {
		return getKey, nil
	}
	if len(zone.ExcludedKeys) != 0 {
		return withPredefinedKeys(getKey, zone.ExcludedKeys, true), nil
	}
	return withPredefinedKeys(getKey, zone.IncludedKeys, false), nil
}

// withPredefinedKeys wraps getKey with glob-based filtering: when exclude is
// true, matching keys bypass limiting; otherwise only matching keys are
// limited.
func withPredefinedKeys(getKey GetKeyFunc, keys []string, exclude bool) GetKeyFunc {
	compiledKeys := make([]func(s string) bool, 0, len(keys))
	for _, key := range keys {
		compiledKeys = append(compiledKeys, glob.Compile(key))
	}
	return func(r *http.Request) (string, bool, error) {
		key, bypass, err := getKey(r)
		if err != nil || bypass {
			return key, bypass, err
		}
		keyFound := false
		for i := range compiledKeys {
			if compiledKeys[i](key) {
				keyFound = true
				break
			}
		}
		return key, keyFound == exclude, nil
	}
}
