/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

// Package middleware integrates the admission-control core with net/http
// request pipelines. It resolves the matched route identifier (natively
// understanding chi routers), extracts the per-client key from the request,
// asks the route's limiter for a decision, and turns that decision into an
// HTTP outcome: pass-through with rate-limit headers, or a rejection with a
// Retry-After hint. Routes without a configured limit are passed through
// untouched.
package middleware
