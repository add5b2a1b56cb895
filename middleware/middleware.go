/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/routepace/routepace/limiter"
)

// RejectErrCode is an error code that is used in a response body
// when the request is rejected due to the rate limit being exceeded.
const RejectErrCode = "tooManyRequests"

// Logged field names.
const (
	LogFieldKey   = "rate_limit_key"
	LogFieldRoute = "rate_limit_route"
)

// Params contains data that relates to the admission decision and may be
// used by reject/error callbacks.
type Params struct {
	RouteID    string
	Key        string
	Decision   limiter.Decision
	StatusCode int
}

// OnRejectFunc is called to reject a request when the rate limit is exceeded.
type OnRejectFunc func(rw http.ResponseWriter, r *http.Request, params Params, next http.Handler, logger zerolog.Logger)

// OnErrorFunc is called when key extraction fails.
type OnErrorFunc func(rw http.ResponseWriter, r *http.Request, params Params, err error, next http.Handler, logger zerolog.Logger)

// Opts represents options for the admission-control middleware.
type Opts struct {
	// GetRouteID resolves the matched-route identifier of a request. The
	// default understands chi routers and otherwise falls back to the raw
	// URL path.
	GetRouteID func(r *http.Request) string

	// GetKey overrides key extraction for all routes. When nil, each route's
	// extractor is built from its zone configuration.
	GetKey GetKeyFunc

	// Identity supplies keys for zones with the "identity" key type
	// (e.g. an authenticated user or tenant ID).
	Identity GetKeyFunc

	// OnReject is called to reject a request when the rate limit is exceeded.
	OnReject OnRejectFunc

	// OnRejectInDryRun is called instead of OnReject for dry-run zones.
	OnRejectInDryRun OnRejectFunc

	// OnError is called when key extraction fails.
	OnError OnErrorFunc

	// Logger receives reject/error log records. Defaults to a nop logger.
	Logger *zerolog.Logger
}

// Handler creates a middleware that admits or rejects requests based on the
// registry's per-route limits. All configuration problems (e.g. an identity
// zone without an Identity extractor) surface here, before traffic is served.
func Handler(reg *limiter.Registry, opts Opts) (func(next http.Handler) http.Handler, error) {
	keyFuncs := make(map[string]GetKeyFunc)
	for _, routeID := range reg.RouteIDs() {
		zone, _ := reg.Zone(routeID)
		getKey := opts.GetKey
		if getKey == nil {
			var err error
			if getKey, err = makeGetKeyFunc(zone, opts.Identity); err != nil {
				return nil, err
			}
		}
		keyFuncs[routeID] = getKey
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	h := &handler{
		registry:         reg,
		keyFuncs:         keyFuncs,
		getKey:           opts.GetKey,
		identity:         opts.Identity,
		getRouteID:       opts.GetRouteID,
		onReject:         opts.OnReject,
		onRejectInDryRun: opts.OnRejectInDryRun,
		onError:          opts.OnError,
		logger:           logger,
	}
	if h.getRouteID == nil {
		h.getRouteID = GetRouteIDDefault
	}
	if h.onReject == nil {
		h.onReject = DefaultOnReject
	}
	if h.onRejectInDryRun == nil {
		h.onRejectInDryRun = DefaultOnRejectInDryRun
	}
	if h.onError == nil {
		h.onError = DefaultOnError
	}

	return func(next http.Handler) http.Handler {
		return &nextHandler{handler: h, next: next}
	}, nil
}

// MustHandler is a version of Handler that panics if an error occurs.
func MustHandler(reg *limiter.Registry, opts Opts) func(next http.Handler) http.Handler {
	mw, err := Handler(reg, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

// GetRouteIDDefault resolves the route identifier as the chi route pattern
// when the request was matched by a chi router, and the raw URL path
// otherwise.
func GetRouteIDDefault(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type handler struct {
	registry         *limiter.Registry
	keyFuncs         map[string]GetKeyFunc
	getKey           GetKeyFunc
	identity         GetKeyFunc
	getRouteID       func(r *http.Request) string
	onReject         OnRejectFunc
	onRejectInDryRun OnRejectFunc
	onError          OnErrorFunc
	logger           zerolog.Logger
}

type nextHandler struct {
	*handler
	next http.Handler
}

func (h *nextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	routeID := h.getRouteID(r)
	lim, ok := h.registry.Resolve(routeID)
	if !ok {
		// No rate limit is configured for this route: unconditional admission.
		h.next.ServeHTTP(rw, r)
		return
	}
	zone, _ := h.registry.Zone(routeID)

	getKey, known := h.keyFuncs[routeID]
	if !known {
		// The route was registered after this middleware was constructed.
		// The global key extraction override still applies to it.
		if getKey = h.getKey; getKey == nil {
			var buildErr error
			if getKey, buildErr = makeGetKeyFunc(zone, h.identity); buildErr != nil {
				h.onError(rw, r, Params{RouteID: routeID}, buildErr, h.next, h.logger)
				return
			}
		}
	}
	key, bypass, err := getKey(r)
	if err != nil {
		h.onError(rw, r, Params{RouteID: routeID, Key: key}, err, h.next, h.logger)
		return
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}

	dec := h.registry.Check(routeID, key)
	params := Params{RouteID: routeID, Key: key, Decision: dec, StatusCode: zone.StatusCode()}

	if dec.Allowed {
		setRateLimitHeaders(rw, lim.Quota().Burst(), dec)
		h.next.ServeHTTP(rw, r)
		return
	}
	if zone.DryRun {
		h.onRejectInDryRun(rw, r, params, h.next, h.logger)
		return
	}
	h.onReject(rw, r, params, h.next, h.logger)
}

func setRateLimitHeaders(rw http.ResponseWriter, burst int, dec limiter.Decision) {
	rw.Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
	rw.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	rw.Header().Set("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(dec.ResetAfter)))
}

// DefaultOnReject sends a JSON error response with a Retry-After header.
// Durations are rounded up to whole seconds only here, at the presentation
// boundary.
func DefaultOnReject(
	rw http.ResponseWriter, r *http.Request, params Params, _ http.Handler, logger zerolog.Logger,
) {
	logger.Warn().
		Str(LogFieldRoute, params.RouteID).
		Str(LogFieldKey, params.Key).
		Str("user_agent", r.UserAgent()).
		Msg("too many requests")

	rw.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(params.Decision.RetryAfter)))
	respondError(rw, params.StatusCode, RejectErrCode, "Too many requests.")
}

// DefaultOnRejectInDryRun logs the would-be rejection and serves the request.
func DefaultOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params Params, next http.Handler, logger zerolog.Logger,
) {
	logger.Warn().
		Str(LogFieldRoute, params.RouteID).
		Str(LogFieldKey, params.Key).
		Str("user_agent", r.UserAgent()).
		Msg("too many requests, serving will be continued because of dry run mode")
	next.ServeHTTP(rw, r)
}

// DefaultOnError logs the key-extraction error and responds with 500.
func DefaultOnError(
	rw http.ResponseWriter, r *http.Request, params Params, err error, _ http.Handler, logger zerolog.Logger,
) {
	logger.Error().
		Err(err).
		Str(LogFieldRoute, params.RouteID).
		Msg("get key for rate limit")
	respondError(rw, http.StatusInternalServerError, "internalError", "Internal server error.")
}

func respondError(rw http.ResponseWriter, statusCode int, code, message string) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(statusCode)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": code, "message": message})
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
