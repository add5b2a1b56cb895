/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package limiter

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/routepace/routepace/gcra"
)

func TestLoadConfigYAML(t *testing.T) {
	data := `
rateLimitZones:
  api_per_ip:
    rateLimit: 100/m
    burstLimit: 20
    key:
      type: real_ip
    excludedKeys: ["10.0.*"]
  login_per_header:
    rateLimit: 10/s
    alg: sliding_window
    maxKeys: 500
    key:
      type: header
      headerName: X-Api-Key
      noBypassEmpty: true
routes:
  - id: login
    zone: login_per_header
  - id: api
    zone: api_per_ip
sweepInterval: 45s
`
	cfg, err := LoadConfig(bytes.NewReader([]byte(data)), ConfigDataTypeYAML)
	require.NoError(t, err)

	require.Equal(t, TimeDuration(45*time.Second), cfg.SweepInterval)
	require.Len(t, cfg.Routes, 2)

	apiZone := cfg.RateLimitZones["api_per_ip"]
	require.Equal(t, RateValue{Count: 100, Duration: time.Minute}, apiZone.RateLimit)
	require.Equal(t, 20, apiZone.BurstLimit)
	require.Equal(t, ZoneKeyTypeRealIP, apiZone.Key.Type)
	require.Equal(t, []string{"10.0.*"}, apiZone.ExcludedKeys)
	require.Equal(t, AlgGCRA, apiZone.algorithm())

	loginZone := cfg.RateLimitZones["login_per_header"]
	require.Equal(t, AlgSlidingWindow, loginZone.algorithm())
	require.Equal(t, "X-Api-Key", loginZone.Key.HeaderName)
	require.True(t, loginZone.Key.NoBypassEmpty)
}

func TestLoadConfigJSON(t *testing.T) {
	data := `{
  "rateLimitZones": {
    "per_ip": {"rateLimit": "5/s", "key": {"type": "remote_addr"}}
  },
  "routes": [{"id": "api", "zone": "per_ip"}]
}`
	cfg, err := LoadConfig(bytes.NewReader([]byte(data)), ConfigDataTypeJSON)
	require.NoError(t, err)
	require.Equal(t, RateValue{Count: 5, Duration: time.Second}, cfg.RateLimitZones["per_ip"].RateLimit)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "zero rate",
			data: `
rateLimitZones:
  z: {rateLimit: 0/s}
routes: [{id: r, zone: z}]
`,
		},
		{
			name: "bad rate format",
			data: `
rateLimitZones:
  z: {rateLimit: ten per second}
routes: [{id: r, zone: z}]
`,
		},
		{
			name: "unknown alg",
			data: `
rateLimitZones:
  z: {rateLimit: 1/s, alg: token_ring}
routes: [{id: r, zone: z}]
`,
		},
		{
			name: "undefined zone",
			data: `
rateLimitZones:
  z: {rateLimit: 1/s}
routes: [{id: r, zone: other}]
`,
		},
		{
			name: "route without id",
			data: `
rateLimitZones:
  z: {rateLimit: 1/s}
routes: [{zone: z}]
`,
		},
		{
			name: "header key without name",
			data: `
rateLimitZones:
  z: {rateLimit: 1/s, key: {type: header}}
routes: [{id: r, zone: z}]
`,
		},
		{
			name: "included and excluded together",
			data: `
rateLimitZones:
  z: {rateLimit: 1/s, includedKeys: [a], excludedKeys: [b]}
routes: [{id: r, zone: z}]
`,
		},
		{
			name: "rate count exceeds duration nanoseconds",
			data: `
rateLimitZones:
  z: {rateLimit: 2000000000/s}
routes: [{id: r, zone: z}]
`,
		},
		{
			name: "negative sweep interval",
			data: `
rateLimitZones:
  z: {rateLimit: 1/s}
routes: [{id: r, zone: z}]
sweepInterval: -5s
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(bytes.NewReader([]byte(tt.data)), ConfigDataTypeYAML)
			require.Error(t, err)
		})
	}
}

func TestZoneConfigQuota(t *testing.T) {
	zone := ZoneConfig{RateLimit: RateValue{Count: 100, Duration: time.Minute}, BurstLimit: 20}
	q := zone.quota()
	require.Equal(t, 20, q.Burst())
	require.Equal(t, 600*time.Millisecond, q.EmissionInterval())

	// Without an explicit burst, the full rate count is admissible at once.
	zone = ZoneConfig{RateLimit: RateValue{Count: 100, Duration: time.Minute}}
	q = zone.quota()
	require.Equal(t, 100, q.Burst())
	require.Equal(t, time.Minute, q.Period())
}

func TestZoneConfigStatusCode(t *testing.T) {
	require.Equal(t, 429, (&ZoneConfig{}).StatusCode())
	require.Equal(t, 503, (&ZoneConfig{ResponseStatusCode: 503}).StatusCode())
}

func TestRateValueMarshalRoundTrip(t *testing.T) {
	tests := []struct {
		rate RateValue
		text string
	}{
		{RateValue{Count: 10, Duration: time.Second}, "10/s"},
		{RateValue{Count: 100, Duration: time.Minute}, "100/m"},
		{RateValue{Count: 1000, Duration: time.Hour}, "1000/h"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			gotJSON, err := json.Marshal(tt.rate)
			require.NoError(t, err)
			require.Equal(t, `"`+tt.text+`"`, string(gotJSON))

			var fromJSON RateValue
			require.NoError(t, json.Unmarshal(gotJSON, &fromJSON))
			require.Equal(t, tt.rate, fromJSON)

			gotYAML, err := yaml.Marshal(tt.rate)
			require.NoError(t, err)
			var fromYAML RateValue
			require.NoError(t, yaml.Unmarshal(gotYAML, &fromYAML))
			require.Equal(t, tt.rate, fromYAML)
		})
	}
}

func TestTimeDurationUnmarshal(t *testing.T) {
	var d TimeDuration
	require.NoError(t, yaml.Unmarshal([]byte(`30s`), &d))
	require.Equal(t, TimeDuration(30*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	require.Equal(t, TimeDuration(90*time.Second), d)

	require.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
}

func TestConfigValidateDirect(t *testing.T) {
	cfg := &Config{
		RateLimitZones: map[string]ZoneConfig{
			"z": {RateLimit: RateValue{Count: 1, Duration: time.Second}, MaxShards: -1},
		},
		Routes: []RouteConfig{{ID: "r", Zone: "z"}},
	}
	require.ErrorIs(t, cfg.Validate(), gcra.ErrInvalidConfig)
}
