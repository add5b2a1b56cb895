/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package limiter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/routepace/routepace/gcra"
)

// Rate-limiting algorithm names accepted in configuration.
const (
	AlgNameGCRA          = "gcra"
	AlgNameSlidingWindow = "sliding_window"
)

// Config describes the whole admission-control surface: named rate-limiting
// zones and the routes bound to them. It can be loaded from YAML or JSON
// (see LoadConfig) or filled programmatically.
type Config struct {
	// RateLimitZones contains rate limiting zones.
	// Key is a zone's name, and value is a zone's configuration.
	RateLimitZones map[string]ZoneConfig `mapstructure:"rateLimitZones" yaml:"rateLimitZones" json:"rateLimitZones"`

	// Routes binds route identifiers to zones. A later entry with the same
	// identifier overwrites an earlier one (routes may be reconfigured).
	Routes []RouteConfig `mapstructure:"routes" yaml:"routes" json:"routes"`

	// SweepInterval is the cadence of idle-key reclamation.
	SweepInterval TimeDuration `mapstructure:"sweepInterval" yaml:"sweepInterval" json:"sweepInterval"`
}

// Validate validates configuration.
func (c *Config) Validate() error {
	for zoneName, zone := range c.RateLimitZones {
		if err := zone.Validate(); err != nil {
			return fmt.Errorf("validate rate limit zone %q: %w", zoneName, err)
		}
	}
	for i, route := range c.Routes {
		if err := route.Validate(c.RateLimitZones); err != nil {
			return fmt.Errorf("validate route #%d: %w", i+1, err)
		}
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval should be >= 0, got %s", gcra.ErrInvalidConfig, c.SweepInterval)
	}
	return nil
}

// ZoneConfig describes one rate-limiting zone.
type ZoneConfig struct {
	// RateLimit is the steady-state request frequency, e.g. "100/m".
	RateLimit RateValue `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`

	// BurstLimit is the number of requests admissible instantaneously.
	// Zero means the rate limit count itself.
	BurstLimit int `mapstructure:"burstLimit" yaml:"burstLimit" json:"burstLimit"`

	// Alg selects the rate-limiting algorithm, "gcra" by default.
	Alg string `mapstructure:"alg" yaml:"alg" json:"alg"`

	// Key determines how the per-client key is extracted from a request.
	Key ZoneKeyConfig `mapstructure:"key" yaml:"key" json:"key"`

	// MaxShards is the key store shard count (power of two). Zero selects the default.
	MaxShards int `mapstructure:"maxShards" yaml:"maxShards" json:"maxShards"`

	// MaxKeys bounds the tracked key population of a sliding-window zone.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	// IncludedKeys/ExcludedKeys are glob lists restricting which keys the
	// zone throttles; all other keys bypass it. Mutually exclusive.
	IncludedKeys []string `mapstructure:"includedKeys" yaml:"includedKeys" json:"includedKeys"`
	ExcludedKeys []string `mapstructure:"excludedKeys" yaml:"excludedKeys" json:"excludedKeys"`

	// ResponseStatusCode is the HTTP status for rejected requests.
	// Zero selects 429 Too Many Requests.
	ResponseStatusCode int `mapstructure:"responseStatusCode" yaml:"responseStatusCode" json:"responseStatusCode"`

	// DryRun makes the middleware log instead of reject.
	DryRun bool `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`
}

// Validate validates zone configuration.
func (c *ZoneConfig) Validate() error {
	if c.RateLimit.Count < 1 {
		return fmt.Errorf("%w: rate limit should be >= 1, got %d", gcra.ErrInvalidConfig, c.RateLimit.Count)
	}
	if c.RateLimit.Duration <= 0 {
		return fmt.Errorf("%w: rate limit duration should be positive, got %s", gcra.ErrInvalidConfig, c.RateLimit.Duration)
	}
	if c.RateLimit.Duration < time.Duration(c.RateLimit.Count) {
		return fmt.Errorf("%w: rate limit duration %s is too short for count %d",
			gcra.ErrInvalidConfig, c.RateLimit.Duration, c.RateLimit.Count)
	}
	if c.BurstLimit < 0 {
		return fmt.Errorf("%w: burst limit should be >= 0, got %d", gcra.ErrInvalidConfig, c.BurstLimit)
	}
	if c.Alg != "" && c.Alg != AlgNameGCRA && c.Alg != AlgNameSlidingWindow {
		return fmt.Errorf("%w: unknown rate limit alg %q", gcra.ErrInvalidConfig, c.Alg)
	}
	if c.MaxShards < 0 {
		return fmt.Errorf("%w: max shards should be >= 0, got %d", gcra.ErrInvalidConfig, c.MaxShards)
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("%w: max keys should be >= 0, got %d", gcra.ErrInvalidConfig, c.MaxKeys)
	}
	if c.ResponseStatusCode < 0 {
		return fmt.Errorf("%w: response status code should be >= 0, got %d", gcra.ErrInvalidConfig, c.ResponseStatusCode)
	}
	if len(c.IncludedKeys) != 0 && len(c.ExcludedKeys) != 0 {
		return fmt.Errorf("%w: included and excluded key lists cannot be specified at the same time", gcra.ErrInvalidConfig)
	}
	return c.Key.Validate()
}

// quota derives the GCRA quota from the zone: the emission interval is
// RateLimit.Duration / RateLimit.Count, and the burst capacity is BurstLimit
// (RateLimit.Count when unset). Since a Quota carries (burst, period) with
// emission = period / burst, the period becomes burst * emission.
func (c *ZoneConfig) quota() gcra.Quota {
	burst := c.BurstLimit
	if burst == 0 {
		burst = c.RateLimit.Count
	}
	if c.algorithm() == AlgSlidingWindow {
		// The window algorithm counts RateLimit.Count requests per
		// RateLimit.Duration; BurstLimit does not apply.
		return gcra.MustQuota(c.RateLimit.Count, c.RateLimit.Duration)
	}
	emission := c.RateLimit.Duration / time.Duration(c.RateLimit.Count)
	return gcra.MustQuota(burst, time.Duration(burst)*emission)
}

func (c *ZoneConfig) algorithm() Algorithm {
	if c.Alg == AlgNameSlidingWindow {
		return AlgSlidingWindow
	}
	return AlgGCRA
}

// StatusCode returns the HTTP status to respond with on rejection.
func (c *ZoneConfig) StatusCode() int {
	if c.ResponseStatusCode != 0 {
		return c.ResponseStatusCode
	}
	return http.StatusTooManyRequests
}

// Zone key types.
const (
	ZoneKeyTypeNoKey      = ""
	ZoneKeyTypeHeader     = "header"
	ZoneKeyTypeRemoteAddr = "remote_addr"
	ZoneKeyTypeRealIP     = "real_ip"
	ZoneKeyTypeIdentity   = "identity"
)

// ZoneKeyConfig represents a configuration of zone's key.
type ZoneKeyConfig struct {
	// Type determines type of key that will be used for throttling.
	Type string `mapstructure:"type" yaml:"type" json:"type"`

	// HeaderName is a name of the HTTP request header which value will be used as a key.
	// Matters only when Type is a "header".
	HeaderName string `mapstructure:"headerName" yaml:"headerName" json:"headerName"`

	// NoBypassEmpty specifies whether throttling will be used if the value obtained by the key is empty.
	NoBypassEmpty bool `mapstructure:"noBypassEmpty" yaml:"noBypassEmpty" json:"noBypassEmpty"`
}

// Validate validates keys zone configuration.
func (c *ZoneKeyConfig) Validate() error {
	switch c.Type {
	case ZoneKeyTypeNoKey, ZoneKeyTypeRemoteAddr, ZoneKeyTypeRealIP, ZoneKeyTypeIdentity:
	case ZoneKeyTypeHeader:
		if c.HeaderName == "" {
			return fmt.Errorf("%w: header name should be specified for %q key zone type",
				gcra.ErrInvalidConfig, ZoneKeyTypeHeader)
		}
	default:
		return fmt.Errorf("%w: unknown key zone type %q", gcra.ErrInvalidConfig, c.Type)
	}
	return nil
}

// RouteConfig binds one route identifier to a zone.
type RouteConfig struct {
	// ID is the route identifier produced by the host router for matched
	// requests (e.g. a chi route pattern).
	ID string `mapstructure:"id" yaml:"id" json:"id"`

	// Zone is the name of the rate-limiting zone to apply.
	Zone string `mapstructure:"zone" yaml:"zone" json:"zone"`
}

// Validate validates route configuration.
func (c *RouteConfig) Validate(zones map[string]ZoneConfig) error {
	if c.ID == "" {
		return fmt.Errorf("%w: route id is missing", gcra.ErrInvalidConfig)
	}
	if c.Zone == "" {
		return fmt.Errorf("%w: zone is missing", gcra.ErrInvalidConfig)
	}
	if _, ok := zones[c.Zone]; !ok {
		return fmt.Errorf("%w: rate limit zone %q is undefined", gcra.ErrInvalidConfig, c.Zone)
	}
	return nil
}

// RateValue represents a request frequency, parsed from the "N/(s|m|h)" text
// form, for example 10/s, 100/m, 1000/h.
type RateValue struct {
	Count    int
	Duration time.Duration
}

// String returns a string representation of the rate value.
// Implements fmt.Stringer interface.
func (rv RateValue) String() string {
	if rv.Duration == 0 && rv.Count == 0 {
		return ""
	}
	var d string
	switch rv.Duration {
	case time.Second:
		d = "s"
	case time.Minute:
		d = "m"
	case time.Hour:
		d = "h"
	default:
		d = rv.Duration.String()
	}
	return fmt.Sprintf("%d/%s", rv.Count, d)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface,
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (rv *RateValue) UnmarshalText(text []byte) error {
	return rv.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (rv *RateValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return rv.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rv *RateValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return rv.unmarshal(text)
}

func (rv *RateValue) unmarshal(rate string) error {
	if rate == "" {
		*rv = RateValue{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h), for example 10/s, 100/m, 1000/h", rate)
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return incorrectFormatErr
	}
	var dur time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		return incorrectFormatErr
	}
	*rv = RateValue{Count: count, Duration: dur}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (rv RateValue) MarshalText() ([]byte, error) {
	return []byte(rv.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (rv RateValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rv.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (rv RateValue) MarshalYAML() (interface{}, error) {
	return rv.String(), nil
}

// TimeDuration represents a duration that can be parsed from JSON and YAML,
// either from an integer number of nanoseconds or from a string like "30s".
type TimeDuration time.Duration

// String returns a string representation of the duration.
// Implements fmt.Stringer interface.
func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements the encoding.TextUnmarshaler interface,
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (d *TimeDuration) UnmarshalText(text []byte) error {
	return d.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *TimeDuration) UnmarshalJSON(data []byte) error {
	return d.unmarshal(strings.Trim(string(data), `"`))
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.unmarshal(s)
}

func (d *TimeDuration) unmarshal(s string) error {
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = TimeDuration(num)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = TimeDuration(dur)
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (d TimeDuration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// ConfigDataType is a type of data format in which configuration may be loaded.
type ConfigDataType string

// Supported configuration data formats.
const (
	ConfigDataTypeYAML ConfigDataType = "yaml"
	ConfigDataTypeJSON ConfigDataType = "json"
)

// LoadConfig reads, decodes, and validates a Config.
func LoadConfig(reader io.Reader, dataType ConfigDataType) (*Config, error) {
	v := viper.New()
	v.SetConfigType(string(dataType))
	if err := v.ReadConfig(reader); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructureDecodeHook()
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mapstructureDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}
