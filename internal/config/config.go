// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults; Load(ctx) layers file and env.
// - Durations are expressed in whole seconds, timestamps in RFC 3339.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatabaseURL points at Postgres. Empty selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// DatabaseMaxConns caps the pgx pool size. Zero keeps the pgx default.
	DatabaseMaxConns int `koanf:"database_max_conns"`

	// SeedFile is a YAML file with booths, booth targets and profiles loaded
	// into the in-memory store.
	SeedFile string `koanf:"seed_file"`

	// JWTSecret and JWTIssuer verify bearer tokens issued by the identity provider.
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`

	// DuplicateWindowSec rejects repeat scans of one booth by one user within the window.
	DuplicateWindowSec int `koanf:"duplicate_window_sec"`

	// SummaryCacheTTLSec and SummaryCacheSize bound the dashboard summary cache.
	// A TTL of zero disables caching.
	SummaryCacheTTLSec int `koanf:"summary_cache_ttl_sec"`
	SummaryCacheSize   int `koanf:"summary_cache_size"`

	// EventUTCOffset is the fixed local offset used for day/hour buckets, e.g. "+09:00".
	EventUTCOffset string `koanf:"event_utc_offset"`

	// SupersetSince is the lower bound of the bulk ledger read.
	SupersetSince string `koanf:"superset_since"`

	// Day1End and Day2Start split the two event days (both inclusive).
	Day1End   string `koanf:"day1_end"`
	Day2Start string `koanf:"day2_start"`

	// Categories is the fixed dashboard category set.
	Categories []string `koanf:"categories"`

	// TopN is the ranking length.
	TopN int `koanf:"top_n"`

	// RecentActivityLimit is how many rows the per-user summary lists.
	RecentActivityLimit int `koanf:"recent_activity_limit"`

	// KafkaBrokers enables publication of recorded activities when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`
}

// Reporting holds the parsed reporting calendar.
type Reporting struct {
	Location  *time.Location
	Since     time.Time
	Day1End   time.Time
	Day2Start time.Time
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		JWTIssuer:           "timebank",
		DuplicateWindowSec:  20,
		SummaryCacheTTLSec:  30,
		SummaryCacheSize:    16,
		EventUTCOffset:      "+09:00",
		SupersetSince:       "2025-10-01T00:00:00Z",
		Day1End:             "2025-10-18T23:59:59.999999+09:00",
		Day2Start:           "2025-10-19T00:00:00+09:00",
		Categories:          []string{"environment", "social", "economic", "mental"},
		TopN:                3,
		RecentActivityLimit: 2,
		KafkaTopic:          "timebank.activities",
	}
}

// DuplicateWindow returns the recent-scan window.
func (c *Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowSec) * time.Second
}

// SummaryCacheTTL returns the summary cache lifetime.
func (c *Config) SummaryCacheTTL() time.Duration {
	return time.Duration(c.SummaryCacheTTLSec) * time.Second
}

// Reporting parses the reporting calendar.
func (c *Config) Reporting() (Reporting, error) {
	loc, err := ParseOffset(c.EventUTCOffset)
	if err != nil {
		return Reporting{}, err
	}
	since, err := parseTime("superset_since", c.SupersetSince)
	if err != nil {
		return Reporting{}, err
	}
	day1End, err := parseTime("day1_end", c.Day1End)
	if err != nil {
		return Reporting{}, err
	}
	day2Start, err := parseTime("day2_start", c.Day2Start)
	if err != nil {
		return Reporting{}, err
	}
	if !day2Start.After(day1End) {
		return Reporting{}, fmt.Errorf("%w: day2_start must be after day1_end", ErrInvalidConfig)
	}
	if day1End.Before(since) {
		return Reporting{}, fmt.Errorf("%w: day1_end must not precede superset_since", ErrInvalidConfig)
	}
	return Reporting{Location: loc, Since: since, Day1End: day1End, Day2Start: day2Start}, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.DuplicateWindowSec < 0 {
		return fmt.Errorf("%w: duplicate_window_sec must not be negative", ErrInvalidConfig)
	}
	if c.SummaryCacheTTLSec < 0 {
		return fmt.Errorf("%w: summary_cache_ttl_sec must not be negative", ErrInvalidConfig)
	}
	if c.TopN < 1 {
		return fmt.Errorf("%w: top_n must be positive", ErrInvalidConfig)
	}
	if c.RecentActivityLimit < 0 {
		return fmt.Errorf("%w: recent_activity_limit must not be negative", ErrInvalidConfig)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: categories must not be empty", ErrInvalidConfig)
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("%w: kafka_topic is required when kafka_brokers is set", ErrInvalidConfig)
	}
	_, err := c.Reporting()
	return err
}

// ParseOffset turns "+09:00", "-0530" or "Z" into a fixed zone.
func ParseOffset(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "Z" || strings.EqualFold(s, "UTC") {
		return time.UTC, nil
	}
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("%w: event_utc_offset %q must start with + or -", ErrInvalidConfig, s)
	}
	body := strings.ReplaceAll(s[1:], ":", "")
	if len(body) != 4 {
		return nil, fmt.Errorf("%w: event_utc_offset %q must be ±HH:MM", ErrInvalidConfig, s)
	}
	hh, errH := strconv.Atoi(body[:2])
	mm, errM := strconv.Atoi(body[2:])
	if errH != nil || errM != nil || hh > 14 || mm > 59 {
		return nil, fmt.Errorf("%w: event_utc_offset %q is out of range", ErrInvalidConfig, s)
	}
	return time.FixedZone("UTC"+s, sign*(hh*3600+mm*60)), nil
}

func parseTime(key, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return t, nil
}
