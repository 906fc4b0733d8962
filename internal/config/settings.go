package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings are the router-wide knobs read from the environment at
// startup. Route-level configuration lives in the YAML document; these
// cover the service's own behavior.
type Settings struct {
	ListenAddr      string
	RouteConfigPath string
	RedisAddr       string
	PostgresDSN     string

	DriverTimeout     time.Duration
	StoreTimeout      time.Duration
	CacheTimeout      time.Duration
	RefreshLeaseTTL   time.Duration
	TerminalTTL       time.Duration
	NonTerminalTTL    time.Duration
	PollerInterval    time.Duration
	PollerConcurrency int
	MaxParameterBytes int
}

// SettingsFromEnv reads settings with sane defaults, logging nothing:
// the caller prints the startup banner once wiring is done.
func SettingsFromEnv() (Settings, error) {
	s := Settings{
		ListenAddr:        getenv("LISTEN_ADDR", ":8080"),
		RouteConfigPath:   getenv("ROUTE_CONFIG_PATH", "routes.yaml"),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		DriverTimeout:     2 * time.Second,
		StoreTimeout:      time.Second,
		CacheTimeout:      500 * time.Millisecond,
		RefreshLeaseTTL:   30 * time.Second,
		TerminalTTL:       24 * time.Hour,
		NonTerminalTTL:    time.Hour,
		PollerInterval:    30 * time.Second,
		PollerConcurrency: 16,
		MaxParameterBytes: 64 * 1024,
	}

	var err error
	if s.DriverTimeout, err = durationEnv("DRIVER_TIMEOUT", s.DriverTimeout); err != nil {
		return s, err
	}
	if s.StoreTimeout, err = durationEnv("STORE_TIMEOUT", s.StoreTimeout); err != nil {
		return s, err
	}
	if s.CacheTimeout, err = durationEnv("CACHE_TIMEOUT", s.CacheTimeout); err != nil {
		return s, err
	}
	if s.RefreshLeaseTTL, err = durationEnv("REFRESH_LEASE_TTL", s.RefreshLeaseTTL); err != nil {
		return s, err
	}
	if s.TerminalTTL, err = durationEnv("TERMINAL_CACHE_TTL", s.TerminalTTL); err != nil {
		return s, err
	}
	if s.NonTerminalTTL, err = durationEnv("NONTERMINAL_CACHE_TTL", s.NonTerminalTTL); err != nil {
		return s, err
	}
	if s.PollerInterval, err = durationEnv("POLLER_INTERVAL", s.PollerInterval); err != nil {
		return s, err
	}
	if s.PollerConcurrency, err = intEnv("POLLER_CONCURRENCY", s.PollerConcurrency); err != nil {
		return s, err
	}
	if s.MaxParameterBytes, err = intEnv("MAX_PARAMETER_BYTES", s.MaxParameterBytes); err != nil {
		return s, err
	}
	return s, nil
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("parsing %s=%q: %w", name, v, err)
	}
	return d, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("parsing %s=%q: %w", name, v, err)
	}
	return n, nil
}
