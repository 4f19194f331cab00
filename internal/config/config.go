// Package config loads the engine's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Query policies for completions whose scan is not yet cached.
const (
	PolicyStale = "stale"
	PolicyWait  = "wait"
)

// Duration is a time.Duration read from a TOML string such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the whole configuration file.
type Config struct {
	DBPath          string `toml:"db_path"`
	Workers         int    `toml:"workers"`
	CacheSize       int    `toml:"cache_size"`
	HostIntegration bool   `toml:"host_integration"`
	Watch           bool   `toml:"watch"`

	Query      Query               `toml:"query"`
	Scan       Scan                `toml:"scan"`
	Completion Completion          `toml:"completion"`
	Languages  map[string]Language `toml:"languages"`
	Hooks      []Hook              `toml:"hooks"`
}

// Query configures how completion queries wait for scans.
type Query struct {
	Policy  string   `toml:"policy"`
	Timeout Duration `toml:"timeout"`
}

// Scan configures structural scanning.
type Scan struct {
	ExternalTimeout Duration `toml:"external_timeout"`
	Exclude         []string `toml:"exclude"`
}

// Completion configures candidate filtering.
type Completion struct {
	IncludePrivate bool    `toml:"include_private"`
	Fuzzy          bool    `toml:"fuzzy"`
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
}

// Language overrides the built-in trigger data of one language.
type Language struct {
	// TriggerChars replaces the trigger set: "(" fires calltips, ","
	// fires argument calltips, anything else is a member operator.
	TriggerChars    []string `toml:"trigger_chars"`
	StopChars       *string  `toml:"stop_chars"`
	ExternalScanner []string `toml:"external_scanner"`
}

// Hook declares a Risor script run after each blob load.
type Hook struct {
	Name      string   `toml:"name"`
	Script    string   `toml:"script"`
	Languages []string `toml:"languages"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:    ".codeintel/scan.db",
		Workers:   2,
		CacheSize: 512,
		Watch:     true,
		Query: Query{
			Policy:  PolicyStale,
			Timeout: Duration{250 * time.Millisecond},
		},
		Scan: Scan{
			ExternalTimeout: Duration{10 * time.Second},
			Exclude:         []string{"**/node_modules/**", "**/.git/**", "**/vendor/**"},
		},
		Completion: Completion{
			Fuzzy:          true,
			FuzzyThreshold: 0.8,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("cache_size must be at least 1, got %d", c.CacheSize))
	}
	switch c.Query.Policy {
	case PolicyStale, PolicyWait:
	default:
		errs = append(errs, fmt.Errorf("query.policy must be %q or %q, got %q", PolicyStale, PolicyWait, c.Query.Policy))
	}
	if c.Query.Timeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("query.timeout must not be negative"))
	}
	if t := c.Completion.FuzzyThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("completion.fuzzy_threshold must be in (0, 1], got %g", t))
	}
	for i, h := range c.Hooks {
		if h.Name == "" {
			errs = append(errs, fmt.Errorf("hooks[%d]: name is required", i))
		}
		if h.Script == "" {
			errs = append(errs, fmt.Errorf("hooks[%d] %q: script is required", i, h.Name))
		}
	}
	return errors.Join(errs...)
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}
