package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gristmill-dev/grist/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "grist.json"

	// DefaultAddr is the default inspection server address.
	DefaultAddr = ":8080"

	// DefaultProfile is the bench profile used when none is named.
	DefaultProfile = "standard"

	// DefaultTick is the default demo counter interval for grist serve.
	DefaultTick = "250ms"
)

// Config represents the complete grist.json configuration.
type Config struct {
	// Bench contains load generator configuration.
	Bench BenchConfig `json:"bench,omitempty"`

	// Serve contains inspection server configuration.
	Serve ServeConfig `json:"serve,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `json:"log,omitempty"`

	// Debug mirrors grist.DebugConfig.
	Debug DebugConfig `json:"debug,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// BenchProfile sizes one bench run.
type BenchProfile struct {
	// Writers is the number of goroutines incrementing the counter.
	Writers int `json:"writers"`

	// Readers is the number of goroutines reading concurrently.
	Readers int `json:"readers"`

	// Iterations is the number of increments per writer.
	Iterations int `json:"iterations"`

	// Subscribers is the number of subscribers on the counter.
	Subscribers int `json:"subscribers,omitempty"`
}

// BenchConfig contains load generator settings.
type BenchConfig struct {
	// Profile is the default profile name.
	Profile string `json:"profile,omitempty"`

	// Profiles adds or overrides named profiles.
	Profiles map[string]BenchProfile `json:"profiles,omitempty"`
}

// ServeConfig contains inspection server settings.
type ServeConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty"`

	// Tick is the demo counter interval (e.g., "250ms").
	Tick string `json:"tick,omitempty"`

	// AllowedOrigins lists origins accepted by the watch endpoint.
	// Empty means same-origin only.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// DebugConfig contains grist debug defaults.
type DebugConfig struct {
	TrackBorrows     bool `json:"trackBorrows,omitempty"`
	DetectReentrancy bool `json:"detectReentrancy,omitempty"`
	PanicOnMisuse    bool `json:"panicOnMisuse,omitempty"`
}

// builtinProfiles are always available and may be overridden by grist.json.
var builtinProfiles = map[string]BenchProfile{
	"fast":     {Writers: 2, Readers: 2, Iterations: 1000, Subscribers: 1},
	"standard": {Writers: 3, Readers: 4, Iterations: 10000, Subscribers: 4},
	"stress":   {Writers: 8, Readers: 16, Iterations: 50000, Subscribers: 16},
}

// Default creates a Config with default values.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified directory.
// It looks for grist.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadOrDefault is Load, but returns Default when dir has no grist.json.
func LoadOrDefault(dir string) (*Config, error) {
	if !Exists(dir) {
		return Default(), nil
	}
	return Load(dir)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfigUnreadable).
			WithDetail("Could not read " + path).
			Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CodeConfigUnreadable).
			WithDetail("Failed to parse " + ConfigFileName + ": " + err.Error()).
			WithSuggestion("Check that " + ConfigFileName + " is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Bench.Profile == "" {
		c.Bench.Profile = DefaultProfile
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = DefaultAddr
	}
	if c.Serve.Tick == "" {
		c.Serve.Tick = DefaultTick
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Profile(c.Bench.Profile); err != nil {
		return err
	}
	for name, p := range c.Bench.Profiles {
		if p.Writers < 1 || p.Iterations < 1 || p.Readers < 0 || p.Subscribers < 0 {
			return errors.New(errors.CodeInvalidConfig).
				WithDetail("bench profile " + strconv.Quote(name) + " needs writers >= 1, iterations >= 1 and non-negative readers and subscribers")
		}
	}
	if d, err := time.ParseDuration(c.Serve.Tick); err != nil || d <= 0 {
		return errors.New(errors.CodeInvalidConfig).
			WithDetail("serve.tick must be a positive duration, got " + strconv.Quote(c.Serve.Tick))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New(errors.CodeInvalidConfig).
			WithDetail("log.format must be text or json, got " + strconv.Quote(c.Log.Format))
	}
	return nil
}

// Profile returns the named bench profile. Profiles in grist.json take
// precedence over the built-in fast, standard and stress profiles.
func (c *Config) Profile(name string) (BenchProfile, error) {
	if p, ok := c.Bench.Profiles[name]; ok {
		return p, nil
	}
	if p, ok := builtinProfiles[name]; ok {
		return p, nil
	}
	return BenchProfile{}, errors.New(errors.CodeUnknownProfile).
		WithDetail("Unknown profile " + strconv.Quote(name)).
		WithSuggestion("Use one of: " + strings.Join(c.ProfileNames(), ", "))
}

// ProfileNames returns every available profile name, sorted.
func (c *Config) ProfileNames() []string {
	seen := make(map[string]bool)
	var names []string
	for name := range builtinProfiles {
		seen[name] = true
		names = append(names, name)
	}
	for name := range c.Bench.Profiles {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TickInterval returns Serve.Tick as a duration.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Serve.Tick)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultTick)
	}
	return d
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.New(errors.CodeInvalidConfig).
			WithDetail("log.level must be debug, info, warn or error, got " + strconv.Quote(s))
	}
	return level, nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
