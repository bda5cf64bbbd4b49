// Package config provides configuration management for coffeefilter using
// Viper for flexible configuration loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files, environment variable
// overrides with the COFFEEFILTER_ prefix, and validation. It covers the
// serving layer, the request filter prefixes, the artifact cache, the
// compiler backend, the source watcher and logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable overrides.
const EnvPrefix = "COFFEEFILTER"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Filter   FilterConfig   `mapstructure:"filter" yaml:"filter"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Compiler CompilerConfig `mapstructure:"compiler" yaml:"compiler"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// Root is the resource base: sources and static files live under it.
	Root           string   `mapstructure:"root" yaml:"root"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type FilterConfig struct {
	JSPrefix     string `mapstructure:"js_prefix" yaml:"js_prefix"`
	SourcePrefix string `mapstructure:"source_prefix" yaml:"source_prefix"`
}

type CacheConfig struct {
	Capacity     int    `mapstructure:"capacity" yaml:"capacity"`
	Policy       string `mapstructure:"policy" yaml:"policy"`
	SingleFlight bool   `mapstructure:"single_flight" yaml:"single_flight"`
}

type CompilerConfig struct {
	Kind      string        `mapstructure:"kind" yaml:"kind"`
	Command   string        `mapstructure:"command" yaml:"command"`
	Args      []string      `mapstructure:"args" yaml:"args"`
	Script    string        `mapstructure:"script" yaml:"script"`
	Namespace string        `mapstructure:"namespace" yaml:"namespace"`
	Bare      bool          `mapstructure:"bare" yaml:"bare"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
			Root: ".",
		},
		Filter: FilterConfig{
			JSPrefix:     "/js",
			SourcePrefix: "/WEB-INF/coffee",
		},
		Cache: CacheConfig{
			Capacity:     100,
			Policy:       "lru",
			SingleFlight: true,
		},
		Compiler: CompilerConfig{
			Kind:      "command",
			Command:   "coffee",
			Args:      []string{"--stdio", "--print"},
			Namespace: "CoffeeScript",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 300 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Keys lists every configuration key.
var Keys = []string{
	"server.host", "server.port", "server.root", "server.allowed_origins",
	"filter.js_prefix", "filter.source_prefix",
	"cache.capacity", "cache.policy", "cache.single_flight",
	"compiler.kind", "compiler.command", "compiler.args", "compiler.script",
	"compiler.namespace", "compiler.bare", "compiler.timeout",
	"watch.enabled", "watch.debounce",
	"log.level", "log.format",
}

// BindEnv makes every key visible to Unmarshal through its
// COFFEEFILTER_<SECTION>_<KEY> variable. AutomaticEnv alone only covers
// keys viper already knows about.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults for unset
// values and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(v, &config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults fills zero values. Booleans use v.IsSet since false is a
// meaningful setting.
func applyDefaults(v *viper.Viper, config *Config) {
	def := Default()

	if config.Server.Host == "" {
		config.Server.Host = def.Server.Host
	}
	if !v.IsSet("server.port") {
		config.Server.Port = def.Server.Port
	}
	if config.Server.Root == "" {
		config.Server.Root = def.Server.Root
	}

	// Handle allowed origins set via viper (workaround for viper slice handling)
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if config.Filter.JSPrefix == "" {
		config.Filter.JSPrefix = def.Filter.JSPrefix
	}
	if config.Filter.SourcePrefix == "" {
		config.Filter.SourcePrefix = def.Filter.SourcePrefix
	}

	if !v.IsSet("cache.capacity") {
		config.Cache.Capacity = def.Cache.Capacity
	}
	if config.Cache.Policy == "" {
		config.Cache.Policy = def.Cache.Policy
	}
	if !v.IsSet("cache.single_flight") {
		config.Cache.SingleFlight = def.Cache.SingleFlight
	}

	if config.Compiler.Kind == "" {
		config.Compiler.Kind = def.Compiler.Kind
	}
	if config.Compiler.Command == "" {
		config.Compiler.Command = def.Compiler.Command
	}
	if v.IsSet("compiler.args") && len(config.Compiler.Args) == 0 {
		config.Compiler.Args = v.GetStringSlice("compiler.args")
	}
	if !v.IsSet("compiler.args") {
		config.Compiler.Args = def.Compiler.Args
	}
	if config.Compiler.Namespace == "" {
		config.Compiler.Namespace = def.Compiler.Namespace
	}

	if !v.IsSet("watch.enabled") {
		config.Watch.Enabled = def.Watch.Enabled
	}
	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = def.Watch.Debounce
	}

	if config.Log.Level == "" {
		config.Log.Level = def.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = def.Log.Format
	}
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if result.HasErrors() {
		first := result.Errors[0]
		return &first
	}
	return nil
}
