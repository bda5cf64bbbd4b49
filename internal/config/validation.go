package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/conneroisu/coffeefilter/internal/cache"
	"github.com/conneroisu/coffeefilter/internal/logging"
	"github.com/conneroisu/coffeefilter/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("❌ Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("⚠️  Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServerConfigDetails(&config.Server, result)
	validateFilterConfigDetails(&config.Filter, result)
	validateCacheConfigDetails(&config.Cache, result)
	validateCompilerConfigDetails(&config.Compiler, result)
	validateWatchConfigDetails(&config.Watch, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{
				"Use a port between 1024-65535 for non-privileged access",
				"Port 0 allows system to assign an available port",
			},
		})
	} else if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: "port below 1024 requires elevated privileges",
		})
	}

	if strings.ContainsAny(config.Host, ";&|$`()<>\"'\\ ") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.host",
			Value:   config.Host,
			Message: "host contains invalid characters",
			Suggestions: []string{
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces",
			},
		})
	}

	if err := validation.ValidatePath(config.Root); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.root",
			Value:   config.Root,
			Message: err.Error(),
			Suggestions: []string{
				"Point root at the web application directory, e.g. ./webapp",
			},
		})
	}
}

func validateFilterConfigDetails(config *FilterConfig, result *ValidationResult) {
	prefixes := []struct {
		field string
		value string
	}{
		{"filter.js_prefix", config.JSPrefix},
		{"filter.source_prefix", config.SourcePrefix},
	}
	for _, p := range prefixes {
		if err := validation.ValidateURLPrefix(p.value); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:       p.field,
				Value:       p.value,
				Message:     err.Error(),
				Suggestions: []string{"Prefixes are absolute paths such as /js or /WEB-INF/coffee"},
			})
		}
	}

	if config.JSPrefix != "" && strings.TrimRight(config.JSPrefix, "/") == strings.TrimRight(config.SourcePrefix, "/") {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "filter.source_prefix",
			Value:   config.SourcePrefix,
			Message: "sources are served from the same prefix as compiled scripts",
		})
	}
}

func validateCacheConfigDetails(config *CacheConfig, result *ValidationResult) {
	if config.Capacity < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "cache.capacity",
			Value:       config.Capacity,
			Message:     fmt.Sprintf("capacity must be at least 1, got %d", config.Capacity),
			Suggestions: []string{"The default capacity is 100 artifacts"},
		})
	}

	if _, err := cache.ParsePolicyType(config.Policy); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "cache.policy",
			Value:       config.Policy,
			Message:     err.Error(),
			Suggestions: []string{"Supported policies: lru, fifo"},
		})
	}
}

func validateCompilerConfigDetails(config *CompilerConfig, result *ValidationResult) {
	switch config.Kind {
	case "command":
		if err := validation.ValidateArgument(config.Command); err != nil || config.Command == "" {
			msg := "command cannot be empty"
			if err != nil {
				msg = err.Error()
			}
			result.Errors = append(result.Errors, ValidationError{
				Field:   "compiler.command",
				Value:   config.Command,
				Message: msg,
			})
		}
	case "script":
		if config.Script == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:       "compiler.script",
				Value:       config.Script,
				Message:     "script compiler requires the path of a compiler bundle",
				Suggestions: []string{"Download coffee-script.js and set compiler.script to its path"},
			})
		} else if err := validation.ValidatePath(config.Script); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "compiler.script",
				Value:   config.Script,
				Message: err.Error(),
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:       "compiler.kind",
			Value:       config.Kind,
			Message:     fmt.Sprintf("unknown compiler kind %q", config.Kind),
			Suggestions: []string{"Supported kinds: command, script"},
		})
	}

	if config.Timeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "compiler.timeout",
			Value:   config.Timeout,
			Message: "timeout cannot be negative",
		})
	}
}

func validateWatchConfigDetails(config *WatchConfig, result *ValidationResult) {
	if config.Debounce < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "watch.debounce",
			Value:   config.Debounce,
			Message: "debounce cannot be negative",
		})
	} else if config.Enabled && config.Debounce > 10*time.Second {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "watch.debounce",
			Value:   config.Debounce,
			Message: "long debounce delays cache cleanup after source changes",
		})
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.level",
			Value:       config.Level,
			Message:     err.Error(),
			Suggestions: []string{"Supported levels: debug, info, warn, error"},
		})
	}
	if config.Format != "text" && config.Format != "json" {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.format",
			Value:       config.Format,
			Message:     fmt.Sprintf("unknown log format %q", config.Format),
			Suggestions: []string{"Supported formats: text, json"},
		})
	}
}
