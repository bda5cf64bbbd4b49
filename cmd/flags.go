package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/coffeefilter/internal/validation"
)

// ServeFlags are the serve command's overrides of the config file.
type ServeFlags struct {
	Port         int
	Host         string
	Root         string
	JSPrefix     string
	SourcePrefix string
	Capacity     int
	Policy       string
	NoWatch      bool
}

// serveBindings maps flag names to the config keys they override.
var serveBindings = map[string]string{
	"port":          "server.port",
	"host":          "server.host",
	"root":          "server.root",
	"js-prefix":     "filter.js_prefix",
	"source-prefix": "filter.source_prefix",
	"capacity":      "cache.capacity",
	"policy":        "cache.policy",
}

// AddServeFlags registers the serving flags on cmd.
func AddServeFlags(cmd *cobra.Command) *ServeFlags {
	flags := &ServeFlags{}

	cmd.Flags().IntVarP(&flags.Port, "port", "p", 8080, "Port to serve on")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
	cmd.Flags().StringVarP(&flags.Root, "root", "r", ".", "Resource root holding sources and static files")
	cmd.Flags().StringVar(&flags.JSPrefix, "js-prefix", "/js", "URL prefix of compiled scripts")
	cmd.Flags().StringVar(&flags.SourcePrefix, "source-prefix", "/WEB-INF/coffee", "Resource prefix of CoffeeScript sources")
	cmd.Flags().IntVar(&flags.Capacity, "capacity", 100, "Maximum number of cached scripts")
	cmd.Flags().StringVar(&flags.Policy, "policy", "lru", "Cache eviction policy (lru, fifo)")
	cmd.Flags().BoolVar(&flags.NoWatch, "no-watch", false, "Don't watch sources for changes")

	AddFlagValidation(cmd, "port", ValidatePort)
	AddFlagValidation(cmd, "js-prefix", validation.ValidateURLPrefix)
	AddFlagValidation(cmd, "source-prefix", validation.ValidateURLPrefix)
	AddFlagValidation(cmd, "root", ValidateDirExists)

	return flags
}

// BindServeFlags binds the serving flags to their config keys.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flagName, configKey := range serveBindings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(configKey, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", flagName, err)
		}
	}
	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort checks a port flag value. Zero picks a free port.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidateDirExists checks that a directory flag names an existing directory.
func ValidateDirExists(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	return nil
}
