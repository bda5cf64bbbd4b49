// Package cmd provides the command-line interface for coffeefilter.
//
// Configuration is read from several sources with clear precedence:
//
//  1. Command-line flags (--config, --port, etc.), highest priority
//  2. COFFEEFILTER_CONFIG_FILE environment variable, a custom config file path
//  3. Individual environment variables (COFFEEFILTER_SERVER_PORT, etc.)
//  4. Configuration files (.coffeefilter.yml), lowest priority
//
// Environment variables follow the COFFEEFILTER_<SECTION>_<OPTION> pattern,
// e.g. COFFEEFILTER_CACHE_CAPACITY=500 or COFFEEFILTER_FILTER_JS_PREFIX=/scripts.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/coffeefilter/internal/config"
	"github.com/conneroisu/coffeefilter/internal/logging"
)

// ConfigName is the default configuration file name, without extension.
const ConfigName = ".coffeefilter"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coffeefilter",
	Short: "Serve CoffeeScript sources as compiled JavaScript",
	Long: `coffeefilter sits in front of a static file server and answers requests
for /js/<name>.js with the compiled form of /WEB-INF/coffee/<name>.coffee.

Compiled scripts are cached in a bounded LRU cache, recompiled when the
source changes, and served with Last-Modified so browsers can revalidate
with If-Modified-Since. Requests without a matching source fall through to
the static files under the resource root.

Quick Start:
  coffeefilter init                  Write a default .coffeefilter.yml
  coffeefilter serve                 Start the server
  coffeefilter compile app.coffee    Compile one file to stdout`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is "+ConfigName+".yml, can also use "+config.EnvPrefix+"_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the configuration file and environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(ConfigName)
	}

	viper.AutomaticEnv()
	if err := config.BindEnv(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}

	// A missing or unreadable file leaves the defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config) (*logging.FilterLogger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}), nil
}
