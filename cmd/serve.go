package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/coffeefilter/internal/config"
	"github.com/conneroisu/coffeefilter/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve compiled CoffeeScript and static files",
	Long: `Start the HTTP server. Requests for <js-prefix>/<name>.js are answered
with the compiled form of <source-prefix>/<name>.coffee under the resource
root; everything else is served from the root as static files. Files under
/WEB-INF are never served directly.

Examples:
  coffeefilter serve                          # Serve the current directory
  coffeefilter serve --root ./webapp -p 3000  # Serve ./webapp on port 3000
  coffeefilter serve --js-prefix /scripts     # Compile /scripts/*.js requests`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveFlags *ServeFlags

func init() {
	rootCmd.AddCommand(serveCmd)

	serveFlags = AddServeFlags(serveCmd)
	if err := BindServeFlags(serveCmd, viper.GetViper()); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if serveFlags.NoWatch {
		cfg.Watch.Enabled = false
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error(shutdownCtx, shutdownErr, "Error during server shutdown")
		}
		cancel()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting coffeefilter at http://%s:%d%s\n",
		cfg.Server.Host, cfg.Server.Port, cfg.Filter.JSPrefix)

	return srv.Start(ctx)
}
