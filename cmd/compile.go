package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/coffeefilter/internal/compiler"
	"github.com/conneroisu/coffeefilter/internal/config"
	"github.com/conneroisu/coffeefilter/internal/logging"
	"github.com/conneroisu/coffeefilter/internal/validation"
)

var compileCmd = &cobra.Command{
	Use:   "compile <file.coffee>",
	Short: "Compile a CoffeeScript file once",
	Long: `Compile a single CoffeeScript file with the configured compiler backend
and write the JavaScript to stdout or to --output. Useful for checking a
source before it is served.

Examples:
  coffeefilter compile WEB-INF/coffee/app.coffee
  coffeefilter compile --bare -o app.js WEB-INF/coffee/app.coffee`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

var (
	compileBare   bool
	compileOutput string
	compileFs     afero.Fs = afero.NewOsFs()
)

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().BoolVar(&compileBare, "bare", false, "Compile without the top-level function wrapper")
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "Write the result to a file instead of stdout")
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("bare") {
		cfg.Compiler.Bare = compileBare
	}

	return compileFile(cmd.Context(), cfg, args[0], compileOutput, cmd.OutOrStdout())
}

// compileFile compiles path through a gateway built from cfg and writes the
// result to output, or to w when output is empty.
func compileFile(ctx context.Context, cfg *config.Config, path, output string, w io.Writer) error {
	if err := validation.ValidatePath(path); err != nil {
		return err
	}
	if filepath.Ext(path) != ".coffee" {
		return fmt.Errorf("not a CoffeeScript file: %s", path)
	}

	src, err := afero.ReadFile(compileFs, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	backend, err := compiler.New(compileFs, compiler.Options{
		Kind:      compiler.Kind(cfg.Compiler.Kind),
		Command:   cfg.Compiler.Command,
		Args:      cfg.Compiler.Args,
		Script:    cfg.Compiler.Script,
		Namespace: cfg.Compiler.Namespace,
		Bare:      cfg.Compiler.Bare,
	})
	if err != nil {
		return fmt.Errorf("failed to create compiler: %w", err)
	}

	if cfg.Compiler.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Compiler.Timeout)
		defer cancel()
	}

	gateway := compiler.NewGateway(backend, logging.Discard())
	js, err := gateway.Compile(ctx, filepath.ToSlash(path), string(src))
	if err != nil {
		return err
	}

	if output == "" {
		_, err = io.WriteString(w, js)
		return err
	}
	if err := afero.WriteFile(compileFs, output, []byte(js), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(w, "Compiled %s -> %s\n", path, output)
	return nil
}
