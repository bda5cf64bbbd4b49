package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/coffeefilter/internal/config"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Write a default configuration and source layout",
	Long: `Initialize a coffeefilter resource root. Writes .coffeefilter.yml with the
default settings and, unless --minimal is given, a sample source under
WEB-INF/coffee and a page that loads its compiled script.

Examples:
  coffeefilter init              # Initialize the current directory
  coffeefilter init webapp       # Initialize ./webapp
  coffeefilter init --minimal    # Only write the configuration file
  coffeefilter init --force      # Overwrite an existing configuration`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initMinimal bool
	initForce   bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Only write the configuration file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	return initProject(dir, initMinimal, initForce, cmd.OutOrStdout())
}

// initProject lays out a resource root in dir.
func initProject(dir string, minimal, force bool, w io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	cfg := config.Default()
	data, err := marshalConfig(cfg)
	if err != nil {
		return err
	}

	type projectFile struct {
		name    string
		content []byte
	}
	files := []projectFile{{ConfigName + ".yml", data}}
	if !minimal {
		sourceDir := filepath.FromSlash(cfg.Filter.SourcePrefix[1:])
		files = append(files,
			projectFile{filepath.Join(sourceDir, "app.coffee"), []byte(sampleSource)},
			projectFile{"index.html", []byte(fmt.Sprintf(samplePage, cfg.Filter.JSPrefix))},
		)
	}

	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeProjectFile(path, f.content, force); err != nil {
			return err
		}
		fmt.Fprintf(w, "Created %s\n", path)
	}

	fmt.Fprintf(w, "\nRun 'coffeefilter serve --root %s' and open http://%s:%d/\n",
		dir, cfg.Server.Host, cfg.Server.Port)
	return nil
}

// marshalConfig renders cfg as YAML with two-space indentation.
func marshalConfig(cfg *config.Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# coffeefilter configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeProjectFile(path string, content []byte, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

const sampleSource = `greet = (name) -> "Hello, #{name}!"

document.addEventListener "DOMContentLoaded", ->
  document.body.appendChild document.createTextNode greet "coffeefilter"
`

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>coffeefilter</title>
  <script src="%s/app.js"></script>
</head>
<body></body>
</html>
`
