package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/coffeefilter/internal/version"
)

var (
	versionFormat   string
	versionShort    bool
	versionDetailed bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for coffeefilter including:

- Semantic version number
- Git commit hash
- Build timestamp
- Go version and target platform

Examples:
  coffeefilter version               # Show version
  coffeefilter version --detailed    # Show detailed version info
  coffeefilter version --format json # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json, yaml)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	return writeVersion(cmd.OutOrStdout(), version.Get(), versionFormat, versionShort, versionDetailed)
}

func writeVersion(w io.Writer, info version.Info, format string, short, detailed bool) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(versionDocument(info))
	case "yaml":
		return yaml.NewEncoder(w).Encode(versionDocument(info))
	case "text":
		switch {
		case short:
			_, err := fmt.Fprintln(w, info.Short())
			return err
		case detailed:
			buildType := "development"
			if info.IsRelease() {
				buildType = "release"
			}
			_, err := fmt.Fprintf(w, "%s\nBuild type: %s\n", info.Detailed(), buildType)
			return err
		default:
			_, err := fmt.Fprintf(w, "coffeefilter %s\n", info.Short())
			return err
		}
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", format)
	}
}

type versionDoc struct {
	version.Info `yaml:",inline"`
	IsRelease    bool `json:"is_release" yaml:"is_release"`
}

func versionDocument(info version.Info) versionDoc {
	return versionDoc{Info: info, IsRelease: info.IsRelease()}
}
