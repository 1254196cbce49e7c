package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "restorer",
	Short: "Restore, enhance and colorize old photographs with Gemini",
	Long: `Photo Restorer sends a photograph and an optional instruction to Gemini
and returns the restored image.

Quick Start:
  restorer serve                                   # Start the web UI on $PORT
  restorer restore old.jpg                         # Write old_restored.png
  restorer restore old.jpg --instruction "sepia"   # Add your own instructions

The Gemini key is read from API_KEY (or GEMINI_API_KEY) when a restoration runs.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
