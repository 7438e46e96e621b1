package main

import (
	"modcompat/internal/version"

	"github.com/spf13/cobra"
)

var (
	// rootFlag overrides the workspace root (default: working directory)
	rootFlag string
	// verbosity is the number of -v flags
	verbosity int
	// quiet suppresses all log output
	quiet bool
	// logFormatFlag overrides logging.format from the config
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "modcompat",
	Short: "modcompat - mod conflict detection engine",
	Long: `modcompat detects conflicts between independently authored game mods.

It ingests pre-extracted facts (data overlay operations, reference edges and
binary method patches), builds the transitive reference closure and reports
direct, effect, indirect and patch conflicts ranked by severity and relevance.`,
	Version: version.Info(),
}

func init() {
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "",
		"Workspace root holding .modcompat/ (default: current directory)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"Suppress all log output")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "",
		"Log format: human, pretty or json (default: from config)")

	cobra.OnFinalize(closeLogger)
}
