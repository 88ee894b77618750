package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/picklr-io/strata/internal/logging"
)

var (
	projectDir string
	logLevel   string
	logFormat  string
	properties map[string]string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "State-aware selection and deferral for warehouse builds",
	Long: `Strata builds a graph of warehouse models, metrics, sources and tests, compares it
with the snapshot of a previous run and builds only what changed.

  strata ls -s state:modified+ --state .strata/prod
  strata run -s state:modified+ --state .strata/prod --defer

References to resources outside the selection are redirected to the relations
recorded in the --defer-state snapshot (defaults to --state).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env may set STRATA_LOG_LEVEL, so it is loaded before the logger
		dotEnvErr := loadDotEnv(projectDir)
		if !cmd.Flags().Changed("log-level") {
			if env := os.Getenv("STRATA_LOG_LEVEL"); env != "" {
				logLevel = env
			}
		}
		logging.Init(logLevel, logFormat)
		return dotEnvErr
	},
}

// Execute runs the root command. Cancelling ctx interrupts running invocations.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", ".", "Directory holding strata.yml, strata.hcl or strata.pkl")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringToStringVarP(&properties, "prop", "D", nil, "Set external properties for PKL projects (format: key=value)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}
