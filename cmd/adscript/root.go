package main

import (
	"github.com/spf13/cobra"

	"github.com/Corphon/AdScriptStudio/internal/config"
)

// commands tagged with this annotation read the live settings
const needsConfig = "needs-config"

type outputOptions struct {
	json    bool
	noColor bool
}

func newRootCommand() *cobra.Command {
	out := &outputOptions{}
	var dataDir string

	rootCmd := &cobra.Command{
		Use:           "adscript",
		Short:         "Selective refinement tools for ad scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := cmd.Annotations[needsConfig]; !ok {
				return nil
			}
			if dataDir == "" {
				base, err := config.Load()
				if err != nil {
					return err
				}
				dataDir = base.DataDir
			}
			return config.InitConfig(dataDir)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&out.json, "json", false, "Print machine-readable JSON")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding config.toml (default $DATA_DIR or ./data)")
	rootCmd.PersistentFlags().BoolVar(&out.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newEncodeCommand(out))
	rootCmd.AddCommand(newReconcileCommand(out))
	rootCmd.AddCommand(newRefineCommand(out))
	rootCmd.AddCommand(newExamplesCommand(out))
	return rootCmd
}
