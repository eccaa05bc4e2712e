// cmd.go - CLI setup and root command
// Main functions: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maskdetect/maskdetect/envconfig"
	"github.com/maskdetect/maskdetect/logutil"
)

// appendEnvDocs adds the environment variables cmd reads to its usage text.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the maskdetect command tree.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "maskdetect",
		Short:         "Face and face mask detector",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	runCmd := newRunCmd()
	showCmd := newShowCmd()
	inspectCmd := newInspectCmd()
	convertCmd := newConvertCmd()

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{runCmd, showCmd, inspectCmd, convertCmd} {
		switch cmd {
		case runCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["MASKDETECT_DEBUG"],
				envVars["MASKDETECT_MODELS"],
				envVars["MASKDETECT_NUM_THREADS"],
				envVars["MASKDETECT_PRETRAIN"],
				envVars["MASKDETECT_STRICT"],
			})
		case convertCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["MASKDETECT_DEBUG"],
				envVars["MASKDETECT_MODELS"],
				envVars["MASKDETECT_PRETRAIN"],
			})
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["MASKDETECT_DEBUG"], envVars["MASKDETECT_MODELS"]})
		}
	}

	rootCmd.AddCommand(runCmd, showCmd, inspectCmd, convertCmd)

	return rootCmd
}

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run IMAGE...",
		Short: "Run the detector on images and report the strongest anchors",
		Args:  cobra.MinimumNArgs(1),
		RunE:  RunHandler,
	}

	addModelFlags(runCmd)
	runCmd.Flags().String("mode", "inference", "Output mode: inference or train")
	runCmd.Flags().Int("size", 0, "Resize images to fit a size x size box before padding (0 keeps the original size)")
	runCmd.Flags().Int("top", 10, "Number of anchors to report per image")
	runCmd.Flags().Bool("dump", false, "Print the heatmap values")

	return runCmd
}

func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a detector configuration and its parameters",
		Args:  cobra.NoArgs,
		RunE:  ShowHandler,
	}

	addModelFlags(showCmd)
	showCmd.Flags().BoolP("verbose", "v", false, "List every parameter tensor")

	return showCmd
}

func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect CHECKPOINT",
		Short: "List the tensors stored in a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().String("prefix", "", "Only list tensors under this name prefix")

	return inspectCmd
}

// newConvertCmd creates the convert command.
func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Convert a detector checkpoint to safetensors",
		Args:  cobra.ExactArgs(2),
		RunE:  ConvertHandler,
	}

	convertCmd.Flags().String("config", "", "Path to a YAML detector configuration")
	convertCmd.Flags().String("preset", "mobilenet0.25", "Built-in configuration to use when --config is not set")

	return convertCmd
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to a YAML detector configuration")
	cmd.Flags().String("preset", "mobilenet0.25", "Built-in configuration to use when --config is not set")
	cmd.Flags().String("weights", "", "Checkpoint holding every detector parameter")
}
