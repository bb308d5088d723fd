package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/cipolicy/gh-ci/pkg/cli"
	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   constants.CLIName,
	Short: "Compile, validate and run the Rust CI policy",
	Long: `gh-ci manages the repository's CI policy: a build job over a stable and
nightly toolchain matrix plus format and lint verification jobs, triggered by
merge queues and by pushes and pull requests to main and dev.

The policy compiles to a GitHub Actions workflow and can be planned and run
locally for any of its trigger events.

Debug logging is enabled with DEBUG, e.g. DEBUG=runner:* or DEBUG=*.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show gh-ci version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (%s, %s/%s)\n",
			constants.CLIName, constants.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

var (
	compileCmd  = cli.NewCompileCommand()
	validateCmd = cli.NewValidateCommand()
	planCmd     = cli.NewPlanCommand()
	runCmd      = cli.NewRunCommand()
	watchCmd    = cli.NewWatchCommand()
)

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.Version = constants.Version
	rootCmd.SetVersionTemplate(constants.CLIName + " version {{.Version}}\n")

	rootCmd.AddCommand(compileCmd, validateCmd, planCmd, runCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, cli.ErrRunFailed) {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
		}
		os.Exit(1)
	}
}
