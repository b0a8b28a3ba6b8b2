package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nmhealth-go/internal/cli/output"
)

var (
	configFile string
	dataDir    string
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	os.Exit(execute(newRootCommand(), os.Args[1:]))
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nmhealth",
		Short:         "NodeManager health summary alert for YARN ResourceManagers",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.nmhealth)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file in standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")

	rootCmd.AddCommand(
		newCheckCommand(),
		newServeCommand(),
		newHistoryCommand(),
		newStatusCommand(),
		newTokensCommand(),
		newVersionCommand(),
	)
	output.SetupHelpJSON(rootCmd)
	return rootCmd
}

// execute runs the command tree and maps its error to a process exit code.
func execute(rootCmd *cobra.Command, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil || errors.Is(err, output.ErrHelpShown) {
		return ExitCodeSuccess
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil && !exitErr.reported {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}

	code := classifyError(err)
	if code == ExitCodeGeneralError {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	} else {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v (%s)\n", err, exitCodeDescription(code))
	}
	return code
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nmhealth %s\n", version)
		},
	}
}
