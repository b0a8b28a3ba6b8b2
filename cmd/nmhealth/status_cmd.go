package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"nmhealth-go/internal/cli/output"
	"nmhealth-go/internal/config"
	"nmhealth-go/internal/contracts"
)

type statusOptions struct {
	server   string
	evaluate bool
	output   string
}

func newStatusCommand() *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status [target]",
		Short: "Show the latest state of each target from a running serve process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runStatus(cmd.Context(), opts, target, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "Address of the serve process (default: listen address from config)")
	cmd.Flags().BoolVar(&opts.evaluate, "evaluate", false, "Evaluate the target now instead of showing its last result")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: table, json, yaml")

	return cmd
}

func runStatus(ctx context.Context, opts *statusOptions, target string, stdout io.Writer) error {
	formatter, format, err := newFormatter(opts.output)
	if err != nil {
		return err
	}
	if opts.evaluate && target == "" {
		return outputError(stdout, format,
			output.NewStructuredError(output.ErrCodeInvalidInput, "--evaluate needs a target"),
			output.ErrCodeInvalidInput, ExitCodeGeneralError)
	}

	// With --server and no --config the daemon is assumed to speak plain
	// HTTP.
	var cfg *config.Config
	server := opts.server
	if server == "" || configFile != "" {
		cfg, err = loadConfig()
		if err != nil {
			return outputError(stdout, format, err, output.ErrCodeConfigInvalid, ExitCodeConfigError)
		}
		if server == "" {
			server = cfg.Listen
		}
	}
	client, err := newAPIClient(cfg, server, nil)
	if err != nil {
		return outputError(stdout, format, err, output.ErrCodeConfigInvalid, ExitCodeConfigError)
	}

	switch {
	case opts.evaluate:
		record, err := client.Evaluate(ctx, target)
		if err != nil {
			return outputError(stdout, format, cliError("evaluation failed", err), output.ErrCodeOperationFailed, ExitCodeGeneralError)
		}
		if output.IsStructured(format) {
			return writeData(stdout, formatter, record)
		}
		return writeData(stdout, formatter, []*contracts.AlertRecord{record})

	case target != "":
		status, err := client.GetAlert(ctx, target)
		if err != nil {
			return outputError(stdout, format, cliError("failed to get status", err), output.ErrCodeTargetNotFound, ExitCodeGeneralError)
		}
		if output.IsStructured(format) {
			return writeData(stdout, formatter, status)
		}
		return writeData(stdout, formatter, []contracts.TargetStatus{*status})

	default:
		statuses, err := client.ListAlerts(ctx)
		if err != nil {
			return outputError(stdout, format, cliError("failed to get status", err), output.ErrCodeOperationFailed, ExitCodeGeneralError)
		}
		return writeData(stdout, formatter, statuses)
	}
}
