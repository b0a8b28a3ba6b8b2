package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nmhealth-go/internal/alert"
	"nmhealth-go/internal/config"
	"nmhealth-go/internal/configimport"
	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/scheduler"
)

type checkOptions struct {
	target             string
	configurationsFile string
	sets               []string
	params             []string
	host               string
	timeout            time.Duration
	output             string
}

func newCheckCommand() *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the alert once and exit with its state",
		Long: `Evaluate the NodeManager health summary alert once, print the state and
messages, and exit with 0 (OK), 1 (WARNING), 2 (CRITICAL) or 3 (UNKNOWN).

Configuration tokens come from --target (a target in the config file),
--configurations (a json, yaml or toml file) and --set, in that order of
precedence, lowest first.`,
		Example: `  nmhealth check --set yarn-site/yarn.resourcemanager.webapp.address=rm1:8088
  nmhealth check --configurations yarn.yaml --host rm1.example.com -o json
  nmhealth check --target rm1 --timeout 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.target, "target", "", "Start from a target defined in the config file")
	cmd.Flags().StringVar(&opts.configurationsFile, "configurations", "", "Configuration tokens file (json, yaml or toml)")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "Configuration token override as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "Alert parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.host, "host", "", "ResourceManager host name (default: this host)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Connection timeout (overrides connection.timeout)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: table, json, yaml")

	return cmd
}

// runCheck never fails on bad input: problems the evaluator can't see
// (unreadable config, unknown target, malformed flags) are reported as an
// UNKNOWN result like any other.
func runCheck(ctx context.Context, opts *checkOptions, stdout io.Writer) error {
	formatter, _, err := newFormatter(opts.output)
	if err != nil {
		return &exitError{code: contracts.StateUnknown.ExitCode(), err: err}
	}

	result, err := evaluateCheck(ctx, opts)
	if err != nil {
		result = contracts.NewAlertResult(contracts.StateUnknown, err.Error())
	}

	if err := writeData(stdout, formatter, result); err != nil {
		return &exitError{code: contracts.StateUnknown.ExitCode(), err: err}
	}
	return stateExit(result.State)
}

func evaluateCheck(ctx context.Context, opts *checkOptions) (contracts.AlertResult, error) {
	cfg, err := loadConfig()
	if err != nil {
		return contracts.AlertResult{}, err
	}

	logger, err := setupLogger(cfg, false)
	if err != nil {
		return contracts.AlertResult{}, err
	}
	defer func() {
		_ = logger.Sync()
	}()

	tc, err := opts.targetConfig(cfg)
	if err != nil {
		return contracts.AlertResult{}, err
	}

	inv, err := scheduler.BuildInvocation(tc, cfg.Evaluator.Timeout.Std(), os.Hostname)
	if err != nil {
		return contracts.AlertResult{}, err
	}

	evaluator := alert.New(alert.OptionsFromConfig(cfg.Evaluator, logger, nil))
	defer evaluator.Close()
	eval := evaluator.Run(ctx, inv)

	logger.Debug("Check finished",
		zap.String("state", string(eval.Result.State)),
		zap.String("stage", eval.Stage),
		zap.Int("roster_size", eval.RosterSize),
		zap.Bool("fallback", eval.Fallback),
		zap.Duration("duration", eval.Duration))

	return eval.Result, nil
}

// targetConfig layers the flags over the --target entry, if any.
func (o *checkOptions) targetConfig(cfg *config.Config) (*config.TargetConfig, error) {
	tc := &config.TargetConfig{Name: "check"}
	if o.target != "" {
		found := cfg.Target(o.target)
		if found == nil {
			return nil, fmt.Errorf("unknown target %q", o.target)
		}
		copied := *found
		tc = &copied
	}

	sets, err := parseKeyValues(o.sets, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("--set: %w", err)
	}
	params, err := parseKeyValues(o.params, nil)
	if err != nil {
		return nil, fmt.Errorf("--param: %w", err)
	}

	if o.configurationsFile != "" {
		tc.ConfigurationsFile = o.configurationsFile
	}
	tc.Configurations = configimport.Merge(tc.Configurations, sets)
	tc.Parameters = configimport.Merge(tc.Parameters, params)
	if o.timeout > 0 {
		tc.Parameters[alert.ConnectionTimeoutKey] = strconv.FormatFloat(o.timeout.Seconds(), 'f', -1, 64)
	}
	if o.host != "" {
		tc.HostName = o.host
	}
	return tc, nil
}
