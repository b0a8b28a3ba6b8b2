package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nmhealth-go/internal/cli/output"
	"nmhealth-go/internal/cliclient"
	"nmhealth-go/internal/config"
	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/storage"
)

type historyOptions struct {
	states         []string
	since          time.Duration
	limit          int
	includeSkipped bool
	server         string
	output         string
}

// historySource is where the history command reads records from: the
// database file, or the API of a running serve process holding its lock.
type historySource interface {
	Targets(ctx context.Context) ([]string, error)
	List(ctx context.Context, target string, q cliclient.HistoryQuery) ([]*contracts.AlertRecord, int, error)
}

func newHistoryCommand() *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history [target]",
		Short: "Show stored alert results, newest first",
		Long: `Show stored alert results, newest first. Without a target every target's
history is merged. The database is read directly unless a serve process is
running, in which case its HTTP API is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runHistory(cmd.Context(), opts, target, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&opts.states, "state", nil, "Only show these states (OK, WARNING, CRITICAL, UNKNOWN)")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only show records newer than this, e.g. 24h")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", storage.DefaultHistoryLimit, "Maximum number of records")
	cmd.Flags().BoolVar(&opts.includeSkipped, "include-skipped", false, "Include runs skipped by the status command")
	cmd.Flags().StringVar(&opts.server, "server", "", "Read from a running serve process at this address")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: table, json, yaml")

	return cmd
}

func runHistory(ctx context.Context, opts *historyOptions, target string, stdout io.Writer) error {
	formatter, format, err := newFormatter(opts.output)
	if err != nil {
		return err
	}

	query, err := opts.query(time.Now())
	if err != nil {
		return outputError(stdout, format, err, output.ErrCodeInvalidInput, ExitCodeGeneralError)
	}

	cfg, err := loadConfig()
	if err != nil {
		return outputError(stdout, format, err, output.ErrCodeConfigInvalid, ExitCodeConfigError)
	}
	logger, err := setupLogger(cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	source, closeSource, err := openHistorySource(ctx, cfg, opts.server, logger)
	if err != nil {
		return outputError(stdout, format, err, output.ErrCodeHistoryUnavailable, classifyError(err))
	}
	defer closeSource()

	records, total, err := collectHistory(ctx, source, target, query)
	if err != nil {
		return outputError(stdout, format, cliError("failed to read history", err), output.ErrCodeOperationFailed, ExitCodeGeneralError)
	}

	if output.IsStructured(format) {
		return writeData(stdout, formatter, contracts.HistoryResponse{
			Target:  target,
			Records: records,
			Total:   total,
			Limit:   query.Limit,
		})
	}
	return writeData(stdout, formatter, records)
}

func (o *historyOptions) query(now time.Time) (cliclient.HistoryQuery, error) {
	q := cliclient.HistoryQuery{
		Limit:          o.limit,
		IncludeSkipped: o.includeSkipped,
	}
	if o.limit <= 0 || o.limit > storage.MaxHistoryLimit {
		return q, fmt.Errorf("--limit must be between 1 and %d", storage.MaxHistoryLimit)
	}
	if o.since < 0 {
		return q, fmt.Errorf("--since must not be negative")
	}
	if o.since > 0 {
		q.Since = now.Add(-o.since)
	}
	for _, raw := range o.states {
		state, err := contracts.ParseAlertState(strings.TrimSpace(raw))
		if err != nil {
			return q, err
		}
		q.States = append(q.States, state)
	}
	return q, nil
}

// openHistorySource prefers an explicit --server, then a serve process
// answering on the configured listen address, then the database file.
func openHistorySource(ctx context.Context, cfg *config.Config, server string, logger *zap.Logger) (historySource, func(), error) {
	sugar := logger.Sugar()

	if server != "" {
		client, err := newAPIClient(cfg, server, sugar)
		if err != nil {
			return nil, nil, err
		}
		return &apiHistory{client: client}, func() {}, nil
	}

	if client, err := newAPIClient(cfg, cfg.Listen, sugar); err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err == nil {
			logger.Debug("Reading history from running daemon", zap.String("listen", cfg.Listen))
			return &apiHistory{client: client}, func() {}, nil
		}
	}

	manager, err := storage.OpenReadOnly(cfg.DataDir, sugar.Named("storage"))
	if err != nil {
		return nil, nil, err
	}
	return &dbHistory{manager: manager}, func() { _ = manager.Close() }, nil
}

// collectHistory lists one target, or merges every target newest first.
func collectHistory(ctx context.Context, source historySource, target string, q cliclient.HistoryQuery) ([]*contracts.AlertRecord, int, error) {
	targets := []string{target}
	if target == "" {
		var err error
		if targets, err = source.Targets(ctx); err != nil {
			return nil, 0, err
		}
	}

	records := []*contracts.AlertRecord{}
	total := 0
	for _, name := range targets {
		got, n, err := source.List(ctx, name, q)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, got...)
		total += n
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records, total, nil
}

type dbHistory struct {
	manager *storage.Manager
}

func (h *dbHistory) Targets(context.Context) ([]string, error) {
	return h.manager.Targets()
}

func (h *dbHistory) List(_ context.Context, target string, q cliclient.HistoryQuery) ([]*contracts.AlertRecord, int, error) {
	return h.manager.ListAlerts(storage.HistoryFilter{
		Target:         target,
		States:         q.States,
		Since:          q.Since,
		Until:          q.Until,
		IncludeSkipped: q.IncludeSkipped,
		Limit:          q.Limit,
	})
}

type apiHistory struct {
	client *cliclient.Client
}

func (h *apiHistory) Targets(ctx context.Context) ([]string, error) {
	statuses, err := h.client.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, st.Target)
	}
	return names, nil
}

func (h *apiHistory) List(ctx context.Context, target string, q cliclient.HistoryQuery) ([]*contracts.AlertRecord, int, error) {
	resp, err := h.client.History(ctx, target, q)
	if err != nil {
		return nil, 0, err
	}
	return resp.Records, resp.Total, nil
}
