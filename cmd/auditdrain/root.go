package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/upb/auditdrain/config"
	"github.com/upb/auditdrain/feed"
	"github.com/upb/auditdrain/internal/observability"
	"github.com/upb/auditdrain/models"
	"github.com/upb/auditdrain/repositories/postgres"
	"github.com/upb/auditdrain/sink"
	"github.com/upb/auditdrain/transform"
	"go.uber.org/zap"
)

type rootFlags struct {
	accountID string
	timeFrame string
	output    string
	format    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "auditdrain",
		Short:         "Drain a paginated audit-event feed into a local destination",
		Long:          "auditdrain fetches every page of the remote audit feed for an account and time window, transforms the flattened records, and writes them to the selected sink.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}

	cmd.Flags().StringVar(&flags.accountID, "account", "", "account id to drain (overrides ACCOUNT_ID)")
	cmd.Flags().StringVar(&flags.timeFrame, "timeframe", "", `time window expression, e.g. "last.PT5D" (overrides TIMEFRAME)`)
	cmd.Flags().StringVar(&flags.output, "output", "", "output path; empty writes to stdout, a .gz suffix enables gzip (overrides OUTPUT_PATH)")
	cmd.Flags().StringVar(&flags.format, "format", "", "output format: json, ndjson, csv, text, postgres (overrides OUTPUT_FORMAT)")

	return cmd
}

func run(flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return err
	}
	defer logger.Sync() // nolint

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.New()
	out, cleanup, err := buildSink(ctx, cfg, runID, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	transport := feed.NewTransport(cfg.Feed, logger)
	driver := feed.NewDriver(transport, logger,
		feed.WithRunID(runID),
		feed.WithPageFunc(func(ctx context.Context, records []models.AuditRecord) error {
			return out.Write(ctx, transform.ApplyAll(records))
		}))

	result, err := driver.Drain(ctx, cfg.Feed.AccountID, cfg.Feed.TimeFrame)
	if err != nil {
		_ = out.Close()
		discardPartialOutput(cfg.Output, logger)
		return fmt.Errorf("drain failed, output discarded as incomplete: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}

	logger.Info("OK",
		zap.Int("events", result.Tally.Records),
		zap.Int("api_calls", result.Tally.Calls),
		zap.Duration("elapsed", result.Duration()))
	return nil
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.NewUnvalidated()
	if err != nil {
		return nil, err
	}

	if flags.accountID != "" {
		cfg.Feed.AccountID = flags.accountID
	}
	if flags.timeFrame != "" {
		cfg.Feed.TimeFrame = flags.timeFrame
	}
	if flags.output != "" {
		cfg.Output.Path = flags.output
	}
	if flags.format != "" {
		cfg.Output.Format = flags.format
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// buildSink constructs the configured sink. The returned cleanup closes
// resources the sink does not own (the database pool).
func buildSink(ctx context.Context, cfg *config.Config, runID uuid.UUID, logger *zap.Logger) (sink.Sink, func(), error) {
	noop := func() {}

	if cfg.Output.Format == "postgres" {
		db, err := postgres.NewDB(*cfg.Database, logger)
		if err != nil {
			return nil, noop, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		repo := postgres.NewRecordRepository(db, logger)
		return sink.NewPostgresSink(repo, runID, cfg.Feed.AccountID), func() { db.Close() }, nil
	}

	dest, err := sink.OpenDestination(cfg.Output.Path)
	if err != nil {
		return nil, noop, err
	}

	switch cfg.Output.Format {
	case "ndjson":
		return sink.NewNDJSONSink(dest), noop, nil
	case "csv":
		return sink.NewCSVSink(dest), noop, nil
	case "text":
		return sink.NewTextSink(dest), noop, nil
	default:
		return sink.NewJSONSink(dest), noop, nil
	}
}

// discardPartialOutput removes a partially written output file so an
// aborted run is never mistaken for a complete drain.
func discardPartialOutput(out config.OutputConfig, logger *zap.Logger) {
	if out.Path == "" || out.Format == "postgres" {
		return
	}
	if err := os.Remove(out.Path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove partial output", zap.String("path", out.Path), zap.Error(err))
		return
	}
	logger.Warn("removed partial output", zap.String("path", out.Path))
}
