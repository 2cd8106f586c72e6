package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/auditdrain/models"
	"go.uber.org/zap"
)

// PageFunc is invoked with each non-empty page batch as soon as its
// response classifies success. Returning an error aborts the run.
type PageFunc func(ctx context.Context, records []models.AuditRecord) error

// Driver drives the marker-based pagination loop to exhaustion
type Driver struct {
	sender Sender
	logger *zap.Logger
	onPage PageFunc
	runID  uuid.UUID
}

// Option configures Driver behavior
type Option func(*Driver)

// WithPageFunc attaches a per-page batch callback (streaming mode)
func WithPageFunc(fn PageFunc) Option {
	return func(d *Driver) {
		d.onPage = fn
	}
}

// WithRunID fixes the run id, letting sinks tag records before the run starts
func WithRunID(id uuid.UUID) Option {
	return func(d *Driver) {
		d.runID = id
	}
}

// NewDriver creates a Driver over the given sender
func NewDriver(sender Sender, logger *zap.Logger, opts ...Option) *Driver {
	d := &Driver{
		sender: sender,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drain fetches every page of the feed for the account and time window.
// The marker from each response is supplied verbatim on the next request;
// the first request sends the empty marker. HasMore=false is the only
// success termination: zero-record pages with HasMore=true keep the loop
// going. On a fatal classification or budget exhaustion the error is
// returned and no partial result is handed back.
func (d *Driver) Drain(ctx context.Context, accountID, timeFrame string) (*models.DrainResult, error) {
	result := models.NewDrainResult(accountID, timeFrame)
	if d.runID != uuid.Nil {
		result.RunID = d.runID
	}
	logger := d.logger.With(zap.String("run_id", result.RunID.String()))

	logger.Info("starting feed drain",
		zap.String("account_id", accountID),
		zap.String("time_frame", timeFrame))

	marker := ""
	iteration := 0
	for {
		iteration++
		query := BuildPageQuery(accountID, timeFrame, marker)

		page, attempts, err := d.sender.SendWithRetry(ctx, query)
		result.Tally.Calls += attempts
		if err != nil {
			logger.Error("feed drain aborted",
				zap.Int("iteration", iteration),
				zap.Int("calls", result.Tally.Calls),
				zap.Error(err))
			return nil, err
		}

		result.Tally.Pages++
		result.Tally.Records += page.FetchedCount
		result.Records = append(result.Records, page.Records...)

		fields := []zap.Field{
			zap.Int("iteration", iteration),
			zap.Int("count", page.FetchedCount),
			zap.Int("total_count", result.Tally.Records),
			zap.Bool("has_more", page.HasMore),
		}
		if len(page.Records) > 0 {
			fields = append(fields,
				zap.String("first_time", page.Records[0].Time),
				zap.String("last_time", page.Records[len(page.Records)-1].Time))
		}
		logger.Info("fetched page", fields...)

		if d.onPage != nil && len(page.Records) > 0 {
			if err := d.onPage(ctx, page.Records); err != nil {
				return nil, err
			}
		}

		if !page.HasMore {
			break
		}
		marker = page.Marker
	}

	result.Finished = time.Now()
	logger.Info("feed drain complete",
		zap.Int("total_count", result.Tally.Records),
		zap.Int("pages", result.Tally.Pages),
		zap.Int("api_calls", result.Tally.Calls),
		zap.Duration("elapsed", result.Duration()))

	return result, nil
}
