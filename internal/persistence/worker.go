package persistence

import (
	"context"
	"time"

	"MarginHealth/internal/observability"

	"github.com/rs/zerolog"
)

// ReportSink is the write side of the report worker.
type ReportSink interface {
	WriteReports(ctx context.Context, reports []HealthReport) error
}

// ReportWorker drains sweep reports and batch-writes them. Sends from the
// sweep block when the worker falls behind, so no report is dropped.
type ReportWorker struct {
	sink         ReportSink
	inputChan    <-chan HealthReport
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewReportWorker(
	sink ReportSink,
	inputChan <-chan HealthReport,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ReportWorker {
	return &ReportWorker{
		sink:         sink,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches reports and flushes when the batch is full or the flush
// timeout expires. Blocks until ctx is cancelled or the input is closed.
func (rw *ReportWorker) Run(ctx context.Context) error {
	batch := make([]HealthReport, 0, rw.batchSize)

	timer := time.NewTimer(rw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := rw.flushWithRetry(ctx, batch); err != nil {
			rw.logger.Error().Err(err).Int("reports", len(batch)).Msg("report flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			rw.drain(flush)
			return ctx.Err()

		case r, ok := <-rw.inputChan:
			if !ok {
				rw.drain(flush)
				return nil
			}
			batch = append(batch, r)
			if len(batch) >= rw.batchSize {
				flush(ctx)
				timer.Reset(rw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(rw.flushTimeout)
		}
	}
}

func (rw *ReportWorker) drain(flush func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	flush(ctx)
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On shutdown it makes one last attempt with a background context.
func (rw *ReportWorker) flushWithRetry(ctx context.Context, batch []HealthReport) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			rw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("reports", len(batch)).
				Msg("report write retry")
			select {
			case <-ctx.Done():
				return rw.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > rw.maxBackoff {
				backoff = rw.maxBackoff
			}
		}

		err := rw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				rw.logger.Info().Int("retries", attempt).Msg("report write succeeded after retry")
			}
			return nil
		}
		rw.metrics.PersistErrors.WithLabelValues("write_reports").Inc()
	}
}

func (rw *ReportWorker) flush(ctx context.Context, batch []HealthReport) error {
	if err := rw.sink.WriteReports(ctx, batch); err != nil {
		return err
	}
	rw.metrics.ReportsWritten.Add(float64(len(batch)))
	return nil
}
