package ingestion

import (
	"context"
	"errors"

	"MarginHealth/internal/observability"
	"MarginHealth/internal/oracle"

	"github.com/rs/zerolog"
)

// PriceApplier drains raw price messages into the oracle book.
type PriceApplier struct {
	book    *oracle.Book
	input   <-chan RawEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPriceApplier(book *oracle.Book, input <-chan RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *PriceApplier {
	return &PriceApplier{book: book, input: input, metrics: metrics, logger: logger}
}

// Run applies messages until ctx is done or input is closed.
func (pa *PriceApplier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-pa.input:
			if !ok {
				return nil
			}
			pa.Handle(raw)
		}
	}
}

// Handle parses and applies one message, then settles its ack.
// Malformed payloads are terminated; stale sequences are acked and dropped.
func (pa *PriceApplier) Handle(raw RawEvent) oracle.ApplyResult {
	update, err := ParseOraclePrice(raw)
	if err != nil {
		pa.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping oracle price")
		pa.metrics.OracleUpdates.WithLabelValues("malformed").Inc()
		if errors.Is(err, ErrMalformedPayload) && raw.TermFunc != nil {
			raw.TermFunc()
		} else if raw.NakFunc != nil {
			raw.NakFunc()
		}
		return oracle.IgnoredStale
	}

	result := pa.book.Apply(update.Account())
	pa.metrics.OracleUpdates.WithLabelValues(result.String()).Inc()
	switch result {
	case oracle.AppliedAfterGap:
		pa.metrics.OracleGaps.Inc()
		pa.logger.Debug().
			Str("oracle", update.OracleKey.String()).
			Int64("sequence", update.Sequence).
			Msg("oracle sequence gap")
	case oracle.IgnoredStale:
		pa.logger.Debug().
			Str("oracle", update.OracleKey.String()).
			Int64("sequence", update.Sequence).
			Msg("stale oracle sequence ignored")
	}
	pa.metrics.OracleBookSize.Set(float64(pa.book.Len()))

	if raw.AckFunc != nil {
		raw.AckFunc()
	}
	return result
}
