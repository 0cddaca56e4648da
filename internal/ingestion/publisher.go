package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarginHealth/internal/event"
	"MarginHealth/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// AlertSink publishes one encoded envelope to subject.
type AlertSink interface {
	Publish(ctx context.Context, subject string, msgID string, data []byte) error
}

// JetStreamSink publishes with the idempotency key as the NATS message ID,
// so the stream's duplicate window drops repeated alerts.
type JetStreamSink struct {
	JS jetstream.JetStream
}

func (s JetStreamSink) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	_, err := s.JS.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	return err
}

// AlertPublisher publishes health alerts queued by the sweep.
// Subjects follow margin.alerts.{kind}.{account_id}.
type AlertPublisher struct {
	sink     AlertSink
	queue    chan *event.HealthAlert
	sequence int64
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewAlertPublisher(sink AlertSink, queueSize int, metrics *observability.Metrics, logger zerolog.Logger) *AlertPublisher {
	return &AlertPublisher{
		sink:    sink,
		queue:   make(chan *event.HealthAlert, queueSize),
		metrics: metrics,
		logger:  logger,
	}
}

// Enqueue hands an alert to the publish loop without blocking.
// It reports false and counts a drop when the queue is full.
func (ap *AlertPublisher) Enqueue(alert *event.HealthAlert) bool {
	select {
	case ap.queue <- alert:
		return true
	default:
		ap.metrics.AlertDrops.Inc()
		return false
	}
}

// Run starts the publish loop.
func (ap *AlertPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert := <-ap.queue:
			if err := ap.publish(ctx, alert); err != nil {
				// non-fatal: the next sweep re-raises the alert
				ap.logger.Warn().Err(err).
					Str("account", alert.AccountID.String()).
					Str("kind", alert.Kind.String()).
					Msg("alert publish failed")
			}
		}
	}
}

func (ap *AlertPublisher) publish(ctx context.Context, alert *event.HealthAlert) error {
	ap.sequence++
	env, err := event.Wrap(ap.sequence, alert.Slot, alert.Timestamp, alert)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ap.sink.Publish(pubCtx, AlertSubject(alert), env.IdempotencyKey, data); err != nil {
		return err
	}
	ap.metrics.AlertsPublished.WithLabelValues(alert.Kind.Subject()).Inc()
	return nil
}

// AlertSubject builds margin.alerts.{kind}.{account_id}.
func AlertSubject(alert *event.HealthAlert) string {
	return fmt.Sprintf("%s.%s.%s", AlertSubjectPrefix, alert.Kind.Subject(), alert.AccountID)
}
