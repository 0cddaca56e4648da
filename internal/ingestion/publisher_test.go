package ingestion_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"MarginHealth/internal/event"
	"MarginHealth/internal/ingestion"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/observability"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	msgID   string
	data    []byte
}

type memorySink struct {
	mu   sync.Mutex
	msgs []published
}

func (s *memorySink) Publish(_ context.Context, subject, msgID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, published{subject, msgID, data})
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func testAlert(kind event.EventType) *event.HealthAlert {
	return &event.HealthAlert{
		Kind:                 kind,
		AccountID:            uuid.MustParse("660e8400-e29b-41d4-a716-446655440001"),
		GroupID:              uuid.New(),
		MaintHealth:          fpmath.FromInt(-5),
		InitHealth:           fpmath.FromInt(-20),
		LiquidationEndHealth: fpmath.FromInt(-15),
		Phase:                2,
		AccountVersion:       7,
		Slot:                 100,
		Timestamp:            time.Unix(1700000000, 0).UTC(),
	}
}

// ============================================================================
// Test: alert publisher
// ============================================================================

func TestAlertSubject(t *testing.T) {
	require.Equal(t,
		"margin.alerts.liquidatable.660e8400-e29b-41d4-a716-446655440001",
		ingestion.AlertSubject(testAlert(event.EventTypeAccountLiquidatable)))
	require.Equal(t,
		"margin.alerts.bankrupt.660e8400-e29b-41d4-a716-446655440001",
		ingestion.AlertSubject(testAlert(event.EventTypeAccountBankrupt)))
}

func TestAlertPublisher_PublishesEnvelope(t *testing.T) {
	sink := &memorySink{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ap := ingestion.NewAlertPublisher(sink, 4, metrics, zerolog.Nop())

	require.True(t, ap.Enqueue(testAlert(event.EventTypeAccountLiquidatable)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ap.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msg := sink.msgs[0]
	require.Equal(t, "660e8400-e29b-41d4-a716-446655440001:liquidatable:7", msg.msgID)

	var env event.EventEnvelope
	require.NoError(t, json.Unmarshal(msg.data, &env))
	require.Equal(t, int64(1), env.Sequence)
	require.Equal(t, event.EventTypeAccountLiquidatable, env.EventType)
	require.Equal(t, uint64(100), env.Slot)

	var alert event.HealthAlert
	require.NoError(t, json.Unmarshal(env.Payload, &alert))
	require.True(t, alert.MaintHealth.Equal(fpmath.FromInt(-5)))
	require.Equal(t, 2, alert.Phase)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.AlertsPublished.WithLabelValues("liquidatable")))
}

func TestAlertPublisher_DropsWhenFull(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ap := ingestion.NewAlertPublisher(&memorySink{}, 1, metrics, zerolog.Nop())

	require.True(t, ap.Enqueue(testAlert(event.EventTypeAccountBankrupt)))
	require.False(t, ap.Enqueue(testAlert(event.EventTypeAccountBankrupt)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.AlertDrops))
}
