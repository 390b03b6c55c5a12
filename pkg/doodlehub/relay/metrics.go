package relay

import (
	"context"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/o11y"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
)

// Submission outcomes recorded by Metrics.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Metrics holds the instruments recorded by the relay engine. All methods
// are no-ops on a nil receiver.
type Metrics struct {
	submissions       o11y.Counter   // Drawing submissions by outcome
	inferenceDuration o11y.Histogram // Time spent in the classifier
	broadcasts        o11y.Counter   // Fan-outs by message type and role
	deliveries        o11y.Counter   // Frames delivered by fan-outs
	dropped           o11y.Counter   // Inbound frames dropped, by reason
	registered        o11y.Gauge     // Registered connections by role
}

// NewMetrics creates relay metrics on provider. A nil provider yields nil.
func NewMetrics(provider o11y.MetricsProvider) *Metrics {
	if provider == nil {
		return nil
	}

	return &Metrics{
		submissions:       provider.Counter("relay_submissions_total"),
		inferenceDuration: provider.Histogram("relay_inference_duration_seconds"),
		broadcasts:        provider.Counter("relay_broadcasts_total"),
		deliveries:        provider.Counter("relay_deliveries_total"),
		dropped:           provider.Counter("relay_dropped_messages_total"),
		registered:        provider.Gauge("relay_registered_connections"),
	}
}

// RecordSubmission records the outcome of one drawing submission.
func (m *Metrics) RecordSubmission(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, o11y.Label{Key: "outcome", Value: outcome})
}

// RecordInference records how long the classifier took.
func (m *Metrics) RecordInference(ctx context.Context, duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.inferenceDuration.Record(ctx, duration.Seconds(), o11y.Label{Key: "outcome", Value: outcome})
}

// RecordBroadcast records one fan-out and how many frames it delivered.
func (m *Metrics) RecordBroadcast(ctx context.Context, msgType protocol.Type, role protocol.Role, delivered int) {
	if m == nil {
		return
	}
	labels := []o11y.Label{
		{Key: "type", Value: string(msgType)},
		{Key: "role", Value: string(role)},
	}
	m.broadcasts.Add(ctx, 1, labels...)
	m.deliveries.Add(ctx, int64(delivered), labels...)
}

// RecordDropped records an inbound frame that was not acted on.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, o11y.Label{Key: "reason", Value: reason})
}

// RecordRegistered updates the registered connection count for a role.
func (m *Metrics) RecordRegistered(ctx context.Context, role protocol.Role, count int) {
	if m == nil {
		return
	}
	m.registered.Set(ctx, float64(count), o11y.Label{Key: "role", Value: string(role)})
}
