package server

import (
	"context"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/o11y"
)

// WebSocketMetrics defines the metrics collected by the WebSocket server.
type WebSocketMetrics struct {
	// Connection metrics
	activeConnections  o11y.Gauge     // Current number of active WebSocket connections
	totalConnections   o11y.Counter   // Total number of connections established
	connectionDuration o11y.Histogram // Duration of WebSocket connections
	connectionErrors   o11y.Counter   // Upgrade failures, rejected connections

	// Message metrics
	messagesReceived o11y.Counter   // Frames received from clients
	messagesSent     o11y.Counter   // Frames written to clients
	messageErrors    o11y.Counter   // Frames dropped or failed to write
	messageSize      o11y.Histogram // Size distribution of frames (bytes)

	// Health metrics
	pingsSent     o11y.Counter // Number of ping frames sent
	pongTimeouts  o11y.Counter // Number of unanswered pings
	writeTimeouts o11y.Counter // Number of write timeouts
}

// NewWebSocketMetrics creates a new WebSocketMetrics instance using the provided MetricsProvider.
// If the provider is nil, returns nil (no metrics will be collected).
func NewWebSocketMetrics(provider o11y.MetricsProvider) *WebSocketMetrics {
	if provider == nil {
		return nil
	}

	return &WebSocketMetrics{
		activeConnections:  provider.Gauge("websocket_active_connections"),
		totalConnections:   provider.Counter("websocket_connections_total"),
		connectionDuration: provider.Histogram("websocket_connection_duration_seconds"),
		connectionErrors:   provider.Counter("websocket_connection_errors_total"),

		messagesReceived: provider.Counter("websocket_messages_received_total"),
		messagesSent:     provider.Counter("websocket_messages_sent_total"),
		messageErrors:    provider.Counter("websocket_message_errors_total"),
		messageSize:      provider.Histogram("websocket_message_size_bytes"),

		pingsSent:     provider.Counter("websocket_pings_sent_total"),
		pongTimeouts:  provider.Counter("websocket_pong_timeouts_total"),
		writeTimeouts: provider.Counter("websocket_write_timeouts_total"),
	}
}

// Connection lifecycle metrics

// RecordConnectionStart records when a new WebSocket connection is established.
func (m *WebSocketMetrics) RecordConnectionStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1)
}

// RecordConnectionActive updates the active connection count.
func (m *WebSocketMetrics) RecordConnectionActive(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(count))
}

// RecordConnectionEnd records when a WebSocket connection ends and its duration.
func (m *WebSocketMetrics) RecordConnectionEnd(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordConnectionError records connection-level errors.
func (m *WebSocketMetrics) RecordConnectionError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.connectionErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// Message metrics

// RecordMessageReceived records a frame received from a client.
func (m *WebSocketMetrics) RecordMessageReceived(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1)
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "received"})
}

// RecordMessageSent records a frame written to a client.
func (m *WebSocketMetrics) RecordMessageSent(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1)
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "sent"})
}

// RecordMessageError records a frame that was dropped or failed to write.
func (m *WebSocketMetrics) RecordMessageError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.messageErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// Health metrics

// RecordPingSent records when a ping frame is sent to a client.
func (m *WebSocketMetrics) RecordPingSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.pingsSent.Add(ctx, 1)
}

// RecordPongTimeout records when a client fails to answer a ping.
func (m *WebSocketMetrics) RecordPongTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.pongTimeouts.Add(ctx, 1)
}

// RecordWriteTimeout records when a write operation times out.
func (m *WebSocketMetrics) RecordWriteTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.writeTimeouts.Add(ctx, 1)
}
