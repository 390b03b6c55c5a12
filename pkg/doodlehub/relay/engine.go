// Package relay implements the hub's message routing between tablets,
// desktops and the classifier.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/drawing"
	"github.com/tsarna/doodlehub/pkg/doodlehub/inference"
	"github.com/tsarna/doodlehub/pkg/doodlehub/o11y"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"github.com/tsarna/doodlehub/pkg/doodlehub/registry"
	"go.uber.org/zap"
)

// Messages shown to a tablet when its submission fails.
const (
	MessageInvalidDrawing   = "Invalid drawing data. Please try again."
	MessagePredictionFailed = "Prediction failed. Please try again."
	MessagePredictionSlow   = "Prediction timed out. Please try again."
	MessageShuttingDown     = "The exhibit is restarting. Please try again shortly."
)

// Engine routes decoded frames according to the sender's role. It is safe
// for concurrent use; frames from one connection must be handed to Handle in
// arrival order.
type Engine struct {
	registry *registry.Registry
	gateway  inference.Gateway
	logger   *zap.Logger
	metrics  *Metrics
	tracer   o11y.TracingProvider

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

func newEngine(config *EngineConfig) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		registry: config.registry,
		gateway:  inference.WithTimeout(config.gateway, config.inferenceTimeout),
		logger:   config.logger,
		metrics:  NewMetrics(config.metricsProvider),
		tracer:   config.tracingProvider,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the registry the engine routes through.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Handle processes one inbound frame from conn. It never panics and never
// returns an error: failures are logged, and where the protocol calls for
// it, reported to the clients involved.
func (e *Engine) Handle(ctx context.Context, conn registry.Conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic while handling message",
				zap.String("conn_id", conn.ID()),
				zap.Any("panic", r),
			)
			e.metrics.RecordDropped(ctx, "panic")
		}
	}()

	if !conn.IsOpen() {
		e.metrics.RecordDropped(ctx, "closed")
		return
	}

	role, registered := e.registry.RoleOf(conn)

	msg, err := protocol.Decode(data)
	if err != nil {
		var payloadErr *protocol.PayloadError
		if errors.As(err, &payloadErr) && payloadErr.Type == protocol.TypeDrawingSubmitted &&
			registered && role == protocol.RoleTablet {
			e.logger.Warn("Rejected malformed drawing submission",
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
			e.metrics.RecordSubmission(ctx, OutcomeInvalid)
			e.fail(ctx, conn, MessageInvalidDrawing)
			return
		}

		e.logger.Warn("Dropping unparseable message",
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
			zap.Int("data_length", len(data)),
		)
		e.metrics.RecordDropped(ctx, "malformed")
		return
	}

	e.logger.Debug("Received message",
		zap.String("conn_id", conn.ID()),
		zap.String("type", string(msg.Type())),
		zap.String("role", string(role)),
	)

	switch m := msg.(type) {
	case protocol.Connected:
		e.register(ctx, conn, m.Mode)

	case protocol.DrawingSubmitted:
		if !e.requireRole(ctx, conn, msg, role, registered, protocol.RoleTablet) {
			return
		}
		e.submit(ctx, conn, m)

	case protocol.Reset:
		if !e.requireRole(ctx, conn, msg, role, registered, protocol.RoleDesktop) {
			return
		}
		e.Announce(ctx, protocol.RoleTablet, protocol.ResetCanvas{})

	case protocol.NavigateToDoodle, protocol.NavigateToDigit:
		if !e.requireRole(ctx, conn, msg, role, registered, protocol.RoleDesktop) {
			return
		}
		e.Announce(ctx, protocol.RoleTablet, protocol.StartDrawing{})

	case protocol.NavigateToHome:
		if !e.requireRole(ctx, conn, msg, role, registered, protocol.RoleDesktop) {
			return
		}
		e.Announce(ctx, protocol.RoleTablet, protocol.NavigateToHome{})

	default:
		e.logger.Warn("Dropping message clients may not send",
			zap.String("conn_id", conn.ID()),
			zap.String("type", string(msg.Type())),
		)
		e.metrics.RecordDropped(ctx, "direction")
	}
}

// Disconnect removes conn from the registry. It is safe to call more than
// once.
func (e *Engine) Disconnect(conn registry.Conn) {
	role, ok := e.registry.RoleOf(conn)
	if !e.registry.Unregister(conn) {
		return
	}

	e.logger.Info("Client disconnected",
		zap.String("conn_id", conn.ID()),
		zap.String("role", string(role)),
	)

	if ok {
		e.metrics.RecordRegistered(e.ctx, role, e.registry.Count(role))
	}
}

// Announce encodes msg once and sends it to every open connection of role.
// It returns how many connections received it.
func (e *Engine) Announce(ctx context.Context, role protocol.Role, msg protocol.Message) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		e.logger.Error("Failed to encode broadcast",
			zap.String("type", string(msg.Type())),
			zap.Error(err),
		)
		return 0
	}

	delivered := e.registry.Broadcast(role, data)
	e.metrics.RecordBroadcast(ctx, msg.Type(), role, delivered)

	e.logger.Debug("Broadcast sent",
		zap.String("type", string(msg.Type())),
		zap.String("role", string(role)),
		zap.Int("delivered", delivered),
	)

	return delivered
}

// Stop refuses new submissions, cancels in-flight classifications and waits
// for them to finish reporting.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.inflight.Wait()
}

// Wait blocks until every in-flight classification has been reported.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) register(ctx context.Context, conn registry.Conn, role protocol.Role) {
	previous, had := e.registry.Register(conn, role)

	if had && previous == role {
		e.logger.Debug("Client re-announced its role",
			zap.String("conn_id", conn.ID()),
			zap.String("role", string(role)),
		)
		return
	}

	e.logger.Info("Client registered",
		zap.String("conn_id", conn.ID()),
		zap.String("role", string(role)),
	)

	e.metrics.RecordRegistered(ctx, role, e.registry.Count(role))
	if had {
		e.metrics.RecordRegistered(ctx, previous, e.registry.Count(previous))
	}
}

func (e *Engine) requireRole(ctx context.Context, conn registry.Conn, msg protocol.Message, role protocol.Role, registered bool, want protocol.Role) bool {
	if registered && role == want {
		return true
	}

	e.logger.Warn("Dropping message not permitted for sender",
		zap.String("conn_id", conn.ID()),
		zap.String("type", string(msg.Type())),
		zap.String("role", string(role)),
		zap.Bool("registered", registered),
	)
	e.metrics.RecordDropped(ctx, "role")
	return false
}

func (e *Engine) submit(ctx context.Context, conn registry.Conn, m protocol.DrawingSubmitted) {
	d, err := drawing.Validate(m.Drawing)
	if err != nil {
		e.logger.Warn("Rejected invalid drawing",
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
		e.metrics.RecordSubmission(ctx, OutcomeInvalid)
		e.fail(ctx, conn, MessageInvalidDrawing)
		return
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.metrics.RecordSubmission(ctx, OutcomeRejected)
		e.fail(ctx, conn, MessageShuttingDown)
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	e.logger.Debug("Drawing accepted",
		zap.String("conn_id", conn.ID()),
		zap.String("timestamp", m.Timestamp),
	)

	go e.classify(conn, d)
}

// classify runs off the connection's reader so that slow inference never
// delays other frames.
func (e *Engine) classify(conn registry.Conn, d drawing.Drawing) {
	defer e.inflight.Done()

	ctx, span := o11y.StartSpan(e.ctx, e.tracer, "relay.classify")
	defer span.End()
	span.SetAttributes(o11y.Label{Key: "conn_id", Value: conn.ID()})

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic during classification",
				zap.String("conn_id", conn.ID()),
				zap.Any("panic", r),
			)
			span.SetStatus(o11y.SpanStatusError, fmt.Sprint(r))
			e.metrics.RecordSubmission(ctx, OutcomeError)
			e.fail(ctx, conn, MessagePredictionFailed)
		}
	}()

	start := time.Now()
	result, err := e.gateway.Predict(ctx, d.DisplayImage(), d.ModelData())
	if err == nil {
		err = result.Validate()
	}
	duration := time.Since(start)

	if err != nil {
		outcome, message := OutcomeError, MessagePredictionFailed
		switch {
		case errors.Is(err, inference.ErrTimeout):
			outcome, message = OutcomeTimeout, MessagePredictionSlow
		case e.ctx.Err() != nil:
			outcome, message = OutcomeRejected, MessageShuttingDown
		}

		e.logger.Error("Classification failed",
			zap.String("conn_id", conn.ID()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		span.SetStatus(o11y.SpanStatusError, err.Error())
		e.metrics.RecordInference(ctx, duration, outcome)
		e.metrics.RecordSubmission(ctx, outcome)
		e.fail(ctx, conn, message)
		return
	}

	e.metrics.RecordInference(ctx, duration, OutcomeOK)

	examples := result.TrainingExamples
	if examples == nil {
		examples = map[string][]string{}
	}

	out := protocol.PredictionResult{
		Predictions:      result.Sorted(),
		TrainingExamples: examples,
		UserDrawing:      d.DisplayImage(),
	}

	data, err := protocol.Encode(out)
	if err != nil {
		e.logger.Error("Failed to encode prediction result", zap.Error(err))
		span.SetStatus(o11y.SpanStatusError, err.Error())
		e.metrics.RecordSubmission(ctx, OutcomeError)
		e.fail(ctx, conn, MessagePredictionFailed)
		return
	}

	delivered := e.registry.Broadcast(protocol.RoleDesktop, data)
	e.metrics.RecordBroadcast(ctx, protocol.TypePredictionResult, protocol.RoleDesktop, delivered)

	// The submitter gets its own copy unless it is now a desktop and was
	// already covered by the fan-out.
	if role, _ := e.registry.RoleOf(conn); role != protocol.RoleDesktop && conn.IsOpen() {
		if err := conn.Send(data); err != nil {
			e.logger.Warn("Failed to return prediction to submitter",
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
		}
	}

	span.SetStatus(o11y.SpanStatusOK, "")
	e.metrics.RecordSubmission(ctx, OutcomeOK)

	e.logger.Info("Prediction delivered",
		zap.String("conn_id", conn.ID()),
		zap.String("top_class", out.Predictions[0].Class),
		zap.Float64("confidence", out.Predictions[0].Confidence),
		zap.Int("desktops", delivered),
		zap.Duration("duration", duration),
	)
}

// fail is the single failure path for a submission: the submitter gets an
// error and every desktop is told to stop waiting.
func (e *Engine) fail(ctx context.Context, conn registry.Conn, message string) {
	if conn.IsOpen() {
		data, err := protocol.Encode(protocol.Error{Message: message})
		if err == nil {
			err = conn.Send(data)
		}
		if err != nil {
			e.logger.Warn("Failed to send error to submitter",
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
		}
	}

	e.Announce(ctx, protocol.RoleDesktop, protocol.ResetCanvas{})
}
