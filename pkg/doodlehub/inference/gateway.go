// Package inference connects the hub to a drawing classifier.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
)

// DefaultTimeout bounds a single classification.
const DefaultTimeout = 15 * time.Second

// ErrTimeout is returned when a classification exceeds its deadline.
var ErrTimeout = errors.New("inference timed out")

// Result is what a classifier returns for one drawing.
type Result struct {
	Predictions      []protocol.Prediction `json:"predictions"`
	TrainingExamples map[string][]string   `json:"trainingExamples"`
}

// Validate checks the result contract: at least one prediction, every class
// named, every confidence a number in [0,1].
func (r *Result) Validate() error {
	if r == nil {
		return errors.New("empty result")
	}
	if len(r.Predictions) == 0 {
		return errors.New("result has no predictions")
	}

	for i, p := range r.Predictions {
		if p.Class == "" {
			return fmt.Errorf("prediction %d has no class", i)
		}
		if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
			return fmt.Errorf("prediction %d (%s) has confidence %v outside [0,1]", i, p.Class, p.Confidence)
		}
	}

	return nil
}

// Sorted returns a copy of the predictions ordered by confidence, highest
// first. Ties keep their original order.
func (r *Result) Sorted() []protocol.Prediction {
	out := make([]protocol.Prediction, len(r.Predictions))
	copy(out, r.Predictions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Gateway classifies one validated drawing.
type Gateway interface {
	Predict(ctx context.Context, displayImage string, modelData []float64) (*Result, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, displayImage string, modelData []float64) (*Result, error)

func (f GatewayFunc) Predict(ctx context.Context, displayImage string, modelData []float64) (*Result, error) {
	return f(ctx, displayImage, modelData)
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every call to next. The deadline is enforced by the
// caller side, so a backend that ignores its context still yields
// ErrTimeout on time. A non-positive timeout returns next unchanged.
func WithTimeout(next Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 {
		return next
	}
	return &timeoutGateway{next: next, timeout: timeout}
}

type outcome struct {
	result *Result
	err    error
}

func (g *timeoutGateway) Predict(ctx context.Context, displayImage string, modelData []float64) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("inference backend panicked: %v", r)}
			}
		}()

		result, err := g.next.Predict(ctx, displayImage, modelData)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, o.err)
		}
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return nil, ctx.Err()
	}
}
