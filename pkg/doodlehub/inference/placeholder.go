package inference

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
)

// ExamplesPerClass is the number of training example links returned per
// predicted class.
const ExamplesPerClass = 3

// ExampleURL returns the placeholder training example link for a class.
func ExampleURL(class string, variant int) string {
	return fmt.Sprintf("/api/placeholder/%s/%d", class, variant)
}

// Placeholder is a stand-in classifier for exhibits without a model. It
// ignores the drawing and returns four distinct classes with plausible
// confidences.
type Placeholder struct {
	classes []string
	delay   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPlaceholder creates a placeholder classifier over classes. A zero seed
// picks a time-based seed.
func NewPlaceholder(classes []string, seed uint64) (*Placeholder, error) {
	if len(classes) < 4 {
		return nil, fmt.Errorf("placeholder classifier needs at least 4 classes, got %d", len(classes))
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Placeholder{
		classes: append([]string(nil), classes...),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// WithDelay makes every prediction take at least d, to mimic a real model.
func (p *Placeholder) WithDelay(d time.Duration) *Placeholder {
	p.delay = d
	return p
}

func (p *Placeholder) Predict(ctx context.Context, _ string, _ []float64) (*Result, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	order := p.rng.Perm(len(p.classes))
	top := 0.60 + p.rng.Float64()*0.30
	second := 0.05 + p.rng.Float64()*0.20
	third := 0.02 + p.rng.Float64()*0.08
	p.mu.Unlock()

	fourth := math.Max(0.01, 1-top-second-third)

	confidences := []float64{top, second, third, fourth}
	result := &Result{
		Predictions:      make([]protocol.Prediction, 0, len(confidences)),
		TrainingExamples: make(map[string][]string, len(confidences)),
	}

	for i, confidence := range confidences {
		class := p.classes[order[i]]
		result.Predictions = append(result.Predictions, protocol.Prediction{
			Class:      class,
			Confidence: confidence,
		})

		examples := make([]string, 0, ExamplesPerClass)
		for v := 1; v <= ExamplesPerClass; v++ {
			examples = append(examples, ExampleURL(class, v))
		}
		result.TrainingExamples[class] = examples
	}

	return result, nil
}
