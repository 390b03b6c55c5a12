// Package drawing validates drawings submitted by tablets before they are
// handed to the classifier.
package drawing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
)

const (
	// Side is the edge length, in cells, of the classifier input grid.
	Side = 28

	// VectorLength is the number of intensity values in a model vector.
	VectorLength = Side * Side

	// DisplayImagePrefix is required on every display image. Tablets send
	// canvas snapshots as data URLs.
	DisplayImagePrefix = "data:image/"
)

// Rule sentinels, matchable with errors.Is on a *ValidationError.
var (
	ErrVectorLength = errors.New("model vector must have 784 values")
	ErrVectorValue  = errors.New("model vector values must be finite and within [0,1]")
	ErrDimensions   = errors.New("drawing must be 28x28")
	ErrDisplayImage = errors.New("display image must be an embedded image")
)

// ValidationError describes the first rule a payload violated.
type ValidationError struct {
	Rule   error
	Field  string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Rule
}

// Drawing is a payload that passed validation. It owns a private copy of
// the model vector.
type Drawing struct {
	displayImage string
	modelData    []float64
}

// DisplayImage returns the embedded image shown to visitors.
func (d Drawing) DisplayImage() string {
	return d.displayImage
}

// ModelData returns a copy of the 784 intensity values, row-major.
func (d Drawing) ModelData() []float64 {
	out := make([]float64, len(d.modelData))
	copy(out, d.modelData)
	return out
}

// Validate checks a submitted payload and returns the validated drawing.
// No partial result is returned on failure.
func Validate(payload protocol.DrawingPayload) (Drawing, error) {
	if len(payload.ModelData) != VectorLength {
		return Drawing{}, &ValidationError{
			Rule:   ErrVectorLength,
			Field:  "modelData",
			Index:  -1,
			Reason: fmt.Sprintf("expected %d values, got %d", VectorLength, len(payload.ModelData)),
		}
	}

	for i, v := range payload.ModelData {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return Drawing{}, &ValidationError{
				Rule:   ErrVectorValue,
				Field:  "modelData",
				Index:  i,
				Reason: fmt.Sprintf("value %v out of range", v),
			}
		}
	}

	if payload.Width != Side || payload.Height != Side {
		return Drawing{}, &ValidationError{
			Rule:   ErrDimensions,
			Field:  "width/height",
			Index:  -1,
			Reason: fmt.Sprintf("expected %dx%d, got %dx%d", Side, Side, payload.Width, payload.Height),
		}
	}

	if !strings.HasPrefix(payload.DisplayImage, DisplayImagePrefix) {
		return Drawing{}, &ValidationError{
			Rule:   ErrDisplayImage,
			Field:  "displayImage",
			Index:  -1,
			Reason: "missing " + DisplayImagePrefix + " prefix",
		}
	}

	data := make([]float64, VectorLength)
	copy(data, payload.ModelData)

	return Drawing{
		displayImage: payload.DisplayImage,
		modelData:    data,
	}, nil
}
