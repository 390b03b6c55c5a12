package drawing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
)

func validPayload() protocol.DrawingPayload {
	data := make([]float64, VectorLength)
	for i := range data {
		data[i] = float64(i%10) / 10
	}
	data[0] = 0
	data[1] = 1

	return protocol.DrawingPayload{
		DisplayImage: "data:image/png;base64,iVBORw0KGgo=",
		ModelData:    data,
		Width:        Side,
		Height:       Side,
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts a well formed drawing", func(t *testing.T) {
		payload := validPayload()
		drawing, err := Validate(payload)
		require.NoError(t, err)
		assert.Equal(t, payload.DisplayImage, drawing.DisplayImage())
		assert.Equal(t, payload.ModelData, drawing.ModelData())
	})

	t.Run("validated drawing does not alias the payload", func(t *testing.T) {
		payload := validPayload()
		drawing, err := Validate(payload)
		require.NoError(t, err)

		payload.ModelData[5] = 0.99
		assert.NotEqual(t, 0.99, drawing.ModelData()[5])

		out := drawing.ModelData()
		out[6] = 0.42
		assert.NotEqual(t, 0.42, drawing.ModelData()[6])
	})

	tests := []struct {
		name   string
		mutate func(p *protocol.DrawingPayload)
		rule   error
		index  int
	}{
		{
			name:   "783 values",
			mutate: func(p *protocol.DrawingPayload) { p.ModelData = p.ModelData[:783] },
			rule:   ErrVectorLength,
			index:  -1,
		},
		{
			name:   "785 values",
			mutate: func(p *protocol.DrawingPayload) { p.ModelData = append(p.ModelData, 0) },
			rule:   ErrVectorLength,
			index:  -1,
		},
		{
			name:   "empty vector",
			mutate: func(p *protocol.DrawingPayload) { p.ModelData = nil },
			rule:   ErrVectorLength,
			index:  -1,
		},
		{
			name:   "value above one",
			mutate: func(p *protocol.DrawingPayload) { p.ModelData[10] = 1.5 },
			rule:   ErrVectorValue,
			index:  10,
		},
		{
			name:   "negative value",
			mutate: func(p *protocol.DrawingPayload) { p.ModelData[783] = -0.01 },
			rule:   ErrVectorValue,
			index:  783,
		},
		{
			name:   "NaN value",
			mutate: func(p *protocol.DrawingPayload) { p.ModelData[3] = math.NaN() },
			rule:   ErrVectorValue,
			index:  3,
		},
		{
			name:   "infinite value",
			mutate: func(p *protocol.DrawingPayload) { p.ModelData[4] = math.Inf(1) },
			rule:   ErrVectorValue,
			index:  4,
		},
		{
			name:   "width 27",
			mutate: func(p *protocol.DrawingPayload) { p.Width = 27 },
			rule:   ErrDimensions,
			index:  -1,
		},
		{
			name:   "height 29",
			mutate: func(p *protocol.DrawingPayload) { p.Height = 29 },
			rule:   ErrDimensions,
			index:  -1,
		},
		{
			name:   "empty display image",
			mutate: func(p *protocol.DrawingPayload) { p.DisplayImage = "" },
			rule:   ErrDisplayImage,
			index:  -1,
		},
		{
			name:   "display image without data prefix",
			mutate: func(p *protocol.DrawingPayload) { p.DisplayImage = "https://example.com/cat.png" },
			rule:   ErrDisplayImage,
			index:  -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayload()
			tt.mutate(&payload)

			_, err := Validate(payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.rule))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.index, verr.Index)
			assert.NotEmpty(t, verr.Error())
		})
	}
}
