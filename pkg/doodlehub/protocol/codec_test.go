package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"connected","payload":{"mode":"tablet"}}`))
		require.NoError(t, err)
		assert.Equal(t, Connected{Mode: RoleTablet}, msg)
	})

	t.Run("connected with unknown mode", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"connected","payload":{"mode":"projector"}}`))
		var payloadErr *PayloadError
		require.ErrorAs(t, err, &payloadErr)
		assert.Equal(t, TypeConnected, payloadErr.Type)
	})

	t.Run("drawing submitted", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"drawing_submitted","payload":{"drawing":{"displayImage":"data:image/png;base64,AA==","modelData":[0,0.5,1],"width":28,"height":28},"timestamp":"2024-01-01T00:00:00Z"}}`))
		require.NoError(t, err)

		submitted, ok := msg.(DrawingSubmitted)
		require.True(t, ok)
		assert.Equal(t, "data:image/png;base64,AA==", submitted.Drawing.DisplayImage)
		assert.Equal(t, []float64{0, 0.5, 1}, submitted.Drawing.ModelData)
		assert.Equal(t, 28, submitted.Drawing.Width)
		assert.Equal(t, "2024-01-01T00:00:00Z", submitted.Timestamp)
	})

	t.Run("drawing submitted with wrong payload shape", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"drawing_submitted","payload":{"drawing":{"modelData":"nope"}}}`))
		var payloadErr *PayloadError
		require.ErrorAs(t, err, &payloadErr)
		assert.Equal(t, TypeDrawingSubmitted, payloadErr.Type)
	})

	t.Run("drawing submitted with null vector element", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"drawing_submitted","payload":{"drawing":{"displayImage":"data:image/png;base64,AA==","modelData":[0,null,1],"width":28,"height":28},"timestamp":"2024-01-01T00:00:00Z"}}`))
		var payloadErr *PayloadError
		require.ErrorAs(t, err, &payloadErr)
		assert.Equal(t, TypeDrawingSubmitted, payloadErr.Type)
		assert.Contains(t, err.Error(), "modelData[1]")
	})

	t.Run("drawing submitted timestamp", func(t *testing.T) {
		drawing := `{"displayImage":"data:image/png;base64,AA==","modelData":[0],"width":28,"height":28}`
		for name, payload := range map[string]string{
			"missing": `{"drawing":` + drawing + `}`,
			"null":    `{"drawing":` + drawing + `,"timestamp":null}`,
			"number":  `{"drawing":` + drawing + `,"timestamp":1714564800}`,
		} {
			_, err := Decode([]byte(`{"type":"drawing_submitted","payload":` + payload + `}`))
			var payloadErr *PayloadError
			assert.ErrorAs(t, err, &payloadErr, name)
		}
	})

	t.Run("drawing submitted without payload", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"drawing_submitted"}`))
		var payloadErr *PayloadError
		require.ErrorAs(t, err, &payloadErr)
	})

	t.Run("payload-less variants", func(t *testing.T) {
		cases := map[string]Message{
			"reset":              Reset{},
			"reset_canvas":       ResetCanvas{},
			"navigate_to_doodle": NavigateToDoodle{},
			"navigate_to_digit":  NavigateToDigit{},
			"navigate_to_home":   NavigateToHome{},
			"start_drawing":      StartDrawing{},
		}
		for tag, want := range cases {
			msg, err := Decode([]byte(`{"type":"` + tag + `"}`))
			require.NoError(t, err, tag)
			assert.Equal(t, want, msg, tag)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"launch_missiles"}`))
		assert.True(t, errors.Is(err, ErrUnknownType))
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Decode([]byte(`{not json`))
		assert.True(t, errors.Is(err, ErrMalformed))
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := Decode([]byte(`{"payload":{}}`))
		assert.True(t, errors.Is(err, ErrMalformed))
	})
}

func TestEncode(t *testing.T) {
	t.Run("payload-less variant omits payload", func(t *testing.T) {
		data, err := Encode(ResetCanvas{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"reset_canvas"}`, string(data))
	})

	t.Run("error", func(t *testing.T) {
		data, err := Encode(Error{Message: "Invalid drawing data. Please try again."})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","payload":{"message":"Invalid drawing data. Please try again."}}`, string(data))
	})

	t.Run("prediction result uses camel case fields", func(t *testing.T) {
		data, err := Encode(PredictionResult{
			Predictions:      []Prediction{{Class: "cat", Confidence: 0.8}},
			TrainingExamples: map[string][]string{"cat": {"/api/placeholder/cat/1"}},
			UserDrawing:      "data:image/png;base64,AA==",
		})
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		payload := raw["payload"].(map[string]any)
		assert.Contains(t, payload, "trainingExamples")
		assert.Contains(t, payload, "userDrawing")
	})

	t.Run("decode accepts what encode produces", func(t *testing.T) {
		in := Connected{Mode: RoleDesktop}
		data, err := Encode(in)
		require.NoError(t, err)

		out, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("nil message", func(t *testing.T) {
		_, err := Encode(nil)
		assert.Error(t, err)
	})
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("desktop")
	require.NoError(t, err)
	assert.Equal(t, RoleDesktop, role)

	_, err = ParseRole("")
	assert.Error(t, err)
}
