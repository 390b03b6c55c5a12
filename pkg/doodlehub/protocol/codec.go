package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a frame is not a JSON envelope with a
	// string type tag.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownType is returned for envelopes whose tag is not part of the
	// protocol.
	ErrUnknownType = errors.New("unknown message type")
)

// PayloadError is returned when the tag is known but the payload does not
// have the shape that tag requires.
type PayloadError struct {
	Type Type
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Type, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// envelope is the on-the-wire shape shared by every message.
type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a single frame into its message variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case TypeConnected:
		var msg Connected
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		if _, err := ParseRole(string(msg.Mode)); err != nil {
			return nil, &PayloadError{Type: env.Type, Err: err}
		}
		return msg, nil

	case TypeDrawingSubmitted:
		var msg DrawingSubmitted
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		return msg, nil

	case TypePredictionResult:
		var msg PredictionResult
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		return msg, nil

	case TypeError:
		var msg Error
		if err := decodePayload(env, &msg); err != nil {
			return nil, err
		}
		return msg, nil

	case TypeReset:
		return Reset{}, nil
	case TypeResetCanvas:
		return ResetCanvas{}, nil
	case TypeNavigateToDoodle:
		return NavigateToDoodle{}, nil
	case TypeNavigateToDigit:
		return NavigateToDigit{}, nil
	case TypeNavigateToHome:
		return NavigateToHome{}, nil
	case TypeStartDrawing:
		return StartDrawing{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodePayload(env envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return &PayloadError{Type: env.Type, Err: errors.New("missing payload")}
	}

	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &PayloadError{Type: env.Type, Err: err}
	}

	return nil
}

// UnmarshalJSON rejects null vector elements, which encoding/json would
// otherwise store as zero.
func (p *DrawingPayload) UnmarshalJSON(data []byte) error {
	var wire struct {
		DisplayImage string     `json:"displayImage"`
		ModelData    []*float64 `json:"modelData"`
		Width        int        `json:"width"`
		Height       int        `json:"height"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var modelData []float64
	if wire.ModelData != nil {
		modelData = make([]float64, len(wire.ModelData))
		for i, v := range wire.ModelData {
			if v == nil {
				return fmt.Errorf("modelData[%d] is null", i)
			}
			modelData[i] = *v
		}
	}

	*p = DrawingPayload{
		DisplayImage: wire.DisplayImage,
		ModelData:    modelData,
		Width:        wire.Width,
		Height:       wire.Height,
	}
	return nil
}

// UnmarshalJSON requires the timestamp to be present as a string.
func (m *DrawingSubmitted) UnmarshalJSON(data []byte) error {
	var wire struct {
		Drawing   DrawingPayload `json:"drawing"`
		Timestamp *string        `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Timestamp == nil {
		return errors.New("missing timestamp")
	}

	*m = DrawingSubmitted{Drawing: wire.Drawing, Timestamp: *wire.Timestamp}
	return nil
}

// Encode serializes a message into a frame. Variants without data are sent
// without a payload field.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("cannot encode nil message")
	}

	env := envelope{Type: msg.Type()}

	switch msg.(type) {
	case Reset, ResetCanvas, NavigateToDoodle, NavigateToDigit, NavigateToHome, StartDrawing:
	default:
		payload, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Type(), err)
		}
		env.Payload = payload
	}

	return json.Marshal(env)
}

// MustEncode is Encode for messages that cannot fail to serialize, such as
// the payload-less variants.
func MustEncode(msg Message) []byte {
	data, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}
