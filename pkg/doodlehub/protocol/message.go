// Package protocol defines the JSON wire format spoken between the hub and
// the kiosk clients.
//
// Every frame is a text WebSocket message carrying an envelope of the form
// {"type": "...", "payload": {...}}. Variants without data omit the payload.
package protocol

import "fmt"

// Type is the discriminating tag of a wire message.
type Type string

// Client to hub message types
const (
	TypeConnected        Type = "connected"
	TypeDrawingSubmitted Type = "drawing_submitted"
	TypeReset            Type = "reset"
	TypeNavigateToDoodle Type = "navigate_to_doodle"
	TypeNavigateToDigit  Type = "navigate_to_digit"
)

// Hub to client message types
const (
	TypePredictionResult Type = "prediction_result"
	TypeResetCanvas      Type = "reset_canvas"
	TypeError            Type = "error"
	TypeStartDrawing     Type = "start_drawing"
)

// TypeNavigateToHome travels in both directions: a desktop sends it and the
// hub relays it unchanged to the tablets.
const TypeNavigateToHome Type = "navigate_to_home"

// Role is the kiosk role a client announces when it connects.
type Role string

const (
	RoleTablet  Role = "tablet"
	RoleDesktop Role = "desktop"
)

// Roles lists every valid role.
var Roles = []Role{RoleTablet, RoleDesktop}

// ParseRole converts a wire mode string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleTablet, RoleDesktop:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Message is implemented by every wire message variant.
type Message interface {
	Type() Type
}

// Connected announces the sender's role. It is the first frame a client
// sends on every (re)connection.
type Connected struct {
	Mode Role `json:"mode"`
}

// DrawingPayload is a drawing as captured on the tablet: a display image for
// people and a 28x28 grayscale vector for the classifier.
type DrawingPayload struct {
	DisplayImage string    `json:"displayImage"`
	ModelData    []float64 `json:"modelData"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
}

// DrawingSubmitted carries a finished drawing from a tablet.
type DrawingSubmitted struct {
	Drawing   DrawingPayload `json:"drawing"`
	Timestamp string         `json:"timestamp"`
}

// Prediction is one ranked class guess.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// PredictionResult is fanned out to every desktop and to the submitting
// tablet once inference completes.
type PredictionResult struct {
	Predictions      []Prediction        `json:"predictions"`
	TrainingExamples map[string][]string `json:"trainingExamples"`
	UserDrawing      string              `json:"userDrawing"`
}

// Error reports a recoverable failure to a client.
type Error struct {
	Message string `json:"message"`
}

type (
	Reset            struct{}
	ResetCanvas      struct{}
	NavigateToDoodle struct{}
	NavigateToDigit  struct{}
	NavigateToHome   struct{}
	StartDrawing     struct{}
)

func (Connected) Type() Type        { return TypeConnected }
func (DrawingSubmitted) Type() Type { return TypeDrawingSubmitted }
func (PredictionResult) Type() Type { return TypePredictionResult }
func (Error) Type() Type            { return TypeError }
func (Reset) Type() Type            { return TypeReset }
func (ResetCanvas) Type() Type      { return TypeResetCanvas }
func (NavigateToDoodle) Type() Type { return TypeNavigateToDoodle }
func (NavigateToDigit) Type() Type  { return TypeNavigateToDigit }
func (NavigateToHome) Type() Type   { return TypeNavigateToHome }
func (StartDrawing) Type() Type     { return TypeStartDrawing }
