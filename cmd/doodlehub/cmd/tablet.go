package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tsarna/doodlehub/pkg/doodlehub/client"
	"github.com/tsarna/doodlehub/pkg/doodlehub/drawing"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"go.uber.org/zap"
)

// tabletCmd represents the tablet command
var tabletCmd = &cobra.Command{
	Use:   "tablet",
	Short: "Run a terminal drawing tablet",
	Long: `Connect to a hub as a drawing tablet. Whenever a desktop starts a game
the tablet submits a drawing and prints the prediction it gets back.

The drawing is read from a JSON file holding displayImage, modelData, width
and height. Without --drawing a synthetic diagonal stroke is submitted.

Examples:
  doodlehub tablet
  doodlehub tablet --submit --drawing cat.json
  doodlehub tablet --url ws://kiosk.local:5000/ws`,
	Args: cobra.NoArgs,
	RunE: runTablet,
}

var (
	tabletFlags     clientFlags
	drawingFile     string
	submitOnConnect bool
)

func init() {
	rootCmd.AddCommand(tabletCmd)

	tabletFlags.register(tabletCmd)
	tabletCmd.Flags().StringVar(&drawingFile, "drawing", "", "JSON file with the drawing to submit")
	tabletCmd.Flags().BoolVar(&submitOnConnect, "submit", false, "submit the drawing as soon as the tablet connects")
}

func runTablet(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	payload := syntheticDrawing()
	if drawingFile != "" {
		payload, err = loadDrawing(drawingFile)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()

	var controller *client.Controller
	submit := func() {
		if controller.SubmitDrawing(payload) {
			fmt.Fprintln(out, "drawing submitted")
		} else {
			logger.Warn("Drawing not submitted, not connected")
		}
	}

	controller, err = tabletFlags.build(logger, protocol.RoleTablet, client.Handlers{
		OnConnected: func() {
			color.New(color.FgCyan).Fprintln(out, "connected, waiting for a game to start")
			if submitOnConnect {
				submit()
			}
		},
		OnDisconnected:     func() { color.New(color.FgYellow).Fprintln(out, "disconnected, reconnecting...") },
		OnStartDrawing:     submit,
		OnPredictionResult: func(result protocol.PredictionResult) { printPredictions(out, result.Predictions) },
		OnResetCanvas:      func() { fmt.Fprintln(out, "canvas reset") },
		OnNavigateToHome:   func() { fmt.Fprintln(out, "back to the landing screen") },
		OnError:            func(message string) { color.New(color.FgRed).Fprintln(out, message) },
	})
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		return err
	}
	defer controller.Close()

	logger.Debug("Tablet running", zap.String("drawing", drawingFile))
	<-ctx.Done()
	return nil
}

// loadDrawing reads a drawing payload from a JSON file and checks it the way
// the hub will.
func loadDrawing(path string) (protocol.DrawingPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.DrawingPayload{}, err
	}
	defer f.Close()

	return decodeDrawing(f)
}

func decodeDrawing(r io.Reader) (protocol.DrawingPayload, error) {
	var payload protocol.DrawingPayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return protocol.DrawingPayload{}, fmt.Errorf("failed to decode drawing: %w", err)
	}

	if _, err := drawing.Validate(payload); err != nil {
		return protocol.DrawingPayload{}, err
	}
	return payload, nil
}

// A 1x1 transparent PNG.
const blankImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

// syntheticDrawing is a diagonal stroke across the model grid.
func syntheticDrawing() protocol.DrawingPayload {
	side := drawing.Side
	data := make([]float64, drawing.VectorLength)
	for i := 4; i < side-4; i++ {
		data[i*side+i] = 1
		data[i*side+i+1] = 0.5
	}

	return protocol.DrawingPayload{
		DisplayImage: blankImage,
		ModelData:    data,
		Width:        side,
		Height:       side,
	}
}
