package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
	"github.com/tsarna/doodlehub/pkg/doodlehub/client"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
)

// desktopCmd represents the desktop command
var desktopCmd = &cobra.Command{
	Use:   "desktop",
	Short: "Run a terminal desktop display",
	Long: `Connect to a hub as a desktop display. Every prediction result is
printed as a ranked list of classes with confidence bars.

Commands are read from stdin, one per line:
  reset    clear every tablet's canvas
  doodle   send the tablets to the doodle game
  digit    send the tablets to the digit game
  home     send the tablets back to their landing screen
  quit     disconnect and exit

Examples:
  doodlehub desktop
  doodlehub desktop --url ws://kiosk.local:5000/ws`,
	Args: cobra.NoArgs,
	RunE: runDesktop,
}

var desktopFlags clientFlags

func init() {
	rootCmd.AddCommand(desktopCmd)

	desktopFlags.register(desktopCmd)
}

func runDesktop(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	out := cmd.OutOrStdout()
	session := &desktopSession{out: out}

	controller, err := desktopFlags.build(logger, protocol.RoleDesktop, client.Handlers{
		OnConnected:        func() { color.New(color.FgCyan).Fprintln(out, "connected") },
		OnDisconnected:     func() { color.New(color.FgYellow).Fprintln(out, "disconnected, reconnecting...") },
		OnPredictionResult: session.showResult,
		OnResetCanvas:      func() { fmt.Fprintln(out, "canvas reset") },
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

	commands := make(chan string)
	go readCommands(cmd.InOrStdin(), commands)

	for {
		select {
		case <-ctx.Done():
			session.summarize()
			return nil

		case line, ok := <-commands:
			if !ok || line == "quit" {
				session.summarize()
				return nil
			}
			if err := runDesktopCommand(controller, line); err != nil {
				color.New(color.FgRed).Fprintln(out, err)
			}
		}
	}
}

func readCommands(in io.Reader, commands chan<- string) {
	defer close(commands)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line != "" {
			commands <- line
		}
	}
}

func runDesktopCommand(controller *client.Controller, command string) error {
	var sent bool
	switch command {
	case "reset":
		sent = controller.SendReset()
	case "doodle":
		sent = controller.SendNavigate(client.DestinationDoodle)
	case "digit":
		sent = controller.SendNavigate(client.DestinationDigit)
	case "home":
		sent = controller.SendNavigate(client.DestinationHome)
	default:
		return fmt.Errorf("unknown command %q, expected reset, doodle, digit, home or quit", command)
	}

	if !sent {
		return fmt.Errorf("not connected, %s was not sent", command)
	}
	return nil
}

// desktopSession prints results and remembers the top confidence of each
// for the exit summary.
type desktopSession struct {
	out io.Writer

	mu             sync.Mutex
	topConfidences stats.Float64Data
}

func (s *desktopSession) showResult(result protocol.PredictionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	printPredictions(s.out, result.Predictions)
	if len(result.Predictions) > 0 {
		s.topConfidences = append(s.topConfidences, result.Predictions[0].Confidence)
	}
}

func (s *desktopSession) summarize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.topConfidences) == 0 {
		return
	}

	mean, _ := s.topConfidences.Mean()
	median, _ := s.topConfidences.Median()
	fmt.Fprintf(s.out, "%d drawings, top confidence mean %.1f%% median %.1f%%\n",
		len(s.topConfidences), mean*100, median*100)
}

const barWidth = 30

func printPredictions(out io.Writer, predictions []protocol.Prediction) {
	top := color.New(color.FgGreen, color.Bold)
	rest := color.New(color.FgWhite)

	for i, p := range predictions {
		c := rest
		if i == 0 {
			c = top
		}

		filled := int(p.Confidence*barWidth + 0.5)
		if filled > barWidth {
			filled = barWidth
		}
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

		c.Fprintf(out, "%-10s %s %5.1f%%\n", p.Class, bar, p.Confidence*100)
	}
	fmt.Fprintln(out)
}
