package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/doodlehub/pkg/doodlehub/config/platform"
	"go.uber.org/zap"
)

// SignalAction is what the hub does when an operator sends a signal.
type SignalAction string

const (
	// SignalReset clears every tablet's canvas.
	SignalReset SignalAction = "reset"
	// SignalStart tells every tablet to begin drawing.
	SignalStart SignalAction = "start"
	// SignalHome sends every tablet back to its landing screen.
	SignalHome SignalAction = "home"
)

func ParseSignalAction(s string) (SignalAction, error) {
	switch SignalAction(s) {
	case SignalReset, SignalStart, SignalHome:
		return SignalAction(s), nil
	default:
		return "", fmt.Errorf("unknown signal action %q, expected reset, start or home", s)
	}
}

type SignalsDefinition struct {
	SigHup   hcl.Expression `hcl:"SIGHUP,optional"`
	SigInfo  hcl.Expression `hcl:"SIGINFO,optional"`
	SigUsr1  hcl.Expression `hcl:"SIGUSR1,optional"`
	SigUsr2  hcl.Expression `hcl:"SIGUSR2,optional"`
	DefRange hcl.Range      `hcl:",def_range"`
}

type SignalsBlockHandler struct {
	BlockHandlerBase
}

func NewSignalsBlockHandler() *SignalsBlockHandler {
	return &SignalsBlockHandler{}
}

func (h *SignalsBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	diags := config.claim(block)
	if diags.HasErrors() {
		return diags
	}

	signalsDef := SignalsDefinition{}
	diags = diags.Extend(gohcl.DecodeBody(block.Body, config.evalCtx, &signalsDef))
	if diags.HasErrors() {
		return diags
	}

	diags = diags.Extend(config.SetSignalAction("SIGHUP", signalsDef.SigHup))
	diags = diags.Extend(config.SetSignalAction("SIGINFO", signalsDef.SigInfo))
	diags = diags.Extend(config.SetSignalAction("SIGUSR1", signalsDef.SigUsr1))
	diags = diags.Extend(config.SetSignalAction("SIGUSR2", signalsDef.SigUsr2))

	return diags
}

func (config *Config) SetSignalAction(sigName string, expr hcl.Expression) hcl.Diagnostics {
	if !IsExpressionProvided(expr) {
		return nil
	}

	signalNum := platform.SignalNum(sigName)
	if signalNum == 0 {
		// SIGINFO only exists on BSD-derived systems.
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagWarning,
			Summary:  "Signal not supported",
			Detail:   fmt.Sprintf("Signal %s is not available on this platform and will be ignored", sigName),
			Subject:  expr.Range().Ptr(),
		}}
	}

	var name string
	diags := config.setValue(expr, &name)
	if diags.HasErrors() {
		return diags
	}

	action, err := ParseSignalAction(name)
	if err != nil {
		return diags.Append(invalidAttribute(expr, "Invalid signal action", err.Error()))
	}

	config.Signals[signalNum] = action
	return diags
}

// SignalActionHandler runs the configured action whenever one of the
// configured signals arrives.
type SignalActionHandler struct {
	logger   *zap.Logger
	actions  map[platform.Signal]SignalAction
	dispatch func(context.Context, SignalAction)

	sigChannel chan os.Signal
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewSignalActionHandler(logger *zap.Logger, actions map[platform.Signal]SignalAction, dispatch func(context.Context, SignalAction)) *SignalActionHandler {
	return &SignalActionHandler{
		logger:     logger,
		actions:    actions,
		dispatch:   dispatch,
		sigChannel: make(chan os.Signal, 16),
	}
}

// Start subscribes to the configured signals. It does nothing when no
// signal actions are configured.
func (sa *SignalActionHandler) Start(ctx context.Context) {
	if len(sa.actions) == 0 {
		return
	}

	for sig := range sa.actions {
		signal.Notify(sa.sigChannel, sig)
	}

	ctx, sa.cancel = context.WithCancel(ctx)

	sa.wg.Add(1)
	go func() {
		defer sa.wg.Done()
		sa.logger.Info("Signal notification goroutine started", zap.Int("signals", len(sa.actions)))

		for {
			select {
			case sig := <-sa.sigChannel:
				sa.handle(ctx, sig)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes from signals and waits for the handler goroutine.
func (sa *SignalActionHandler) Stop() {
	if sa.cancel == nil {
		return
	}

	signal.Stop(sa.sigChannel)
	sa.cancel()
	sa.wg.Wait()
}

func (sa *SignalActionHandler) handle(ctx context.Context, sig os.Signal) {
	platformSig := platform.FromOsSignal(sig)
	if platformSig == 0 {
		sa.logger.Error("Invalid signal", zap.String("signal", sig.String()))
		return
	}

	action, ok := sa.actions[platformSig]
	if !ok {
		sa.logger.Error("Signal action not found", zap.String("signal", platformSig.String()))
		return
	}

	sa.logger.Info("Signal received",
		zap.String("signal", platformSig.String()),
		zap.String("action", string(action)),
	)

	sa.dispatch(ctx, action)
}
