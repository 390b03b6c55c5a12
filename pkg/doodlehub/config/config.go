// Package config loads the hub's HCL configuration.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/tsarna/doodlehub/pkg/doodlehub/config/functions"
	"github.com/tsarna/doodlehub/pkg/doodlehub/config/platform"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
)

type ConfigBuilder struct {
	logger        *zap.Logger
	sources       []any
	dotEnvFiles   []string
	blockHandlers map[string]BlockHandler
}

type Config struct {
	Logger    *zap.Logger
	Functions map[string]function.Function
	Constants map[string]cty.Value
	evalCtx   *hcl.EvalContext

	Server    ServerSettings
	Inference InferenceSettings
	Metrics   MetricsSettings
	Stats     StatsSettings
	Signals   map[platform.Signal]SignalAction

	// Where each singleton block was defined, for duplicate detection.
	defined map[string]hcl.Range
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		sources:       make([]any, 0),
		blockHandlers: GetBlockHandlers(),
	}
}

func (c *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	c.logger = logger
	return c
}

// WithSources adds configuration sources: file or directory paths, raw
// []byte HCL, or an embed.FS.
func (c *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	c.sources = append(c.sources, sources...)
	return c
}

// WithDotEnv loads the given .env files into the process environment before
// env.* is captured. Variables already set are not overridden.
func (c *ConfigBuilder) WithDotEnv(files ...string) *ConfigBuilder {
	c.dotEnvFiles = append(c.dotEnvFiles, files...)
	return c
}

// Build parses every source and returns the resolved configuration. With no
// sources it returns the defaults.
func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	if cb.logger == nil {
		cb.logger = zap.NewNop()
	}

	config := &Config{
		Logger:    cb.logger,
		Constants: make(map[string]cty.Value),
		Server:    DefaultServerSettings(),
		Inference: DefaultInferenceSettings(),
		Metrics:   DefaultMetricsSettings(),
		Stats:     DefaultStatsSettings(),
		Signals:   make(map[platform.Signal]SignalAction),
		defined:   make(map[string]hcl.Range),
	}

	diags := LoadDotEnv(cb.dotEnvFiles...)
	if diags.HasErrors() {
		return nil, diags
	}

	bodies, addDiags := ParseConfigFiles(cb.sources...)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	config.Functions = config.GetFunctions()

	blocks, addDiags := cb.GetBlocks(bodies)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	config.Constants["env"] = GetEnvObject()

	config.evalCtx = &hcl.EvalContext{
		Functions: config.Functions,
		Variables: config.Constants,
	}

	// Preprocess blocks

	for _, block := range blocks {
		if handler, ok := cb.blockHandlers[block.Type]; ok {
			diags = diags.Extend(handler.Preprocess(block))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, handler := range cb.blockHandlers {
		diags = diags.Extend(handler.FinishPreprocessing(config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	// Process blocks

	for _, block := range blocks {
		if handler, ok := cb.blockHandlers[block.Type]; ok {
			diags = diags.Extend(handler.Process(config, block))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, handler := range cb.blockHandlers {
		diags = diags.Extend(handler.FinishProcessing(config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	config.Logger.Info("Config built successfully",
		zap.String("listen", config.Server.Listen),
		zap.String("inference_backend", config.Inference.Backend),
		zap.String("metrics_provider", config.Metrics.Provider),
	)

	return config, diags
}

// GetFunctions returns the functions available to configuration
// expressions.
func (c *Config) GetFunctions() map[string]function.Function {
	funcs := functions.GetStandardLibraryFunctions()

	for name, fn := range functions.GetDoodleFunctions() {
		funcs[name] = fn
	}

	return funcs
}

// claim records that a singleton block has been seen, reporting a
// diagnostic if it was already defined.
func (c *Config) claim(block *hcl.Block) hcl.Diagnostics {
	if previous, ok := c.defined[block.Type]; ok {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  fmt.Sprintf("Duplicate %s block", block.Type),
			Detail:   fmt.Sprintf("A %s block is already defined at %s", block.Type, previous),
			Subject:  &block.DefRange,
		}}
	}

	c.defined[block.Type] = block.DefRange
	return nil
}
