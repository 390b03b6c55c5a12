package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/robfig/cron/v3"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"github.com/tsarna/doodlehub/pkg/doodlehub/registry"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
)

// StatsSettings configures the periodic connection-count report. An empty
// schedule disables it.
type StatsSettings struct {
	Schedule string
	Location *time.Location
	Message  hcl.Expression
}

func DefaultStatsSettings() StatsSettings {
	return StatsSettings{
		Location: time.Local,
	}
}

type StatsDefinition struct {
	Schedule string         `hcl:"schedule"`
	Timezone string         `hcl:"timezone,optional"`
	Message  hcl.Expression `hcl:"message,optional"`
	DefRange hcl.Range      `hcl:",def_range"`
}

type StatsBlockHandler struct {
	BlockHandlerBase
}

func NewStatsBlockHandler() *StatsBlockHandler {
	return &StatsBlockHandler{}
}

// NewCronParser returns the schedule parser used for stats reporting. It
// accepts an optional seconds field and descriptors such as @every 5m.
func NewCronParser() cron.Parser {
	return cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
}

func (h *StatsBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	diags := config.claim(block)
	if diags.HasErrors() {
		return diags
	}

	def := StatsDefinition{}
	diags = diags.Extend(gohcl.DecodeBody(block.Body, config.evalCtx, &def))
	if diags.HasErrors() {
		return diags
	}

	if _, err := NewCronParser().Parse(def.Schedule); err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid schedule",
			Detail:   fmt.Sprintf("Failed to parse schedule %q: %s", def.Schedule, err),
			Subject:  &def.DefRange,
		})
	}

	if def.Timezone == "" {
		def.Timezone = "Local"
	}
	location, err := time.LoadLocation(def.Timezone)
	if err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid timezone",
			Detail:   fmt.Sprintf("Invalid timezone: %s", def.Timezone),
			Subject:  &def.DefRange,
		})
	}

	if diags.HasErrors() {
		return diags
	}

	config.Stats = StatsSettings{
		Schedule: def.Schedule,
		Location: location,
	}
	if IsExpressionProvided(def.Message) {
		config.Stats.Message = def.Message
	}

	return diags
}

// BuildStatsCron returns a cron that logs the counts reported by source on
// the configured schedule, or nil when stats reporting is disabled. The
// caller starts and stops it.
func (c *Config) BuildStatsCron(source func() registry.Stats) (*cron.Cron, error) {
	if c.Stats.Schedule == "" {
		return nil, nil
	}

	cronObj := cron.New(
		cron.WithLogger(NewZapCronLogger(c.Logger)),
		cron.WithParser(NewCronParser()),
		cron.WithLocation(c.Stats.Location),
	)

	_, err := cronObj.AddJob(c.Stats.Schedule, &statsJob{config: c, source: source})
	if err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", c.Stats.Schedule, err)
	}

	return cronObj, nil
}

type statsJob struct {
	config *Config
	source func() registry.Stats
}

func (j *statsJob) Run() {
	stats := j.source()

	fields := []zap.Field{
		zap.Int("tablets", stats.Tablets),
		zap.Int("desktops", stats.Desktops),
		zap.Int("connections", stats.Connections),
	}

	if j.config.Stats.Message == nil {
		j.config.Logger.Info("Connection stats", fields...)
		return
	}

	message, err := j.config.StatsMessage(stats)
	if err != nil {
		j.config.Logger.Error("Error evaluating stats message", zap.Error(err))
		message = "Connection stats"
	}
	j.config.Logger.Info(message, fields...)
}

// StatsMessage evaluates the configured stats message. The ctx object holds
// server, tablets, desktops, connections and roles, a map of role to count.
func (c *Config) StatsMessage(stats registry.Stats) (string, error) {
	evalCtx := NewContext().
		WithStringAttribute("server", c.Server.Name).
		WithInt64Attribute("tablets", int64(stats.Tablets)).
		WithInt64Attribute("desktops", int64(stats.Desktops)).
		WithInt64Attribute("connections", int64(stats.Connections)).
		WithAttribute("roles", cty.ObjectVal(map[string]cty.Value{
			string(protocol.RoleTablet):  cty.NumberIntVal(int64(stats.Tablets)),
			string(protocol.RoleDesktop): cty.NumberIntVal(int64(stats.Desktops)),
		})).
		BuildEvalContext(c.evalCtx)

	value, diags := c.Stats.Message.Value(evalCtx)
	if diags.HasErrors() {
		return "", diags
	}
	if value.IsNull() || !value.IsKnown() || value.Type() != cty.String {
		return "", fmt.Errorf("stats message must be a string, got %s", value.Type().FriendlyName())
	}

	return value.AsString(), nil
}

// ZapCronLogger adapts a zap.Logger to implement the cron.Logger interface
type ZapCronLogger struct {
	logger *zap.Logger
}

// NewZapCronLogger creates a new ZapCronLogger that wraps the given zap.Logger
func NewZapCronLogger(logger *zap.Logger) *ZapCronLogger {
	return &ZapCronLogger{logger: logger}
}

// Info logs cron's routine operation at debug level.
func (z *ZapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Debug(msg, cronFields(keysAndValues)...)
}

// Error logs error conditions using zap's Error level
func (z *ZapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append([]zap.Field{zap.Error(err)}, cronFields(keysAndValues)...)
	z.logger.Error(msg, fields...)
}

func cronFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}
