package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// Metrics providers.
const (
	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
	MetricsOtel       = "otel"
)

var labelNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type MetricsSettings struct {
	Provider    string
	Path        string
	Namespace   string
	ServiceName string
	Tracing     bool
	ConstLabels map[string]string
	Buckets     []float64
}

func DefaultMetricsSettings() MetricsSettings {
	return MetricsSettings{
		Provider:    MetricsNone,
		Path:        "/metrics",
		Namespace:   "doodlehub",
		ServiceName: "doodlehub",
	}
}

type MetricsDefinition struct {
	Provider    string    `hcl:"provider,optional"`
	Path        string    `hcl:"path,optional"`
	Namespace   string    `hcl:"namespace,optional"`
	ServiceName string    `hcl:"service_name,optional"`
	Tracing     *bool             `hcl:"tracing,optional"`
	ConstLabels map[string]string `hcl:"const_labels,optional"`
	Buckets     []float64         `hcl:"buckets,optional"`
	DefRange    hcl.Range         `hcl:",def_range"`
}

type MetricsBlockHandler struct {
	BlockHandlerBase
}

func NewMetricsBlockHandler() *MetricsBlockHandler {
	return &MetricsBlockHandler{}
}

func (h *MetricsBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	diags := config.claim(block)
	if diags.HasErrors() {
		return diags
	}

	def := MetricsDefinition{}
	diags = diags.Extend(gohcl.DecodeBody(block.Body, config.evalCtx, &def))
	if diags.HasErrors() {
		return diags
	}

	settings := &config.Metrics

	if def.Provider != "" {
		settings.Provider = def.Provider
	}
	if def.Path != "" {
		settings.Path = def.Path
	}
	if def.Namespace != "" {
		settings.Namespace = def.Namespace
	}
	if def.ServiceName != "" {
		settings.ServiceName = def.ServiceName
	}
	if def.Tracing != nil {
		settings.Tracing = *def.Tracing
	}
	if len(def.ConstLabels) > 0 {
		settings.ConstLabels = def.ConstLabels
	}
	if len(def.Buckets) > 0 {
		settings.Buckets = def.Buckets
	}

	for name := range settings.ConstLabels {
		if !labelNamePattern.MatchString(name) || strings.HasPrefix(name, "__") {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid metrics label",
				Detail:   fmt.Sprintf("%q is not a valid label name", name),
				Subject:  &def.DefRange,
			})
		}
	}

	for i := 1; i < len(settings.Buckets); i++ {
		if settings.Buckets[i] <= settings.Buckets[i-1] {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid metrics buckets",
				Detail:   "buckets must be in strictly increasing order",
				Subject:  &def.DefRange,
			})
			break
		}
	}

	switch settings.Provider {
	case MetricsNone, MetricsPrometheus, MetricsOtel:
	default:
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid metrics provider",
			Detail:   fmt.Sprintf("Unknown provider %q, expected one of none, prometheus, otel", settings.Provider),
			Subject:  &def.DefRange,
		})
	}

	if !strings.HasPrefix(settings.Path, "/") {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid metrics path",
			Detail:   fmt.Sprintf("path must start with /, got %q", settings.Path),
			Subject:  &def.DefRange,
		})
	}

	return diags
}
