package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/itchyny/gojq"
	"github.com/tsarna/doodlehub/pkg/doodlehub/inference"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Inference backends.
const (
	BackendPlaceholder = "placeholder"
	BackendHTTP        = "http"
)

// InferenceSettings selects and configures the classifier.
type InferenceSettings struct {
	Backend    string
	Classes    []string
	URL        string
	Headers    map[string]string
	ResponseJq string
	Timeout    time.Duration
	Seed       uint64
	Delay      time.Duration
}

func DefaultInferenceSettings() InferenceSettings {
	return InferenceSettings{
		Backend: BackendPlaceholder,
		Classes: append([]string(nil), inference.DoodleClasses...),
		Timeout: inference.DefaultTimeout,
	}
}

type InferenceDefinition struct {
	Backend    string            `hcl:"backend,optional"`
	Classes    hcl.Expression    `hcl:"classes,optional"`
	URL        string            `hcl:"url,optional"`
	Headers    map[string]string `hcl:"headers,optional"`
	ResponseJq string            `hcl:"response_jq,optional"`
	Timeout    hcl.Expression    `hcl:"timeout,optional"`
	Seed       hcl.Expression    `hcl:"seed,optional"`
	Delay      hcl.Expression    `hcl:"delay,optional"`
	DefRange   hcl.Range         `hcl:",def_range"`
}

type InferenceBlockHandler struct {
	BlockHandlerBase

	defRange hcl.Range
}

func NewInferenceBlockHandler() *InferenceBlockHandler {
	return &InferenceBlockHandler{}
}

func (h *InferenceBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	diags := config.claim(block)
	if diags.HasErrors() {
		return diags
	}

	def := InferenceDefinition{}
	diags = diags.Extend(gohcl.DecodeBody(block.Body, config.evalCtx, &def))
	if diags.HasErrors() {
		return diags
	}
	h.defRange = def.DefRange

	settings := &config.Inference

	if def.Backend != "" {
		settings.Backend = def.Backend
	}
	settings.URL = def.URL
	settings.Headers = def.Headers
	settings.ResponseJq = def.ResponseJq

	diags = diags.Extend(config.setDuration(def.Timeout, &settings.Timeout))
	diags = diags.Extend(config.setDuration(def.Delay, &settings.Delay))
	diags = diags.Extend(config.setValue(def.Seed, &settings.Seed))

	if IsExpressionProvided(def.Classes) {
		classes, classDiags := config.parseClasses(def.Classes)
		diags = diags.Extend(classDiags)
		if !classDiags.HasErrors() {
			settings.Classes = classes
		}
	}

	if settings.ResponseJq != "" {
		if _, err := gojq.Parse(settings.ResponseJq); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid response_jq",
				Detail:   fmt.Sprintf("Failed to parse jq query: %s", err),
				Subject:  &def.DefRange,
			})
		}
	}

	return diags
}

// FinishProcessing checks the backend against the settings it needs. It runs
// even without an inference block, validating the defaults.
func (h *InferenceBlockHandler) FinishProcessing(config *Config) hcl.Diagnostics {
	settings := config.Inference
	subject := h.defRange.Ptr()
	if h.defRange.Filename == "" {
		subject = nil
	}

	switch settings.Backend {
	case BackendPlaceholder:
		if len(settings.Classes) < 4 {
			return hcl.Diagnostics{&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Too few classes",
				Detail:   fmt.Sprintf("The placeholder backend needs at least 4 classes, got %d", len(settings.Classes)),
				Subject:  subject,
			}}
		}

	case BackendHTTP:
		u, err := url.Parse(settings.URL)
		if settings.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return hcl.Diagnostics{&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid inference url",
				Detail:   fmt.Sprintf("The http backend needs an http or https url, got %q", settings.URL),
				Subject:  subject,
			}}
		}

	default:
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid inference backend",
			Detail:   fmt.Sprintf("Unknown backend %q, expected %q or %q", settings.Backend, BackendPlaceholder, BackendHTTP),
			Subject:  subject,
		}}
	}

	return nil
}

// parseClasses accepts either the name of a built-in class set or a list of
// class names.
func (c *Config) parseClasses(expr hcl.Expression) ([]string, hcl.Diagnostics) {
	val, diags := expr.Value(c.evalCtx)
	if diags.HasErrors() {
		return nil, diags
	}

	if val.Type() == cty.String {
		classes, ok := inference.ClassSet(val.AsString())
		if !ok {
			return nil, diags.Append(invalidAttribute(expr, "Unknown class set",
				fmt.Sprintf("Unknown class set %q, expected \"doodle\" or \"digit\"", val.AsString())))
		}
		return append([]string(nil), classes...), diags
	}

	var classes []string
	list, err := convert.Convert(val, cty.List(cty.String))
	if err == nil {
		err = gocty.FromCtyValue(list, &classes)
	}
	if err != nil {
		return nil, diags.Append(invalidAttribute(expr, "Invalid classes",
			fmt.Sprintf("classes must be a class set name or a list of strings: %s", err)))
	}

	seen := make(map[string]bool, len(classes))
	for _, class := range classes {
		if class == "" || seen[class] {
			return nil, diags.Append(invalidAttribute(expr, "Invalid classes",
				fmt.Sprintf("class names must be non-empty and unique, got %q", class)))
		}
		seen[class] = true
	}

	return classes, diags
}
