package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/doodlehub/pkg/doodlehub/placeholder"
	"github.com/tsarna/doodlehub/pkg/doodlehub/server"
)

// ServerSettings configures the HTTP listener and the WebSocket transport.
type ServerSettings struct {
	Name              string
	Listen            string
	WSPath            string
	StaticDir         string
	AllowedOrigins    []string
	QueueSize         int
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
	ShutdownTimeout   time.Duration
	PlaceholderMaxAge time.Duration
}

// DefaultServerSettings returns the settings used when no server block is
// given.
func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		Name:              "main",
		Listen:            ":5000",
		WSPath:            "/ws",
		QueueSize:         server.DefaultQueueSize,
		PingInterval:      server.DefaultPingInterval,
		WriteTimeout:      server.DefaultWriteTimeout,
		ReadLimit:         server.DefaultReadLimit,
		ShutdownTimeout:   10 * time.Second,
		PlaceholderMaxAge: placeholder.DefaultMaxAge,
	}
}

type ServerDefinition struct {
	Listen            string         `hcl:"listen,optional"`
	WSPath            string         `hcl:"ws_path,optional"`
	StaticDir         string         `hcl:"static_dir,optional"`
	AllowedOrigins    []string       `hcl:"allowed_origins,optional"`
	QueueSize         hcl.Expression `hcl:"queue_size,optional"`
	PingInterval      hcl.Expression `hcl:"ping_interval,optional"`
	WriteTimeout      hcl.Expression `hcl:"write_timeout,optional"`
	ReadLimit         hcl.Expression `hcl:"read_limit,optional"`
	ShutdownTimeout   hcl.Expression `hcl:"shutdown_timeout,optional"`
	PlaceholderMaxAge hcl.Expression `hcl:"placeholder_max_age,optional"`
	DefRange          hcl.Range      `hcl:",def_range"`
}

type ServerBlockHandler struct {
	BlockHandlerBase
}

func NewServerBlockHandler() *ServerBlockHandler {
	return &ServerBlockHandler{}
}

func (h *ServerBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	diags := config.claim(block)
	if diags.HasErrors() {
		return diags
	}

	serverDef := ServerDefinition{}
	diags = diags.Extend(gohcl.DecodeBody(block.Body, config.evalCtx, &serverDef))
	if diags.HasErrors() {
		return diags
	}

	settings := &config.Server
	settings.Name = block.Labels[0]

	if serverDef.Listen != "" {
		settings.Listen = serverDef.Listen
	}
	if serverDef.WSPath != "" {
		if serverDef.WSPath[0] != '/' {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid ws_path",
				Detail:   fmt.Sprintf("ws_path must start with /, got %q", serverDef.WSPath),
				Subject:  &serverDef.DefRange,
			})
		}
		settings.WSPath = serverDef.WSPath
	}
	settings.StaticDir = serverDef.StaticDir
	settings.AllowedOrigins = serverDef.AllowedOrigins

	diags = diags.Extend(config.setValue(serverDef.QueueSize, &settings.QueueSize))
	diags = diags.Extend(config.setValue(serverDef.ReadLimit, &settings.ReadLimit))
	diags = diags.Extend(config.setDuration(serverDef.PingInterval, &settings.PingInterval))
	diags = diags.Extend(config.setDuration(serverDef.WriteTimeout, &settings.WriteTimeout))
	diags = diags.Extend(config.setDuration(serverDef.ShutdownTimeout, &settings.ShutdownTimeout))
	diags = diags.Extend(config.setDuration(serverDef.PlaceholderMaxAge, &settings.PlaceholderMaxAge))

	if settings.QueueSize <= 0 {
		diags = diags.Append(invalidAttribute(serverDef.QueueSize, "Invalid queue_size", "queue_size must be positive"))
	}
	if settings.ReadLimit <= 0 {
		diags = diags.Append(invalidAttribute(serverDef.ReadLimit, "Invalid read_limit", "read_limit must be positive"))
	}

	return diags
}
