package config

import (
	"github.com/hashicorp/hcl/v2"
)

var blockSchema = []hcl.BlockHeaderSchema{
	{
		Type:       "const",
		LabelNames: []string{},
	},
	{
		Type:       "inference",
		LabelNames: []string{},
	},
	{
		Type:       "metrics",
		LabelNames: []string{},
	},
	{
		Type:       "server",
		LabelNames: []string{"name"},
	},
	{
		Type:       "signals",
		LabelNames: []string{},
	},
	{
		Type:       "stats",
		LabelNames: []string{},
	},
}

var configSchema = &hcl.BodySchema{
	Blocks: blockSchema,
}
