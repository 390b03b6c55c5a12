package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// ContextObjectBuilder builds the ctx object exposed to expressions that are
// evaluated at run time, such as the stats message.
type ContextObjectBuilder struct {
	attributes map[string]cty.Value
}

func NewContext() *ContextObjectBuilder {
	return &ContextObjectBuilder{
		attributes: make(map[string]cty.Value),
	}
}

func (b *ContextObjectBuilder) WithAttribute(name string, value cty.Value) *ContextObjectBuilder {
	b.attributes[name] = value

	return b
}

func (b *ContextObjectBuilder) WithInt64Attribute(name string, value int64) *ContextObjectBuilder {
	b.attributes[name] = cty.NumberIntVal(value)

	return b
}

func (b *ContextObjectBuilder) WithStringAttribute(name string, value string) *ContextObjectBuilder {
	b.attributes[name] = cty.StringVal(value)

	return b
}

func (b *ContextObjectBuilder) Build() cty.Value {
	return cty.ObjectVal(b.attributes)
}

// BuildEvalContext returns a child of parent with ctx bound to the built
// object.
func (b *ContextObjectBuilder) BuildEvalContext(parent *hcl.EvalContext) *hcl.EvalContext {
	evalCtx := parent.NewChild()
	evalCtx.Variables = map[string]cty.Value{
		"ctx": b.Build(),
	}

	return evalCtx
}
