package functions

import (
	"fmt"

	"github.com/tsarna/doodlehub/pkg/doodlehub/inference"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// GetDoodleFunctions returns the hub-specific functions.
func GetDoodleFunctions() map[string]function.Function {
	return map[string]function.Function{
		"classes":     ClassesFunc,
		"example_url": ExampleURLFunc,
	}
}

// ClassesFunc returns the class names of a built-in class set, so a
// configuration can start from one and trim or extend it.
//
//	classes = slice(classes("doodle"), 0, 10)
var ClassesFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "set", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.List(cty.String)),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		name := args[0].AsString()
		classes, ok := inference.ClassSet(name)
		if !ok {
			return cty.NilVal, function.NewArgErrorf(0, "unknown class set %q", name)
		}

		vals := make([]cty.Value, len(classes))
		for i, class := range classes {
			vals[i] = cty.StringVal(class)
		}
		return cty.ListVal(vals), nil
	},
})

// ExampleURLFunc returns the placeholder training example path for a class
// and variant.
var ExampleURLFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "class", Type: cty.String},
		{Name: "variant", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		variant, accuracy := args[1].AsBigFloat().Int64()
		if accuracy != 0 || variant < 1 {
			return cty.NilVal, function.NewArgError(1, fmt.Errorf("variant must be a positive integer"))
		}
		return cty.StringVal(inference.ExampleURL(args[0].AsString(), int(variant))), nil
	},
})
