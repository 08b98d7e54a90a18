package layers

import (
	"slices"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Constructor builds a layer from its description. It may read the shapes
// of bottoms already registered in ws.
type Constructor func(desc Desc, ws *workspace.Workspace) Layer

var registry = map[string]Constructor{
	"Data":        newData,
	"Convolution": newConvolution,
	"Pooling":     newPooling,
	"Concat":      newConcat,
	"Eltwise":     newEltwise,
	"Activate":    newActivate,
	"Permute":     newPermute,
	"Connected":   newConnected,
	"Flatten":     newFlatten,
}

// Register adds a layer type. Registering a type twice is a configuration
// error.
func Register(typ string, ctor Constructor) {
	check.Config(typ != "" && ctor != nil, "register: empty layer type or nil constructor")
	if _, dup := registry[typ]; dup {
		check.Failf(check.ConfigurationError, "register: layer type %q already registered", typ)
	}
	registry[typ] = ctor
}

// New constructs the layer desc.Type names.
func New(desc Desc, ws *workspace.Workspace) Layer {
	ctor, ok := registry[desc.Type]
	if !ok {
		check.Failf(check.ConfigurationError, "layer %s: unknown type %q", desc.Name, desc.Type)
	}
	return ctor(desc, ws)
}

// Types lists the registered layer types in sorted order.
func Types() []string {
	out := make([]string, 0, len(registry))
	for typ := range registry {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}
