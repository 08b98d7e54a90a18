// Package topology reads network descriptions from JSON:
//
//	{
//	  "name": "lenet",
//	  "inputs": [{"name": "data", "shape": [1, 1, 28, 28]}],
//	  "layers": [
//	    {"name": "conv1", "type": "Convolution",
//	     "params": {"num_output": 20, "kernel_size": 5},
//	     "bottoms": ["data"], "tops": ["conv1"]}
//	  ]
//	}
//
// Validation here is structural (names, wiring, known types). Parameter
// values are checked by the layer constructors when the network is built.
package topology

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/shadow/internal/layers"
	"github.com/samcharles93/shadow/internal/network"
)

// Parse decodes and validates a description. Unknown fields are rejected.
func Parse(data []byte) (network.Config, error) {
	var cfg network.Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return network.Config{}, fmt.Errorf("decode topology: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return network.Config{}, err
	}
	return cfg, nil
}

func Load(path string) (network.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return network.Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return network.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = path
	}
	return cfg, nil
}

// Marshal encodes cfg as indented JSON.
func Marshal(cfg network.Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}

// Validate checks that every bottom is produced by an input or an earlier
// layer, names are unique and every type is registered.
func Validate(cfg network.Config) error {
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("topology declares no inputs")
	}
	known := make(map[string]bool)
	for _, in := range cfg.Inputs {
		if in.Name == "" {
			return fmt.Errorf("input without a name")
		}
		if known[in.Name] {
			return fmt.Errorf("duplicate input %q", in.Name)
		}
		if len(in.Shape) == 0 {
			return fmt.Errorf("input %q has no shape", in.Name)
		}
		for _, d := range in.Shape {
			if d <= 0 {
				return fmt.Errorf("input %q has non-positive dimension in %v", in.Name, in.Shape)
			}
		}
		known[in.Name] = true
	}

	types := layers.Types()
	names := make(map[string]bool)
	for i, l := range cfg.Layers {
		if l.Name == "" {
			return fmt.Errorf("layer %d has no name", i)
		}
		if names[l.Name] {
			return fmt.Errorf("duplicate layer name %q", l.Name)
		}
		names[l.Name] = true
		if !slices.Contains(types, l.Type) {
			return fmt.Errorf("layer %q: unknown type %q", l.Name, l.Type)
		}
		if len(l.Tops) == 0 {
			return fmt.Errorf("layer %q has no tops", l.Name)
		}
		for _, b := range l.Bottoms {
			if !known[b] {
				return fmt.Errorf("layer %q: bottom %q is not produced by an input or an earlier layer", l.Name, b)
			}
		}
		for _, top := range l.Tops {
			known[top] = true
		}
	}
	return nil
}
