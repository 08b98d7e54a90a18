package api

import "github.com/samcharles93/shadow/internal/network"

// ForwardRequest feeds every declared input and names the blobs to return.
// Shapes optionally reshapes inputs first; it must keep each input's rank.
// An empty Outputs returns the network outputs.
type ForwardRequest struct {
	Inputs  map[string][]float32 `json:"inputs"`
	Shapes  map[string][]int     `json:"shapes,omitempty"`
	Outputs []string             `json:"outputs,omitempty"`
}

type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type ForwardResponse struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Network string            `json:"network"`
	Outputs map[string]Tensor `json:"outputs"`
}

type LayerInfo struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Params    string   `json:"params,omitempty"`
	Bottoms   []string `json:"bottoms"`
	Tops      []string `json:"tops"`
	TopShapes [][]int  `json:"top_shapes,omitempty"`
}

type NetworkInfo struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Name    string          `json:"name"`
	Inputs  []network.Input `json:"inputs"`
	Outputs []string        `json:"outputs"`
	Layers  []LayerInfo     `json:"layers"`
	Params  int             `json:"params"`
	Bytes   int             `json:"bytes"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
