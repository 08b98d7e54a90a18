// Package workspace is the name → blob registry a network's layers share.
package workspace

import (
	"github.com/samcharles93/shadow/internal/blob"
	"github.com/samcharles93/shadow/internal/check"
)

// Workspace owns every intermediate blob of one network. Blobs are only ever
// added or looked up; the registry is not safe for concurrent mutation.
type Workspace struct {
	blobs map[string]*blob.Blob
	order []string
}

func New() *Workspace {
	return &Workspace{blobs: make(map[string]*blob.Blob)}
}

// CreateBlob returns the blob called name, registering it first if needed.
// A non-empty shape reshapes it.
func (w *Workspace) CreateBlob(name string, shape ...int) *blob.Blob {
	b, ok := w.blobs[name]
	if !ok {
		b = blob.New(name)
		w.blobs[name] = b
		w.order = append(w.order, name)
	}
	if len(shape) > 0 {
		b.Reshape(shape...)
	}
	return b
}

// Blob looks name up. A missing blob is a configuration error: some layer
// names a bottom no earlier layer or input produced.
func (w *Workspace) Blob(name string) *blob.Blob {
	b, ok := w.blobs[name]
	if !ok {
		check.Failf(check.ConfigurationError, "workspace: unknown blob %q", name)
	}
	return b
}

func (w *Workspace) Has(name string) bool {
	_, ok := w.blobs[name]
	return ok
}

// Names lists blobs in registration order.
func (w *Workspace) Names() []string {
	return append([]string(nil), w.order...)
}

// Bytes is the device memory held by all blobs.
func (w *Workspace) Bytes() int {
	total := 0
	for _, b := range w.blobs {
		total += b.Bytes()
	}
	return total
}

// Release frees every blob. The names stay registered.
func (w *Workspace) Release() {
	for _, name := range w.order {
		w.blobs[name].Release()
	}
}
