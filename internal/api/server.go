// Package api serves one built network over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/layers"
	"github.com/samcharles93/shadow/internal/logger"
	"github.com/samcharles93/shadow/internal/network"
)

// Server owns a Network for its lifetime. Requests are serialized: the
// workspace is shared by every layer and a forward pass mutates it.
type Server struct {
	mu     sync.Mutex
	net    *network.Network
	log    logger.Logger
	failed error
	clock  func() time.Time
}

func NewServer(net *network.Network, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		net:   net,
		log:   log.With("network", net.Name()),
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/network", s.handleNetwork)
	e.POST("/v1/forward", s.handleForward)
}

func (s *Server) handleHealth(c *echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "failed", Error: s.failed.Error()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleNetwork(c *echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return writeError(c, http.StatusServiceUnavailable, ErrUnavailable.Error(), s.failed.Error(), "")
	}
	var info NetworkInfo
	if err := s.guard(func() { info = s.describe() }); err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return writeError(c, http.StatusServiceUnavailable, ErrUnavailable.Error(), s.failed.Error(), "")
	}
	var (
		outputs []string
		invalid error
	)
	start := s.clock()
	resp := ForwardResponse{
		ID:      "fwd_" + uuid.NewString(),
		Object:  "forward",
		Created: start.Unix(),
		Network: s.net.Name(),
	}
	err = s.guard(func() {
		if outputs, invalid = s.validate(&req); invalid != nil {
			return
		}
		if len(req.Shapes) > 0 {
			s.net.Reshape(req.Shapes)
		}
		for name, data := range req.Inputs {
			s.net.SetInput(name, data)
		}
		s.net.Forward()
		resp.Outputs = make(map[string]Tensor, len(outputs))
		for _, name := range outputs {
			resp.Outputs[name] = Tensor{Shape: s.net.Shape(name), Data: s.net.Output(name)}
		}
	})
	if invalid != nil {
		var inv invalidRequestError
		if errors.As(invalid, &inv) {
			return writeBadRequest(c, inv.msg, inv.param)
		}
		return writeBadRequest(c, invalid.Error(), "")
	}
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	s.log.Debug("forward", "id", resp.ID, "outputs", len(outputs), "duration", s.clock().Sub(start))
	return c.JSON(http.StatusOK, resp)
}

// guard runs fn and converts a fatal engine error into a returned error.
// After a fatal error the network is left in an undefined state, so every
// later request is refused.
func (s *Server) guard(fn func()) error {
	err := check.Catch(fn)
	if err != nil {
		s.failed = err
		s.log.Error("network failed", "error", err)
	}
	return err
}

// validate rejects requests that would otherwise fail inside the engine,
// and resolves the output list.
func (s *Server) validate(req *ForwardRequest) ([]string, error) {
	declared := s.net.Inputs()
	for name := range req.Inputs {
		if !slices.ContainsFunc(declared, func(in network.Input) bool { return in.Name == name }) {
			return nil, newInvalidRequest("inputs", "unknown input %q", name)
		}
	}
	for name := range req.Shapes {
		if _, ok := req.Inputs[name]; !ok {
			return nil, newInvalidRequest("shapes", "shape given for unknown input %q", name)
		}
	}
	for _, in := range declared {
		data, ok := req.Inputs[in.Name]
		if !ok {
			return nil, newInvalidRequest("inputs", "missing input %q", in.Name)
		}
		shape := in.Shape
		if override, ok := req.Shapes[in.Name]; ok {
			if len(override) != len(in.Shape) {
				return nil, newInvalidRequest("shapes", "input %q has %d axes, shape gives %d", in.Name, len(in.Shape), len(override))
			}
			for _, d := range override {
				if d <= 0 {
					return nil, newInvalidRequest("shapes", "input %q: dimensions must be positive, got %v", in.Name, override)
				}
			}
			shape = override
		}
		count := 1
		for _, d := range shape {
			count *= d
		}
		if len(data) != count {
			return nil, newInvalidRequest("inputs", "input %q %v needs %d values, got %d", in.Name, shape, count, len(data))
		}
	}
	if len(req.Shapes) > 0 {
		if err := s.net.CheckShapes(req.Shapes); err != nil {
			return nil, newInvalidRequest("shapes", "%v", err)
		}
	}

	if len(req.Outputs) == 0 {
		return s.net.Outputs(), nil
	}
	ws := s.net.Workspace()
	for _, name := range req.Outputs {
		if !ws.Has(name) {
			return nil, newInvalidRequest("outputs", "unknown output %q", name)
		}
	}
	return slices.Compact(slices.Clone(req.Outputs)), nil
}

func (s *Server) describe() NetworkInfo {
	info := NetworkInfo{
		ID:      s.net.ID(),
		Object:  "network",
		Name:    s.net.Name(),
		Inputs:  s.net.Inputs(),
		Outputs: s.net.Outputs(),
		Params:  s.net.ParamCount(),
		Bytes:   s.net.Workspace().Bytes(),
	}
	for _, l := range s.net.Layers() {
		li := LayerInfo{Name: l.Name(), Type: l.Type(), Bottoms: l.Bottoms(), Tops: l.Tops()}
		if d, ok := l.(layers.Describer); ok {
			li.Params = d.Describe()
		}
		for _, top := range l.Tops() {
			li.TopShapes = append(li.TopShapes, s.net.Shape(top))
		}
		info.Layers = append(info.Layers, li)
	}
	return info
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
