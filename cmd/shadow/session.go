package main

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/samcharles93/shadow/internal/backend"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/logger"
	"github.com/samcharles93/shadow/internal/network"
	"github.com/samcharles93/shadow/internal/topology"
	"github.com/samcharles93/shadow/internal/weights"
)

func newLogger(w io.Writer) (logger.Logger, error) {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	return logger.ForFormat(logFormat, w, level)
}

// session is one device context plus the network built on it. close
// releases them in reverse order.
type session struct {
	log     logger.Logger
	backend string
	net     *network.Network
}

type sessionOptions struct {
	model   string
	weights string
	dtype   string
	batch   int
}

func openSession(log logger.Logger, opts sessionOptions) (*session, error) {
	cfg, err := topology.Load(opts.model)
	if err != nil {
		return nil, err
	}
	name, err := backend.Resolve(backendName)
	if err != nil {
		return nil, err
	}
	if err := check.Catch(func() { backend.Setup(name, deviceID) }); err != nil {
		return nil, err
	}
	log.Info("backend ready", "backend", name, "device", deviceID)

	s := &session{log: log, backend: name}
	err = check.Catch(func() {
		s.net = network.Build(cfg, network.WithLogger(log))
		if opts.batch > 0 {
			s.net.SetBatch(opts.batch)
		}
	})
	if err == nil && opts.weights != "" {
		err = s.loadWeights(opts.weights, opts.dtype)
	}
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) loadWeights(path, dtype string) error {
	dt, err := weights.ParseDType(dtype)
	if err != nil {
		return err
	}
	f, err := weights.Open(path, dt)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := check.Catch(func() { s.net.LoadWeights(f) }); err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

func (s *session) close() {
	if s.net != nil {
		s.net.Release()
	}
	backend.Release()
	s.log.Info("backend released", "backend", s.backend)
}
