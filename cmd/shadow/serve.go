package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shadow/internal/api"
)

func serveCmd() *cli.Command {
	var (
		modelPath   string
		weightsPath string
		dtype       string
		batch       int
		addr        string
		readTimeout time.Duration
	)

	flags := networkFlags(&modelPath, &batch)
	flags = append(flags, weightsFlags(&weightsPath, &dtype)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a network over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadConfig(configPath())
			if err != nil {
				return err
			}
			applyNetworkConfig(cmd, cfg, &batch, &dtype)
			applyServeConfig(cmd, cfg, &addr)
			log, err := newLogger(cmd.Root().ErrWriter)
			if err != nil {
				return err
			}

			s, err := openSession(log, sessionOptions{model: modelPath, weights: weightsPath, dtype: dtype, batch: batch})
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			defer s.close()

			server := api.NewServer(s.net, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "network", s.net.Name())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
