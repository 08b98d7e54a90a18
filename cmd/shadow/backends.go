package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shadow/internal/backend"
)

func backendsCmd() *cli.Command {
	return &cli.Command{
		Name:  "backends",
		Usage: "List the backends compiled into this build",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			for _, name := range []string{backend.Host, backend.CUDA, backend.OpenCL} {
				status := "not compiled"
				if backend.Has(name) {
					status = "available"
				}
				_, _ = fmt.Fprintf(w, "%-8s %s\n", name, status)
			}
			auto, err := backend.Resolve(backend.Auto)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "auto -> %s\n", auto)
			return nil
		},
	}
}
