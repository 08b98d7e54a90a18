package main

import "github.com/urfave/cli/v3"

var (
	backendName string
	deviceID    int
	logLevel    string
	logFormat   string
	debug       bool
)

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, host, cuda, opencl)",
			Value:       "auto",
			Destination: &backendName,
		},
		&cli.IntFlag{
			Name:        "device",
			Usage:       "GPU device ordinal",
			Destination: &deviceID,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// networkFlags are shared by every command that builds a network.
func networkFlags(model *string, batch *int) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to the network topology (.json)",
			Destination: model,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "override the leading dimension of every input (0 keeps the topology's)",
			Destination: batch,
		},
	}
	flags = append(flags, backendFlags()...)
	return append(flags, loggingFlags()...)
}

func weightsFlags(path, dtype *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to the raw weights file",
			Destination: path,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "element type of the weights file (f32, f16)",
			Value:       "f32",
			Destination: dtype,
		},
	}
}
