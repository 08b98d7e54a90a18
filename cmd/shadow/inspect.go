package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/layers"
	"github.com/samcharles93/shadow/internal/network"
)

func inspectCmd() *cli.Command {
	var (
		modelPath string
		batch     int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Build a network and print its layers, shapes and memory footprint",
		Flags: networkFlags(&modelPath, &batch),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadConfig(configPath())
			if err != nil {
				return err
			}
			applyNetworkConfig(cmd, cfg, &batch, nil)
			log, err := newLogger(cmd.Root().ErrWriter)
			if err != nil {
				return err
			}

			s, err := openSession(log, sessionOptions{model: modelPath, batch: batch})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer s.close()

			if err := check.Catch(func() { printNetwork(cmd.Root().Writer, s.net, s.backend) }); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

func printNetwork(w io.Writer, net *network.Network, backendName string) {
	_, _ = fmt.Fprintf(w, "Network: %s (%s)\n", net.Name(), backendName)
	for _, in := range net.Inputs() {
		_, _ = fmt.Fprintf(w, "Input:   %s %s\n", in.Name, compute.Shape(in.Shape))
	}
	_, _ = fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LAYER\tTYPE\tPARAMS\tBOTTOMS\tTOPS\tWEIGHTS")
	for _, l := range net.Layers() {
		params := ""
		if d, ok := l.(layers.Describer); ok {
			params = d.Describe()
		}
		weights := "-"
		if wl, ok := l.(layers.Weighted); ok {
			total := 0
			for _, c := range wl.ParamCounts() {
				total += c
			}
			weights = humanize.Comma(int64(total))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", l.Name(), l.Type(), params,
			blobList(net, l.Bottoms()), blobList(net, l.Tops()), weights)
	}
	_ = tw.Flush()

	ws := net.Workspace()
	params := net.ParamCount()
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Outputs:    %s\n", strings.Join(net.Outputs(), ", "))
	_, _ = fmt.Fprintf(w, "Parameters: %s (%s as f32)\n", humanize.Comma(int64(params)), humanize.IBytes(uint64(params)*4))
	_, _ = fmt.Fprintf(w, "Workspace:  %d blobs, %s\n", len(ws.Names()), humanize.IBytes(uint64(ws.Bytes())))
}

func blobList(net *network.Network, names []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + net.Shape(name).String()
	}
	return strings.Join(parts, " ")
}
