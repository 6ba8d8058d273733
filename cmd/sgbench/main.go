// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Command sgbench renders a synthetic paged scene on
// the soft driver and reports frame statistics.
package main

import (
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gviegas/sgraph/engine"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		o         options
		cfgPath   string
		verbose   bool
		logFormat string
		target    int
		retain    int
	)
	cmd := &cobra.Command{
		Use:   "sgbench",
		Short: "Benchmark paged scene graph rendering",
		Long: `
Renders a grid of paged tiles with a camera flying over it.
Tiles are generated on demand, compiled, merged into the graph
and evicted when the number of resident tiles exceeds the target.
`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(stderr)
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			if logFormat == "json" {
				log.SetFormatter(&logrus.JSONFormatter{})
			}

			o.Config = engine.DefaultConfig()
			if cfgPath != "" {
				var err error
				if o.Config, err = engine.LoadConfig(cfgPath); err != nil {
					return err
				}
			}
			flags := c.Flags()
			if flags.Changed("target") {
				o.Config.TargetMaxNumPagedLODWithHighResSubgraphs = target
			}
			if flags.Changed("retain") {
				o.Config.NumFramesToRetain = retain
			}

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt)
			defer stop()
			s, err := run(ctx, o, log)
			s.write(stdout)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfgPath, "config", "c", "", "configuration file (.yaml or .toml)")
	flags.IntVarP(&o.Grid, "grid", "g", 8, "number of tiles per side")
	flags.IntVarP(&o.Frames, "frames", "n", 600, "number of frames to render")
	flags.IntVar(&target, "target", 16, "target number of resident tiles")
	flags.IntVar(&retain, "retain", 3, "frames to retain evicted tiles")
	flags.DurationVar(&o.Latency, "latency", 0, "simulated GPU latency per commit")
	flags.DurationVar(&o.ReadDelay, "read-delay", 0, "simulated read time per tile")
	flags.IntVar(&o.Report, "report", 100, "log progress every n frames (0 disables)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	return cmd
}
