package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile   string
	LogFile      string
	OutputFile   string
	RenderFormat string
	HttpPort     int
	Dump         bool
	RenderOnly   bool
	MqttMode     bool
	HttpMode     bool
}

// Runner is the set of modes run dispatches to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunDump(out io.Writer) error
	RunRender() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("travelmap", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.LogFile, "log-file", "", "Also write logs to this file (rotated)")
	fs.BoolVar(&opts.Dump, "dump", false, "Print the route FeatureCollection for the initial viewport and exit")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render a snapshot of the initial viewport and exit")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --render mode (default travelmap.<format>)")
	fs.StringVar(&opts.RenderFormat, "format", "svg", "Render format: svg or png")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode (viewport commands in, routes out)")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for routes, snapshots and metrics")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(out, "travelmap version: %s\n", Version)
		return nil
	}
	// --dump writes a bare FeatureCollection so it can be piped.
	if !opts.Dump {
		fmt.Fprintf(out, "travelmap version: %s\n", Version)
	}

	if opts.RenderFormat != "svg" && opts.RenderFormat != "png" {
		return fmt.Errorf("invalid --format %q (want svg or png)", opts.RenderFormat)
	}
	if opts.OutputFile == "" {
		opts.OutputFile = "travelmap." + opts.RenderFormat
	}

	app.ApplyOptions(opts)

	if opts.Dump {
		return app.RunDump(out)
	}

	if opts.RenderOnly {
		return app.RunRender()
	}

	if opts.MqttMode || opts.HttpMode {
		return app.RunService()
	}

	fmt.Fprintln(out, "travelmap route overlay")
	fmt.Fprintln(out, "Use --dump to print the route GeoJSON for the configured viewport")
	fmt.Fprintln(out, "Use --render to write an SVG or PNG snapshot (--format, --output)")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - waypoints, routes, marker icons, MQTT settings")
	return nil
}
