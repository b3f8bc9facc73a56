// Command pando-sim loads a PANDO machine manifest, builds the fabric it
// describes, and drives it to completion, the same load-build-run-report
// shape as the teacher's per-sample main functions (monitor, engine,
// device, driver.Run(), atexit.Exit) collapsed into one configurable
// entry point instead of one hardcoded main per test program.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/sarchlab/akita/v4/monitoring"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/pando/config"
	"github.com/sarchlab/pando/fabric"
	"github.com/sarchlab/pando/stats"
	"github.com/sarchlab/pando/trace"
	"github.com/tebeka/atexit"
)

func main() {
	configPath := flag.String("config", "", "path to a PANDO machine manifest (YAML)")
	logPath := flag.String("log", "", "path to write JSON debug logs (default: stderr)")
	logLevel := flag.String("log-level", "info", "trace|debug|info|warn|error")
	withMonitor := flag.Bool("monitor", false, "serve akita's live monitoring UI while running")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "pando-sim: -config is required")
		atexit.Exit(1)
		return
	}

	logOut := os.Stderr
	if *logPath != "" {
		f, err := os.Create(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pando-sim: %v\n", err)
			atexit.Exit(1)
			return
		}
		defer f.Close()
		logOut = f
	}
	trace.Configure(logOut, parseLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pando-sim: %v\n", err)
		atexit.Exit(1)
		return
	}

	var monitor *monitoring.Monitor
	engine := sim.NewSerialEngine()
	if *withMonitor {
		monitor = monitoring.NewMonitor()
		monitor.RegisterEngine(engine)
	}

	builder := fabric.NewDeviceBuilder(engine, 1*sim.GHz, cfg)
	if monitor != nil {
		builder = builder.WithMonitor(monitor)
	}

	device, err := builder.Build("PANDO")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pando-sim: %v\n", err)
		atexit.Exit(1)
		return
	}

	if monitor != nil {
		monitor.StartServer()
	}

	// Only the cores need an initial kick, the same as the testbench
	// scheduling just each tile's ticking component: every memory bank
	// wakes itself the first time a request lands on its port.
	for _, c := range device.Cores {
		engine.Schedule(sim.MakeTickEvent(c.TickingComponent, 0))
	}

	engine.Run()

	snapshots := make([]stats.Snapshot, len(device.Cores))
	exitCode := 0
	for i, c := range device.Cores {
		snapshots[i] = c.Counters().Snapshot()
		for _, code := range c.ExitCodes() {
			if code != 0 {
				exitCode = 1
			}
		}
	}
	stats.Report(os.Stdout, snapshots)

	atexit.Exit(exitCode)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return trace.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
