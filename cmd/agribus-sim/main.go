// Command agribus-sim runs a simulated agricultural fieldbus: a shared
// broadcast bus, a task-controller engine and a configurable fleet of
// implements and sensor stations.
//
// Usage:
//
//	agribus-sim [flags]
//
// Flags:
//
//	-config string        YAML configuration file path
//	-bitrate int          Bus bitrate in bit/s (overrides config)
//	-cycle duration       Bus delivery cycle period (default 5ms)
//	-sensor-interval duration  Weather publish interval (default 1s)
//	-protocol-log string  Write protocol events to a CBOR .ablog file
//	-metrics-addr string  Serve Prometheus metrics on this address
//	-interactive          Enable the interactive operator console
//	-verbose              Mirror protocol events to the text log
//
// Examples:
//
//	# Default fleet (sprayer, seeder, weather station) with a console
//	agribus-sim -interactive
//
//	# Custom fleet with a protocol log for later analysis
//	agribus-sim -config farm.yaml -protocol-log run.ablog
//
//	# Export bus metrics
//	agribus-sim -metrics-addr :9090
package main

import (
	"context"
	"flag"
	stdlog "log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agribus-protocol/agribus-go/cmd/agribus-sim/interactive"
	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/engine"
	"github.com/agribus-protocol/agribus-go/pkg/log"
	"github.com/agribus-protocol/agribus-go/pkg/metrics"
	"github.com/agribus-protocol/agribus-go/pkg/sim"
)

func main() {
	var (
		configPath     string
		bitrate        int
		cyclePeriod    time.Duration
		sensorInterval time.Duration
		protocolLog    string
		metricsAddr    string
		interactiveOn  bool
		verbose        bool
	)
	flag.StringVar(&configPath, "config", "", "YAML configuration file path")
	flag.IntVar(&bitrate, "bitrate", 0, "Bus bitrate in bit/s (overrides config)")
	flag.DurationVar(&cyclePeriod, "cycle", 5*time.Millisecond, "Bus delivery cycle period")
	flag.DurationVar(&sensorInterval, "sensor-interval", time.Second, "Weather publish interval")
	flag.StringVar(&protocolLog, "protocol-log", "", "Write protocol events to a CBOR .ablog file")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&interactiveOn, "interactive", false, "Enable the interactive operator console")
	flag.BoolVar(&verbose, "verbose", false, "Mirror protocol events to the text log")
	flag.Parse()

	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	cfg := DefaultSimConfig()
	if configPath != "" {
		var err error
		cfg, err = LoadSimConfig(configPath)
		if err != nil {
			stdlog.Fatalf("Failed to load config: %v", err)
		}
	}
	if bitrate != 0 {
		cfg.Bitrate = bitrate
	}

	stdlog.Println("Agribus Simulator")
	stdlog.Println("=================")
	stdlog.Printf("Bitrate: %s", bus.Bitrate(cfg.Bitrate))
	stdlog.Printf("Fleet: %d device(s)", len(cfg.Devices))

	// Protocol logging: file sink plus optional text mirror.
	var sinks []log.Logger
	if protocolLog != "" {
		fl, err := log.NewFileLogger(protocolLog)
		if err != nil {
			stdlog.Fatalf("Failed to create protocol log: %v", err)
		}
		defer fl.Close()
		sinks = append(sinks, fl)
		stdlog.Printf("Protocol log: %s", protocolLog)
	}
	if verbose {
		text := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		sinks = append(sinks, log.NewSlogAdapter(text))
	}
	var logger log.Logger = log.NoopLogger{}
	if len(sinks) > 0 {
		logger = log.NewMultiLogger(sinks...)
	}

	// Composition root: registry, bus, engine, fleet.
	registry, err := buildRegistry(cfg)
	if err != nil {
		stdlog.Fatalf("Invalid identifier plan: %v", err)
	}

	b := bus.New(bus.Config{Bitrate: bus.Bitrate(cfg.Bitrate), Logger: logger})
	if err := b.Start(0); err != nil {
		stdlog.Fatalf("Failed to start bus: %v", err)
	}
	defer b.Stop()

	eng, err := engine.New(b, registry, engine.Config{
		Address:     cfg.Controller,
		Definitions: cfg.definitions(),
		Logger:      logger,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create engine: %v", err)
	}
	defer eng.Close()

	var implements []*sim.Implement
	var stations []*sim.WeatherStation
	for _, d := range cfg.Devices {
		switch d.Type {
		case "sprayer":
			impl, err := sim.NewSprayer(b, d.Address)
			if err != nil {
				stdlog.Fatalf("Failed to create sprayer 0x%02X: %v", d.Address, err)
			}
			implements = append(implements, impl)
		case "seeder":
			impl, err := sim.NewSeeder(b, d.Address)
			if err != nil {
				stdlog.Fatalf("Failed to create seeder 0x%02X: %v", d.Address, err)
			}
			implements = append(implements, impl)
		case "weather":
			st, err := sim.NewWeatherStation(b, d.Address, d.Seed)
			if err != nil {
				stdlog.Fatalf("Failed to create weather station 0x%02X: %v", d.Address, err)
			}
			stations = append(stations, st)
		default:
			stdlog.Fatalf("Unknown device type %q", d.Type)
		}
		stdlog.Printf("Device 0x%02X: %s", d.Address, d.Type)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			stdlog.Printf("Metrics on http://%s/metrics", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				stdlog.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	go b.Run(ctx, cyclePeriod)
	go drive(ctx, driveConfig{
		bus:            b,
		engine:         eng,
		implements:     implements,
		stations:       stations,
		cyclePeriod:    cyclePeriod,
		sensorInterval: sensorInterval,
		recordMetrics:  metricsAddr != "",
	})

	for _, impl := range implements {
		if err := impl.Announce(); err != nil {
			stdlog.Printf("Announce 0x%02X failed: %v", impl.Addr(), err)
		}
	}

	if interactiveOn {
		console, err := interactive.New(b, eng)
		if err != nil {
			stdlog.Fatalf("Failed to create console: %v", err)
		}
		// Route log output through readline so it does not clobber input.
		stdlog.SetOutput(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		stdlog.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Cancelled by the console quit command.
	}

	stdlog.Println("Shutting down...")
	cancel()
}

// driveConfig bundles everything the protocol drive loop needs.
type driveConfig struct {
	bus            *bus.Bus
	engine         *engine.Engine
	implements     []*sim.Implement
	stations       []*sim.WeatherStation
	cyclePeriod    time.Duration
	sensorInterval time.Duration
	recordMetrics  bool
}

// drive pumps the engine and the simulated fleet: protocol processing
// every cycle, implement heartbeats and sensor publishes on their own
// intervals.
func drive(ctx context.Context, dc driveConfig) {
	process := time.NewTicker(dc.cyclePeriod)
	defer process.Stop()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()
	sensors := time.NewTicker(dc.sensorInterval)
	defer sensors.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-process.C:
			for _, err := range dc.engine.Process() {
				stdlog.Printf("Engine: %v", err)
			}
			for _, impl := range dc.implements {
				for _, err := range impl.Process() {
					stdlog.Printf("Implement 0x%02X: %v", impl.Addr(), err)
				}
			}

		case <-heartbeat.C:
			for _, impl := range dc.implements {
				if impl.Connected() {
					_ = impl.Heartbeat()
				}
			}
			if dc.recordMetrics {
				metrics.RecordBus(dc.bus.Statistics())
				metrics.RecordEngine(dc.engine)
			}

		case <-sensors.C:
			for _, st := range dc.stations {
				st.Step()
				if err := st.Publish(); err != nil {
					stdlog.Printf("Weather publish failed: %v", err)
				}
			}
		}
	}
}
