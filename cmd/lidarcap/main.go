// Command lidarcap configures a Velodyne LiDAR over HTTP, captures its UDP
// telemetry stream, and writes it to a pcap file (or previews decoded points
// in live mode).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/lidarcap/internal/lidar/capture"
	"github.com/banshee-data/lidarcap/internal/lidar/device"
	"github.com/banshee-data/lidarcap/internal/lidar/vlp16"
	"github.com/banshee-data/lidarcap/internal/monitoring"
	"github.com/banshee-data/lidarcap/internal/version"
)

var (
	model       = flag.String("model", "VLP-16", "Sensor model")
	sensorAddr  = flag.String("sensor-addr", "192.168.1.201", "Sensor control address (plain HTTP)")
	bindAddr    = flag.String("bind-addr", "", "Local address to receive telemetry on (default: all interfaces)")
	dataPort    = flag.Int("data-port", 2368, "UDP port the sensor emits telemetry on")
	rpm         = flag.Int("rpm", 600, "Target rotation speed (300-1200, multiple of 60)")
	returns     = flag.String("returns", "dual", "Return mode: strongest, last or dual")
	mode        = flag.String("mode", "pcap", "pcap: capture raw datagrams to a pcap file; live: preview decoded points")
	outDir      = flag.String("outdir", "out", "Output root directory")
	runDuration = flag.Duration("duration", 60*time.Second, "Capture duration; 0 runs until interrupted")
	forwardAddr = flag.String("forward-addr", "", "Forward received datagrams to this address (empty disables)")
	forwardPort = flag.Int("forward-port", 2368, "Port to forward datagrams to (for viewer monitoring)")
	queueCap    = flag.Int("queue-cap", 0, "Transfer queue capacity in datagrams; 0 = unbounded")
	queuePolicy = flag.String("queue-policy", "drop-newest", "Bounded queue overflow policy: block, drop-oldest or drop-newest")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("lidarcap %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if err := run(); err != nil {
		monitoring.Logf("session failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	returnMode, err := device.ParseReturnMode(*returns)
	if err != nil {
		return err
	}
	cfg := device.Config{
		Model:      *model,
		SensorAddr: *sensorAddr,
		DataPort:   *dataPort,
		RPM:        *rpm,
		ReturnMode: returnMode,
		BindAddr:   *bindAddr,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	policy, err := capture.ParseOverflowPolicy(*queuePolicy)
	if err != nil {
		return err
	}

	// Output layout: <outdir>/<date>/<time>/lidarpcap and lidarlog, with a
	// file prefix naming the device settings and start time.
	now := time.Now().UTC()
	base := filepath.Join(*outDir, now.Format("20060102"), now.Format("150405"))
	prefix := fmt.Sprintf("%s_%04drpm%s_%s", cfg.Model, cfg.RPM, returnMode.Wire(), now.Format("20060102T150405.000000"))

	logSink, err := monitoring.TeeToFile(filepath.Join(base, "lidarlog", prefix+".log"))
	if err != nil {
		return err
	}
	defer logSink.Close()

	monitoring.Logf("device settings: model=%s sensor=%s data-port=%d rpm=%d returns=%s",
		cfg.Model, cfg.SensorAddr, cfg.DataPort, cfg.RPM, cfg.ReturnMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var forwarder *capture.Forwarder
	if *forwardAddr != "" {
		forwarder, err = capture.NewForwarder(*forwardAddr, *forwardPort, time.Minute)
		if err != nil {
			return err
		}
		defer forwarder.Close()
	}

	var consumer capture.Consumer
	switch *mode {
	case "pcap":
		writer, err := capture.NewFrameWriter(filepath.Join(base, "lidarpcap", prefix+".pcap"))
		if err != nil {
			return err
		}
		consumer = writer
	case "live":
		consumer = capture.NewPreviewConsumer(vlp16.NewDecoder())
	default:
		return fmt.Errorf("invalid mode %q (want pcap or live)", *mode)
	}

	controller := device.NewController(cfg, nil)
	session := capture.NewSession(capture.SessionConfig{
		Device:    cfg,
		Control:   controller,
		Consumer:  consumer,
		Forwarder: forwarder,
		Queue:     capture.QueueConfig{Capacity: *queueCap, Policy: policy},
		Duration:  *runDuration,
	})

	monitoring.Logf("session %s starting in %s mode (duration %s)", session.ID(), *mode, *runDuration)
	if err := session.Run(ctx); err != nil {
		return err
	}

	// The session powered the device down; double-check it took.
	if alive, err := controller.IsAlive(context.Background()); err != nil {
		monitoring.Logf("post-session status check failed: %v", err)
	} else if alive {
		monitoring.Logf("warning: sensor still reports laser on or motor spinning")
	}
	return nil
}
