// Command vmc-replay runs a VMC packet capture through the decoder and the
// smoothing engine and plots the chosen channels over time.
//
// Example:
//
//	vmc-replay -pcap session.pcapng -config tuned.json -targets blend/JawOpen,bone/Head -out jaw.png
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/facetrack/internal/config"
	"github.com/banshee-data/facetrack/internal/replay"
	"github.com/banshee-data/facetrack/internal/tracking"
)

var (
	pcapFile   = flag.String("pcap", "", "Path to a pcap or pcapng capture of VMC traffic (required)")
	configFile = flag.String("config", "", "Tracker config providing smoothing, curves and offset")
	port       = flag.Int("port", tracking.DefaultPort, "UDP port the capture was sent to (0 matches every port)")
	targets    = flag.String("targets", "root", "Comma-separated channels to plot, e.g. root,bone/Head,blend/JawOpen")
	sampleRate = flag.Float64("rate", 60, "Samples per second")
	output     = flag.String("out", "vmc-replay.png", "Output image (.png, .svg or .pdf)")
)

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("-pcap is required")
	}
	if *sampleRate <= 0 {
		log.Fatalf("-rate must be positive, got %v", *sampleRate)
	}

	cfg := &config.TrackerConfig{}
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	opts, err := cfg.TrackerOptions()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	var chosen []tracking.Target
	for _, key := range strings.Split(*targets, ",") {
		t, err := tracking.ParseTarget(strings.TrimSpace(key))
		if err != nil {
			log.Fatalf("Invalid -targets: %v", err)
		}
		chosen = append(chosen, t)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := replay.Run(ctx, replay.Config{
		PCAPFile:       *pcapFile,
		UDPPort:        *port,
		Targets:        chosen,
		SampleInterval: replay.IntervalForRate(*sampleRate),
		Tracker:        opts,
	})
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}

	log.Printf("Replayed %d packets (%d undecodable) spanning %v: %d messages, %d applied, %d unknown, %d malformed, %d ignored",
		res.Capture.Packets, res.Capture.Failures, res.Capture.Last.Sub(res.Capture.First),
		res.Dispatch.Messages, res.Dispatch.Applied, res.Dispatch.Unknown, res.Dispatch.Malformed, res.Dispatch.Ignored)

	title := fmt.Sprintf("%s (transform %v, blend shape %v)", *pcapFile, opts.Durations.Transform, opts.Durations.BlendShape)
	if err := replay.SavePlot(res.Series, title, *output); err != nil {
		log.Fatalf("Failed to plot: %v", err)
	}
	log.Printf("Wrote %s", *output)
}
