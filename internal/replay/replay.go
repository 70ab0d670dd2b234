// Package replay runs captured VMC traffic through the decoder and smoothing
// engine offline, sampling chosen channels on a fixed timeline so tuning
// changes can be compared without a live sender.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/facetrack/internal/network"
	"github.com/banshee-data/facetrack/internal/osc"
	"github.com/banshee-data/facetrack/internal/timeutil"
	"github.com/banshee-data/facetrack/internal/tracking"
)

// DefaultSampleInterval samples at 60Hz.
const DefaultSampleInterval = time.Second / 60

// Config controls a replay.
type Config struct {
	PCAPFile string
	UDPPort  int
	// Targets are the channels to sample. Root and bone targets produce
	// three series (x, y, z position); blend shape targets produce one.
	Targets        []tracking.Target
	SampleInterval time.Duration
	Tracker        tracking.Options
}

// Point is one sample, At seconds after the first captured packet.
type Point struct {
	At    float64
	Value float64
}

// Series is the sampled history of one channel component.
type Series struct {
	Name   string
	Points []Point
}

// Result holds the replay summary and the sampled series, in Targets order.
type Result struct {
	Capture  network.ReplayResult
	Dispatch tracking.DispatchResult
	Series   []Series
}

// Run replays cfg.PCAPFile. The engine's clock follows capture timestamps:
// every packet is dispatched at the instant it was captured, and targets
// are sampled every SampleInterval from the first packet up to and including
// the instant the last packet's smoothing settles.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("no targets to sample")
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	reg := cfg.Tracker.Registry
	if reg == nil {
		reg = tracking.DefaultRegistry()
	}
	for _, t := range cfg.Targets {
		if !reg.Has(t) {
			return nil, fmt.Errorf("%w: %s", tracking.ErrUnknownTarget, t.Key())
		}
	}

	r := &replayer{cfg: cfg, reg: reg, clock: timeutil.NewMockClock(time.Time{}), queue: network.NewInboundQueue()}
	r.result.Series = newSeries(cfg.Targets)

	capture, err := network.ReplayPCAP(ctx, cfg.PCAPFile, cfg.UDPPort, r.handle)
	r.result.Capture = capture
	if err != nil {
		return &r.result, err
	}
	if capture.Packets == 0 {
		return &r.result, fmt.Errorf("no UDP packets for port %d in %s", cfg.UDPPort, cfg.PCAPFile)
	}

	d := cfg.Tracker.Durations
	settle := max(d.Transform, d.BlendShape)
	r.sampleUntil(capture.Last.Add(settle).Add(time.Nanosecond))
	return &r.result, nil
}

type replayer struct {
	cfg        Config
	reg        *tracking.Registry
	clock      *timeutil.MockClock
	queue      *network.InboundQueue
	engine     *tracking.Engine
	dispatcher *tracking.Dispatcher

	started    bool
	first      time.Time
	nextSample time.Time
	result     Result
}

func (r *replayer) handle(payload []byte, captured time.Time) error {
	if !r.started {
		r.start(captured)
	}
	// Captures can be slightly out of order across interfaces.
	if captured.Before(r.clock.Now()) {
		captured = r.clock.Now()
	}
	r.sampleUntil(captured)

	msgs, err := osc.Decode(payload)
	if len(msgs) > 0 {
		r.queue.Push(msgs...)
		r.clock.Set(captured)
		res := r.dispatcher.DispatchPending()
		r.result.Dispatch.Messages += res.Messages
		r.result.Dispatch.Applied += res.Applied
		r.result.Dispatch.Unknown += res.Unknown
		r.result.Dispatch.Malformed += res.Malformed
		r.result.Dispatch.Ignored += res.Ignored
		r.result.Dispatch.Skipped += res.Skipped
	}
	return err
}

// start builds the pipeline with every channel at rest at the first
// capture timestamp.
func (r *replayer) start(at time.Time) {
	r.started = true
	r.first = at
	r.nextSample = at
	r.clock.Set(at)
	r.engine = tracking.NewEngine(r.reg, r.cfg.Tracker.Durations, at)
	r.dispatcher = tracking.NewDispatcher(tracking.DispatcherConfig{
		Queue:             r.queue,
		Engine:            r.engine,
		Curves:            r.cfg.Tracker.Curves,
		Offset:            r.cfg.Tracker.Offset,
		Clock:             r.clock,
		Metrics:           r.cfg.Tracker.Metrics,
		DisableFace:       r.cfg.Tracker.DisableFace,
		DisableTransforms: r.cfg.Tracker.DisableTransforms,
	})
}

// sampleUntil records every sample due strictly before until.
func (r *replayer) sampleUntil(until time.Time) {
	for r.nextSample.Before(until) {
		r.sample(r.nextSample)
		r.nextSample = r.nextSample.Add(r.cfg.SampleInterval)
	}
}

func (r *replayer) sample(at time.Time) {
	offset := at.Sub(r.first).Seconds()
	i := 0
	for _, t := range r.cfg.Targets {
		v, err := r.engine.Sample(t, at)
		if err != nil {
			// Targets were validated against the registry up front.
			panic(err)
		}
		if t.Kind == tracking.KindBlendShape {
			r.result.Series[i].Points = append(r.result.Series[i].Points, Point{At: offset, Value: v.Weight})
			i++
			continue
		}
		for _, c := range []float64{v.Pose.Position.X, v.Pose.Position.Y, v.Pose.Position.Z} {
			r.result.Series[i].Points = append(r.result.Series[i].Points, Point{At: offset, Value: c})
			i++
		}
	}
}

func newSeries(targets []tracking.Target) []Series {
	var out []Series
	for _, t := range targets {
		if t.Kind == tracking.KindBlendShape {
			out = append(out, Series{Name: t.Key()})
			continue
		}
		for _, axis := range []string{"x", "y", "z"} {
			out = append(out, Series{Name: t.Key() + "." + axis})
		}
	}
	return out
}

// IntervalForRate converts a sample rate in Hz to a sample interval.
func IntervalForRate(hz float64) time.Duration {
	if hz <= 0 {
		return DefaultSampleInterval
	}
	return time.Duration(float64(time.Second) / hz)
}
