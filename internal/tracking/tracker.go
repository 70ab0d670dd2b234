package tracking

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/network"
	"github.com/banshee-data/facetrack/internal/smoothing"
	"github.com/banshee-data/facetrack/internal/timeutil"
)

// DefaultPort is the UDP port VMC performers send to by default.
const DefaultPort = 39541

// Options configures a Tracker. The zero value listens on DefaultPort with
// the default registry and unsmoothed channels.
type Options struct {
	Port        int
	BindAddress string

	Registry  *Registry // nil uses DefaultRegistry
	Durations Durations
	Curves    Curves
	Offset    r3.Vec

	DisableFace       bool
	DisableTransforms bool

	PollInterval  time.Duration
	RcvBuf        int
	LogInterval   time.Duration
	Stats         network.PacketStats
	Metrics       *Metrics
	Forwarder     *network.PacketForwarder
	SocketFactory network.UDPSocketFactory
	Clock         timeutil.Clock
}

// Tracker ties the receiver, queue, dispatcher and smoothing engine
// together. Start, Stop, SetPort and DispatchPending are meant to be called
// from the frame goroutine; sampling is safe from any goroutine.
type Tracker struct {
	clock      timeutil.Clock
	queue      *network.InboundQueue
	receiver   *network.Receiver
	engine     *Engine
	dispatcher *Dispatcher

	mu   sync.Mutex // serialises lifecycle calls
	port int
}

// New builds a stopped tracker.
func New(opts Options) *Tracker {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	queue := network.NewInboundQueue()
	engine := NewEngine(reg, opts.Durations, clock.Now())

	return &Tracker{
		clock: clock,
		queue: queue,
		receiver: network.NewReceiver(network.ReceiverConfig{
			Address:       opts.BindAddress,
			RcvBuf:        opts.RcvBuf,
			PollInterval:  opts.PollInterval,
			LogInterval:   opts.LogInterval,
			Queue:         queue,
			Stats:         opts.Stats,
			Forwarder:     opts.Forwarder,
			SocketFactory: opts.SocketFactory,
		}),
		engine: engine,
		dispatcher: NewDispatcher(DispatcherConfig{
			Queue:             queue,
			Engine:            engine,
			Curves:            opts.Curves,
			Offset:            opts.Offset,
			Clock:             clock,
			Metrics:           opts.Metrics,
			DisableFace:       opts.DisableFace,
			DisableTransforms: opts.DisableTransforms,
		}),
		port: port,
	}
}

// Start begins listening on the configured port. It is a no-op when
// already running.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receiver.Start(t.port)
}

// Stop stops listening. Messages already queued stay queued.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver.Stop()
}

// SetPort moves the listener to port. It does nothing if port is already
// configured; otherwise it stops the receiver, records the port and starts
// listening there, even if the tracker had not been started. If the new
// port cannot be bound the tracker is left stopped with the new port
// recorded, so a later Start retries it.
func (t *Tracker) SetPort(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if port == t.port {
		return nil
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	t.receiver.Stop()
	old := t.port
	t.port = port
	if err := t.receiver.Start(port); err != nil {
		return err
	}
	monitoring.Logf("VMC receiver moved from port %d to %d", old, port)
	return nil
}

// Port returns the configured port, or the bound port when listening on
// port 0.
func (t *Tracker) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == 0 || t.receiver.Running() {
		return t.receiver.Port()
	}
	return t.port
}

func (t *Tracker) Running() bool {
	return t.receiver.Running()
}

// DispatchPending applies every message queued so far. Call it once per
// frame before sampling.
func (t *Tracker) DispatchPending() DispatchResult {
	return t.dispatcher.DispatchPending()
}

// Pending returns the number of queued messages awaiting dispatch.
func (t *Tracker) Pending() int {
	return t.queue.Len()
}

func (t *Tracker) Engine() *Engine            { return t.engine }
func (t *Tracker) Dispatcher() *Dispatcher    { return t.dispatcher }
func (t *Tracker) Registry() *Registry        { return t.engine.Registry() }
func (t *Tracker) SetDurations(d Durations)   { t.engine.SetDurations(d) }
func (t *Tracker) SetTrackFace(on bool)       { t.dispatcher.SetTrackFace(on) }
func (t *Tracker) SetTrackTransforms(on bool) { t.dispatcher.SetTrackTransforms(on) }

// Subscribe registers an observer for decoded messages of kind. Observers
// run on the goroutine calling DispatchPending.
func (t *Tracker) Subscribe(kind MessageKind, fn Observer) string {
	return t.dispatcher.Observers().Subscribe(kind, fn)
}

func (t *Tracker) Unsubscribe(id string) {
	t.dispatcher.Observers().Unsubscribe(id)
}

// Sample returns the current value of target.
func (t *Tracker) Sample(target Target) (Value, error) {
	return t.engine.Sample(target, t.clock.Now())
}

func (t *Tracker) SampleRoot() smoothing.Pose {
	return t.engine.SampleRoot(t.clock.Now())
}

func (t *Tracker) SampleBone(name string) (smoothing.Pose, bool) {
	return t.engine.SampleBone(name, t.clock.Now())
}

func (t *Tracker) SampleBlendShape(name string) (float64, bool) {
	return t.engine.SampleBlendShape(name, t.clock.Now())
}

// Snapshot samples every channel now.
func (t *Tracker) Snapshot() Snapshot {
	return t.engine.Snapshot(t.clock.Now())
}
