package tracking

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/network"
	"github.com/banshee-data/facetrack/internal/osc"
	"github.com/banshee-data/facetrack/internal/smoothing"
	"github.com/banshee-data/facetrack/internal/timeutil"
)

// poseArgs is the number of numeric arguments in a pose: px py pz qx qy qz qw.
const poseArgs = 7

// MalformedArgumentsError reports a message with a recognised address whose
// arguments have the wrong count or types.
type MalformedArgumentsError struct {
	Address string
	Reason  string
}

func (e *MalformedArgumentsError) Error() string {
	return fmt.Sprintf("malformed arguments for %s: %s", e.Address, e.Reason)
}

func malformed(msg osc.Message, format string, v ...any) error {
	return &MalformedArgumentsError{Address: msg.Address, Reason: fmt.Sprintf(format, v...)}
}

// DispatchResult counts what one DispatchPending call did.
type DispatchResult struct {
	Messages  int // messages drained from the queue
	Applied   int // channel retargets
	Unknown   int // unregistered bone or blend shape names
	Malformed int
	Ignored   int // unhandled addresses
	Skipped   int // tracking disabled for the message's class
}

// DispatcherConfig wires a Dispatcher. Queue and Engine are required.
type DispatcherConfig struct {
	Queue     *network.InboundQueue
	Engine    *Engine
	Curves    Curves
	Offset    r3.Vec // added to every root and bone position
	Clock     timeutil.Clock
	Observers *Observers
	Metrics   *Metrics

	DisableFace       bool // ignore blend shape messages
	DisableTransforms bool // ignore root and bone messages
}

// Dispatcher routes queued messages to engine channels. DispatchPending must
// only be called from one goroutine.
type Dispatcher struct {
	queue     *network.InboundQueue
	engine    *Engine
	curves    Curves
	offset    r3.Vec
	clock     timeutil.Clock
	observers *Observers
	metrics   *Metrics
	throttle  *monitoring.Throttle

	trackFace       atomic.Bool
	trackTransforms atomic.Bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	observers := cfg.Observers
	if observers == nil {
		observers = NewObservers()
	}
	d := &Dispatcher{
		queue:     cfg.Queue,
		engine:    cfg.Engine,
		curves:    cfg.Curves,
		offset:    cfg.Offset,
		clock:     clock,
		observers: observers,
		metrics:   cfg.Metrics,
		throttle:  monitoring.NewThrottle(5 * time.Second),
	}
	d.trackFace.Store(!cfg.DisableFace)
	d.trackTransforms.Store(!cfg.DisableTransforms)
	return d
}

// SetTrackFace enables or disables blend shape dispatch.
func (d *Dispatcher) SetTrackFace(on bool) { d.trackFace.Store(on) }

// SetTrackTransforms enables or disables root and bone dispatch.
func (d *Dispatcher) SetTrackTransforms(on bool) { d.trackTransforms.Store(on) }

func (d *Dispatcher) TrackFace() bool       { return d.trackFace.Load() }
func (d *Dispatcher) TrackTransforms() bool { return d.trackTransforms.Load() }

// Observers returns the observer set notified of every drained message.
func (d *Dispatcher) Observers() *Observers { return d.observers }

// DispatchPending drains the messages queued at the time of the call and
// applies them in order. Messages arriving meanwhile wait for the next call.
// Every retarget in one call uses the same timestamp.
func (d *Dispatcher) DispatchPending() DispatchResult {
	batch := d.queue.Drain()
	res := DispatchResult{Messages: len(batch)}
	if len(batch) == 0 {
		return res
	}

	now := d.clock.Now()
	for _, msg := range batch {
		kind := Classify(msg.Address)
		d.observers.Notify(kind, msg)
		d.dispatch(kind, msg, now, &res)
	}
	return res
}

func (d *Dispatcher) dispatch(kind MessageKind, msg osc.Message, now time.Time, res *DispatchResult) {
	var target Kind
	switch kind {
	case MessageRoot:
		target = KindRoot
	case MessageBone:
		target = KindBone
	case MessageBlendShape:
		target = KindBlendShape
	default:
		res.Ignored++
		d.metrics.incIgnored()
		return
	}

	enabled := d.trackTransforms.Load()
	if target == KindBlendShape {
		enabled = d.trackFace.Load()
	}
	if !enabled {
		res.Skipped++
		d.metrics.incSkipped(target)
		return
	}

	known := true
	var err error
	switch target {
	case KindRoot:
		err = d.applyRoot(msg, now)
	case KindBone:
		known, err = d.applyBone(msg, now)
	case KindBlendShape:
		known, err = d.applyBlendShape(msg, now)
	}

	switch {
	case err != nil:
		res.Malformed++
		d.metrics.incMalformed(target)
		d.throttle.Logf("malformed/"+target.String(), "dropping message: %v", err)
	case !known:
		res.Unknown++
		d.metrics.incUnknown(target)
	default:
		res.Applied++
		d.metrics.incDispatched(target)
	}
}

func (d *Dispatcher) applyRoot(msg osc.Message, now time.Time) error {
	args := msg.Args
	// Senders may lead with a name such as "root".
	if len(args) > 0 && args[0].Type == osc.String {
		args = args[1:]
	}
	pose, err := decodePose(msg, args)
	if err != nil {
		return err
	}
	d.engine.RetargetRoot(pose.Translate(d.offset), now)
	return nil
}

func (d *Dispatcher) applyBone(msg osc.Message, now time.Time) (bool, error) {
	name, ok := msg.StringArg(0)
	if !ok {
		return true, malformed(msg, "first argument must be a bone name, got %s", argType(msg, 0))
	}
	idx, ok := d.engine.reg.BoneIndex(name)
	if !ok {
		return false, nil
	}
	pose, err := decodePose(msg, msg.Args[1:])
	if err != nil {
		return true, err
	}
	d.engine.RetargetBone(idx, pose.Translate(d.offset), now)
	return true, nil
}

func (d *Dispatcher) applyBlendShape(msg osc.Message, now time.Time) (bool, error) {
	name, ok := msg.StringArg(0)
	if !ok {
		return true, malformed(msg, "first argument must be a blend shape name, got %s", argType(msg, 0))
	}
	idx, ok := d.engine.reg.BlendShapeIndex(name)
	if !ok {
		return false, nil
	}
	if len(msg.Args) != 2 {
		return true, malformed(msg, "want name and intensity, got %d arguments", len(msg.Args))
	}
	raw, ok := msg.Args[1].Float()
	if !ok || !isFinite(raw) {
		return true, malformed(msg, "intensity must be a finite number, got %s", argType(msg, 1))
	}

	v := d.curves.For(d.engine.reg.BlendShapeGroup(idx))(raw)
	d.engine.RetargetBlendShape(idx, clamp01(v), now)
	return true, nil
}

func decodePose(msg osc.Message, args []osc.Argument) (smoothing.Pose, error) {
	if len(args) != poseArgs {
		return smoothing.Pose{}, malformed(msg, "want %d numeric pose arguments, got %d", poseArgs, len(args))
	}
	var v [poseArgs]float64
	for i, a := range args {
		f, ok := a.Float()
		if !ok {
			return smoothing.Pose{}, malformed(msg, "pose argument %d has type %q", i, a.Type.String())
		}
		if !isFinite(f) {
			return smoothing.Pose{}, malformed(msg, "pose argument %d is not finite", i)
		}
		v[i] = f
	}
	pose := smoothing.NewPose(v[0], v[1], v[2], v[3], v[4], v[5], v[6])
	n := quat.Abs(pose.Rotation)
	if n == 0 || !isFinite(n) {
		return smoothing.Pose{}, malformed(msg, "rotation is not a usable quaternion")
	}
	// Settled channels return their target as-is, so it must be a unit quaternion.
	pose.Rotation = quat.Scale(1/n, pose.Rotation)
	return pose, nil
}

func argType(msg osc.Message, i int) string {
	if i >= len(msg.Args) {
		return "nothing"
	}
	return fmt.Sprintf("%q", msg.Args[i].Type.String())
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
