package tracking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/facetrack/internal/smoothing"
)

// ErrUnknownTarget is returned when sampling a channel that is not in the
// registry.
var ErrUnknownTarget = errors.New("unknown target")

// Durations are the smoothing windows for the two channel classes. Root and
// bones share Transform; every blend shape uses BlendShape.
type Durations struct {
	Transform  time.Duration
	BlendShape time.Duration
}

// DefaultDurations smooth over 100ms.
var DefaultDurations = Durations{
	Transform:  100 * time.Millisecond,
	BlendShape: 100 * time.Millisecond,
}

// Engine holds one smoothing channel per registered target. Channels are
// created up front and never added or removed, so lookups need no lock;
// each channel guards its own state.
type Engine struct {
	reg *Registry

	mu        sync.RWMutex
	durations Durations

	root   *smoothing.Channel[smoothing.Pose]
	bones  []*smoothing.Channel[smoothing.Pose]
	shapes []*smoothing.Channel[float64]
}

// NewEngine creates neutral channels (origin with identity rotation, zero
// intensity) whose transitions are already complete at now.
func NewEngine(reg *Registry, durations Durations, now time.Time) *Engine {
	e := &Engine{
		reg:       reg,
		durations: durations,
		root:      smoothing.NewPoseChannel(now),
		bones:     make([]*smoothing.Channel[smoothing.Pose], len(reg.bones)),
		shapes:    make([]*smoothing.Channel[float64], len(reg.shapes)),
	}
	for i := range e.bones {
		e.bones[i] = smoothing.NewPoseChannel(now)
	}
	for i := range e.shapes {
		e.shapes[i] = smoothing.NewScalarChannel(now)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.reg }

func (e *Engine) Durations() Durations {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.durations
}

// SetDurations changes the windows used by subsequent retargets. Transitions
// already in flight keep their end time.
func (e *Engine) SetDurations(d Durations) {
	e.mu.Lock()
	e.durations = d
	e.mu.Unlock()
}

func (e *Engine) RetargetRoot(p smoothing.Pose, now time.Time) {
	e.root.Retarget(p, now, e.Durations().Transform)
}

// RetargetBone retargets the bone at idx, as resolved by Registry.BoneIndex.
func (e *Engine) RetargetBone(idx int, p smoothing.Pose, now time.Time) {
	e.bones[idx].Retarget(p, now, e.Durations().Transform)
}

// RetargetBlendShape retargets the blend shape at idx, as resolved by
// Registry.BlendShapeIndex.
func (e *Engine) RetargetBlendShape(idx int, v float64, now time.Time) {
	e.shapes[idx].Retarget(v, now, e.Durations().BlendShape)
}

func (e *Engine) SampleRoot(now time.Time) smoothing.Pose {
	return e.root.Sample(now)
}

func (e *Engine) SampleBone(name string, now time.Time) (smoothing.Pose, bool) {
	i, ok := e.reg.BoneIndex(name)
	if !ok {
		return smoothing.Pose{}, false
	}
	return e.bones[i].Sample(now), true
}

func (e *Engine) SampleBlendShape(name string, now time.Time) (float64, bool) {
	i, ok := e.reg.BlendShapeIndex(name)
	if !ok {
		return 0, false
	}
	return e.shapes[i].Sample(now), true
}

// Value is a sampled channel. Pose is set for root and bone targets, Weight
// for blend shapes.
type Value struct {
	Kind   Kind
	Pose   smoothing.Pose
	Weight float64
}

// Sample returns the current value of any channel.
func (e *Engine) Sample(t Target, now time.Time) (Value, error) {
	switch t.Kind {
	case KindRoot:
		return Value{Kind: KindRoot, Pose: e.SampleRoot(now)}, nil
	case KindBone:
		if p, ok := e.SampleBone(t.Name, now); ok {
			return Value{Kind: KindBone, Pose: p}, nil
		}
	case KindBlendShape:
		if w, ok := e.SampleBlendShape(t.Name, now); ok {
			return Value{Kind: KindBlendShape, Weight: w}, nil
		}
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnknownTarget, t.Key())
}

// PoseSample is the JSON form of a pose. Rotation is x, y, z, w.
type PoseSample struct {
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"`
	Settled  bool       `json:"settled"`
}

// BlendShapeSample is the JSON form of one blend shape channel.
type BlendShapeSample struct {
	Name    string  `json:"name"`
	Group   string  `json:"group"`
	Weight  float64 `json:"weight"`
	Target  float64 `json:"target"`
	Settled bool    `json:"settled"`
}

// Snapshot is every channel sampled at one instant.
type Snapshot struct {
	Time        time.Time             `json:"time"`
	Durations   DurationsJSON         `json:"durations"`
	Root        PoseSample            `json:"root"`
	Bones       map[string]PoseSample `json:"bones"`
	BlendShapes []BlendShapeSample    `json:"blend_shapes"`
}

// DurationsJSON renders Durations as strings such as "100ms".
type DurationsJSON struct {
	Transform  string `json:"transform"`
	BlendShape string `json:"blend_shape"`
}

// Snapshot samples all channels at now.
func (e *Engine) Snapshot(now time.Time) Snapshot {
	d := e.Durations()
	s := Snapshot{
		Time:        now,
		Durations:   DurationsJSON{Transform: d.Transform.String(), BlendShape: d.BlendShape.String()},
		Root:        samplePose(e.root, now),
		Bones:       make(map[string]PoseSample, len(e.bones)),
		BlendShapes: make([]BlendShapeSample, len(e.shapes)),
	}
	for i, name := range e.reg.bones {
		s.Bones[name] = samplePose(e.bones[i], now)
	}
	for i, def := range e.reg.shapes {
		st := e.shapes[i].State()
		s.BlendShapes[i] = BlendShapeSample{
			Name:    def.Name,
			Group:   def.Group,
			Weight:  e.shapes[i].Sample(now),
			Target:  st.Target,
			Settled: !now.Before(st.End),
		}
	}
	return s
}

func samplePose(c *smoothing.Channel[smoothing.Pose], now time.Time) PoseSample {
	p := c.Sample(now)
	return PoseSample{
		Position: [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		Rotation: [4]float64{p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real},
		Settled:  !now.Before(c.State().End),
	}
}
