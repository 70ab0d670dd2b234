// Package tracking turns decoded VMC messages into smoothed avatar state.
//
// The frame goroutine owns dispatch: it drains the inbound queue once per
// tick, routes each message to its channel and samples channels for
// rendering. Channel names are resolved to indices once, when the Registry
// is built, so the per-message path never grows or mutates shared maps.
package tracking

import (
	"fmt"
	"strings"
)

// Kind identifies the class of a smoothed channel.
type Kind int

const (
	KindRoot Kind = iota
	KindBone
	KindBlendShape
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindBone:
		return "bone"
	case KindBlendShape:
		return "blend"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Target names one channel.
type Target struct {
	Kind Kind
	Name string
}

// Root returns the target for the avatar root transform.
func Root() Target { return Target{Kind: KindRoot} }

// Bone returns the target for a named bone.
func Bone(name string) Target { return Target{Kind: KindBone, Name: name} }

// BlendShape returns the target for a named blend shape.
func BlendShape(name string) Target { return Target{Kind: KindBlendShape, Name: name} }

// Key returns a stable string form such as "root", "bone/Head" or
// "blend/JawOpen".
func (t Target) Key() string {
	if t.Kind == KindRoot {
		return KindRoot.String()
	}
	return t.Kind.String() + "/" + t.Name
}

func (t Target) String() string { return t.Key() }

// ParseTarget is the inverse of Target.Key.
func ParseTarget(key string) (Target, error) {
	if key == KindRoot.String() {
		return Root(), nil
	}
	kind, name, ok := strings.Cut(key, "/")
	if !ok || name == "" {
		return Target{}, fmt.Errorf("invalid target %q: want root, bone/<name> or blend/<name>", key)
	}
	switch kind {
	case KindBone.String():
		return Bone(name), nil
	case KindBlendShape.String():
		return BlendShape(name), nil
	}
	return Target{}, fmt.Errorf("invalid target kind %q in %q", kind, key)
}
