package tracking

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/facetrack/internal/osc"
)

// MessageKind classifies a VMC address.
type MessageKind int

const (
	// MessageAny subscribes to every message, including unhandled addresses.
	MessageAny MessageKind = iota
	MessageRoot
	MessageBone
	MessageBlendShape
	MessageOther
)

const (
	rootSuffix  = "/Root/Pos"
	boneSuffix  = "/Bone/Pos"
	blendSuffix = "/Blend/Val"
)

// Classify maps an address to the message kind it carries. Matching is on
// the address suffix so both /VMC/Ext/... and relayed prefixes route.
func Classify(address string) MessageKind {
	switch {
	case strings.HasSuffix(address, rootSuffix):
		return MessageRoot
	case strings.HasSuffix(address, boneSuffix):
		return MessageBone
	case strings.HasSuffix(address, blendSuffix):
		return MessageBlendShape
	}
	return MessageOther
}

func (k MessageKind) String() string {
	switch k {
	case MessageAny:
		return "any"
	case MessageRoot:
		return "root"
	case MessageBone:
		return "bone"
	case MessageBlendShape:
		return "blend"
	default:
		return "other"
	}
}

// ParseMessageKind is the inverse of MessageKind.String.
func ParseMessageKind(s string) (MessageKind, error) {
	for k := MessageAny; k <= MessageOther; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return MessageAny, fmt.Errorf("unknown message kind %q", s)
}

// Observer is called with each decoded message, on the goroutine that runs
// DispatchPending.
type Observer func(osc.Message)

type subscription struct {
	id   string
	kind MessageKind
	fn   Observer
}

// Observers is the set of registered message observers.
type Observers struct {
	mu   sync.Mutex
	subs []subscription
}

func NewObservers() *Observers {
	return &Observers{}
}

// Subscribe registers fn for messages of kind and returns an id for
// Unsubscribe.
func (o *Observers) Subscribe(kind MessageKind, fn Observer) string {
	id := uuid.NewString()
	o.mu.Lock()
	o.subs = append(o.subs, subscription{id: id, kind: kind, fn: fn})
	o.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (o *Observers) Unsubscribe(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subs {
		if s.id == id {
			o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscriptions.
func (o *Observers) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

// Notify calls every observer subscribed to kind or MessageAny, in
// subscription order. Observers may subscribe or unsubscribe from inside the
// callback; the change applies from the next message.
func (o *Observers) Notify(kind MessageKind, msg osc.Message) {
	o.mu.Lock()
	subs := o.subs
	o.mu.Unlock()

	for _, s := range subs {
		if s.kind == MessageAny || s.kind == kind {
			s.fn(msg)
		}
	}
}
