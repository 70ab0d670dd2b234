package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facetrack/internal/osc"
)

func TestClassify(t *testing.T) {
	tests := map[string]MessageKind{
		"/VMC/Ext/Root/Pos":    MessageRoot,
		"/VMC/Ext/Bone/Pos":    MessageBone,
		"/VMC/Ext/Blend/Val":   MessageBlendShape,
		"/VMC/Ext/Blend/Apply": MessageOther,
		"/VMC/Ext/OK":          MessageOther,
		"/relay/Root/Pos":      MessageRoot,
		"":                     MessageOther,
	}
	for addr, want := range tests {
		assert.Equal(t, want, Classify(addr), addr)
	}
}

func TestParseMessageKind(t *testing.T) {
	for k := MessageAny; k <= MessageOther; k++ {
		got, err := ParseMessageKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseMessageKind("face")
	assert.Error(t, err)
}

func TestObservers_KindFiltering(t *testing.T) {
	o := NewObservers()
	var all, blends []string

	o.Subscribe(MessageAny, func(m osc.Message) { all = append(all, m.Address) })
	o.Subscribe(MessageBlendShape, func(m osc.Message) { blends = append(blends, m.Address) })

	o.Notify(MessageRoot, osc.Message{Address: "/VMC/Ext/Root/Pos"})
	o.Notify(MessageBlendShape, osc.Message{Address: "/VMC/Ext/Blend/Val"})

	assert.Equal(t, []string{"/VMC/Ext/Root/Pos", "/VMC/Ext/Blend/Val"}, all)
	assert.Equal(t, []string{"/VMC/Ext/Blend/Val"}, blends)
}

func TestObservers_Unsubscribe(t *testing.T) {
	o := NewObservers()
	calls := 0
	id := o.Subscribe(MessageAny, func(osc.Message) { calls++ })
	other := o.Subscribe(MessageAny, func(osc.Message) {})
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, o.Len())

	o.Unsubscribe(id)
	o.Unsubscribe("not-an-id")
	o.Notify(MessageRoot, osc.Message{})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, o.Len())
}

func TestObservers_UnsubscribeDuringNotify(t *testing.T) {
	o := NewObservers()
	var order []string
	var firstID string
	firstID = o.Subscribe(MessageAny, func(osc.Message) {
		order = append(order, "first")
		o.Unsubscribe(firstID)
	})
	o.Subscribe(MessageAny, func(osc.Message) { order = append(order, "second") })

	o.Notify(MessageRoot, osc.Message{})
	o.Notify(MessageRoot, osc.Message{})

	assert.Equal(t, []string{"first", "second", "second"}, order)
}
