package osc

import "testing"

func TestArgument_Float(t *testing.T) {
	tests := []struct {
		arg  Argument
		want float64
		ok   bool
	}{
		{Argument{Float32, float32(0.5)}, 0.5, true},
		{Argument{Int32, int32(3)}, 3, true},
		{Argument{Float64, 1.25}, 1.25, true},
		{Argument{Int64, int64(-2)}, -2, true},
		{Argument{String, "1.0"}, 0, false},
		{Argument{Nil, nil}, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.arg.Float()
		if got != tt.want || ok != tt.ok {
			t.Errorf("Float(%v) = %v, %v; want %v, %v", tt.arg, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMessage_Accessors(t *testing.T) {
	m := Message{
		Address: "/VMC/Ext/Blend/Val",
		Args:    []Argument{{String, "JawOpen"}, {Float32, float32(0.25)}},
	}

	if m.TypeTags() != "sf" {
		t.Errorf("TypeTags() = %q", m.TypeTags())
	}
	if s, ok := m.StringArg(0); !ok || s != "JawOpen" {
		t.Errorf("StringArg(0) = %q, %v", s, ok)
	}
	if _, ok := m.StringArg(1); ok {
		t.Error("StringArg(1) should fail on a float")
	}
	if f, ok := m.Float(1); !ok || f != 0.25 {
		t.Errorf("Float(1) = %v, %v", f, ok)
	}
	if _, ok := m.Float(5); ok {
		t.Error("Float(5) should fail out of range")
	}
	if got := m.String(); got != "/VMC/Ext/Blend/Val ,sf JawOpen 0.25" {
		t.Errorf("String() = %q", got)
	}
}
