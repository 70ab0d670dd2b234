// Package osc decodes Open Sound Control 1.0 packets as sent by VMC
// (Virtual Motion Capture) tracking applications.
//
// Only decoding lives here. Packets are either a single message (address,
// type tag string, arguments) or a "#bundle" of length-prefixed elements,
// each of which is itself a message or a nested bundle.
package osc

import (
	"fmt"
	"strings"
)

// ArgType is the OSC type tag character of an argument.
type ArgType byte

const (
	Int32   ArgType = 'i'
	Float32 ArgType = 'f'
	String  ArgType = 's'
	Blob    ArgType = 'b'
	Int64   ArgType = 'h'
	Float64 ArgType = 'd'
	TimeTag ArgType = 't'
	True    ArgType = 'T'
	False   ArgType = 'F'
	Nil     ArgType = 'N'
	Impulse ArgType = 'I'
)

func (t ArgType) String() string {
	return string(rune(t))
}

// Argument is a single decoded argument. Value holds int32, float32, string,
// []byte, int64, float64, uint64 (time tags), bool or nil depending on Type.
type Argument struct {
	Type  ArgType
	Value any
}

// Float returns the argument as a float64 when it is any numeric kind.
func (a Argument) Float() (float64, bool) {
	switch v := a.Value.(type) {
	case float32:
		return float64(v), true
	case int32:
		return float64(v), true
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Str returns the argument as a string when it is a string argument.
func (a Argument) Str() (string, bool) {
	s, ok := a.Value.(string)
	return s, ok
}

// Message is one decoded OSC message. Decoded messages are never mutated.
type Message struct {
	Address string
	Args    []Argument
}

// TypeTags returns the type tag string (without the leading comma).
func (m Message) TypeTags() string {
	var b strings.Builder
	for _, a := range m.Args {
		b.WriteByte(byte(a.Type))
	}
	return b.String()
}

// Float returns argument i as a float64.
func (m Message) Float(i int) (float64, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	return m.Args[i].Float()
}

// StringArg returns argument i as a string.
func (m Message) StringArg(i int) (string, bool) {
	if i < 0 || i >= len(m.Args) {
		return "", false
	}
	return m.Args[i].Str()
}

func (m Message) String() string {
	parts := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		if b, ok := a.Value.([]byte); ok {
			parts = append(parts, fmt.Sprintf("blob[%d]", len(b)))
			continue
		}
		parts = append(parts, fmt.Sprint(a.Value))
	}
	return fmt.Sprintf("%s ,%s %s", m.Address, m.TypeTags(), strings.Join(parts, " "))
}
