package osc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	bundleTag = "#bundle"
	// bundle marker (8) + time tag (8)
	bundleHeaderSize = 16
	maxBundleDepth   = 8
)

var (
	ErrTruncated      = errors.New("truncated packet")
	ErrMisaligned     = errors.New("misaligned field")
	ErrUnknownTypeTag = errors.New("unknown type tag")
	ErrBadAddress     = errors.New("invalid address pattern")
	ErrBadBundle      = errors.New("malformed bundle")
)

// DecodeError describes why part of a packet could not be decoded. Offset is
// relative to the start of the datagram passed to Decode.
type DecodeError struct {
	Offset int
	Err    error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("osc: decode at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("osc: decode at offset %d: %v: %s", e.Offset, e.Err, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(off int, err error, format string, args ...any) *DecodeError {
	return &DecodeError{Offset: off, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// Decode parses one datagram into the messages it carries, in wire order.
//
// Bundle elements are framed by a length prefix, so a malformed element is
// skipped and decoding continues with its siblings. The returned error joins
// every *DecodeError encountered; it is non-nil even when some messages were
// recovered. A message is either returned whole or not at all.
func Decode(buf []byte) ([]Message, error) {
	d := decoder{buf: buf}
	d.packet(0, len(buf), 0)
	if len(d.errs) == 0 {
		return d.msgs, nil
	}
	return d.msgs, errors.Join(d.errs...)
}

type decoder struct {
	buf  []byte
	msgs []Message
	errs []error
}

// packet decodes buf[start:end] as a message or bundle.
func (d *decoder) packet(start, end, depth int) {
	if end-start < 4 {
		d.errs = append(d.errs, decodeErr(start, ErrTruncated, "packet of %d bytes", end-start))
		return
	}
	switch d.buf[start] {
	case '#':
		d.bundle(start, end, depth)
	case '/':
		msg, err := d.message(start, end)
		if err != nil {
			d.errs = append(d.errs, err)
			return
		}
		d.msgs = append(d.msgs, msg)
	default:
		d.errs = append(d.errs, decodeErr(start, ErrBadAddress, "leading byte %#x", d.buf[start]))
	}
}

func (d *decoder) bundle(start, end, depth int) {
	if depth >= maxBundleDepth {
		d.errs = append(d.errs, decodeErr(start, ErrBadBundle, "nesting deeper than %d", maxBundleDepth))
		return
	}
	tag, off, err := readString(d.buf, start, end)
	if err != nil {
		d.errs = append(d.errs, err)
		return
	}
	if tag != bundleTag {
		d.errs = append(d.errs, decodeErr(start, ErrBadBundle, "marker %q", tag))
		return
	}
	// time tag is ignored; messages are applied on arrival
	if end-start < bundleHeaderSize {
		d.errs = append(d.errs, decodeErr(off, ErrTruncated, "bundle time tag"))
		return
	}
	off += 8

	for off < end {
		if end-off < 4 {
			d.errs = append(d.errs, decodeErr(off, ErrTruncated, "element size prefix"))
			return
		}
		size := int(int32(binary.BigEndian.Uint32(d.buf[off:])))
		off += 4
		switch {
		case size <= 0:
			d.errs = append(d.errs, decodeErr(off-4, ErrBadBundle, "element size %d", size))
			return
		case size%4 != 0:
			d.errs = append(d.errs, decodeErr(off-4, ErrMisaligned, "element size %d", size))
			return
		case size > end-off:
			d.errs = append(d.errs, decodeErr(off-4, ErrTruncated, "element size %d exceeds %d remaining", size, end-off))
			return
		}
		d.packet(off, off+size, depth+1)
		off += size
	}
}

func (d *decoder) message(start, end int) (Message, error) {
	addr, off, err := readString(d.buf, start, end)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Address: addr}

	// Pre-1.0 senders may omit the type tag string entirely.
	if off == end {
		return msg, nil
	}
	if d.buf[off] != ',' {
		return Message{}, decodeErr(off, ErrUnknownTypeTag, "type tag string must start with ','")
	}
	tags, off, err := readString(d.buf, off, end)
	if err != nil {
		return Message{}, err
	}
	tags = tags[1:]
	if len(tags) > 0 {
		msg.Args = make([]Argument, 0, len(tags))
	}

	for i := 0; i < len(tags); i++ {
		t := ArgType(tags[i])
		var arg Argument
		arg, off, err = readArgument(d.buf, t, off, end)
		if err != nil {
			return Message{}, err
		}
		msg.Args = append(msg.Args, arg)
	}
	return msg, nil
}

func readArgument(buf []byte, t ArgType, off, end int) (Argument, int, error) {
	need := func(n int) error {
		if end-off < n {
			return decodeErr(off, ErrTruncated, "argument %s needs %d bytes, %d remaining", t, n, end-off)
		}
		return nil
	}

	switch t {
	case Int32:
		if err := need(4); err != nil {
			return Argument{}, off, err
		}
		return Argument{Type: t, Value: int32(binary.BigEndian.Uint32(buf[off:]))}, off + 4, nil
	case Float32:
		if err := need(4); err != nil {
			return Argument{}, off, err
		}
		return Argument{Type: t, Value: math.Float32frombits(binary.BigEndian.Uint32(buf[off:]))}, off + 4, nil
	case Int64:
		if err := need(8); err != nil {
			return Argument{}, off, err
		}
		return Argument{Type: t, Value: int64(binary.BigEndian.Uint64(buf[off:]))}, off + 8, nil
	case Float64:
		if err := need(8); err != nil {
			return Argument{}, off, err
		}
		return Argument{Type: t, Value: math.Float64frombits(binary.BigEndian.Uint64(buf[off:]))}, off + 8, nil
	case TimeTag:
		if err := need(8); err != nil {
			return Argument{}, off, err
		}
		return Argument{Type: t, Value: binary.BigEndian.Uint64(buf[off:])}, off + 8, nil
	case String, 'S':
		s, next, err := readString(buf, off, end)
		if err != nil {
			return Argument{}, off, err
		}
		return Argument{Type: String, Value: s}, next, nil
	case Blob:
		if err := need(4); err != nil {
			return Argument{}, off, err
		}
		n := int(int32(binary.BigEndian.Uint32(buf[off:])))
		if n < 0 {
			return Argument{}, off, decodeErr(off, ErrTruncated, "negative blob size %d", n)
		}
		off += 4
		padded := align4(n)
		if end-off < padded {
			return Argument{}, off, decodeErr(off, ErrTruncated, "blob of %d bytes, %d remaining", n, end-off)
		}
		data := make([]byte, n)
		copy(data, buf[off:off+n])
		return Argument{Type: t, Value: data}, off + padded, nil
	case True:
		return Argument{Type: t, Value: true}, off, nil
	case False:
		return Argument{Type: t, Value: false}, off, nil
	case Nil:
		return Argument{Type: t, Value: nil}, off, nil
	case Impulse:
		return Argument{Type: t, Value: nil}, off, nil
	}
	return Argument{}, off, decodeErr(off, ErrUnknownTypeTag, "tag %q", byte(t))
}

// readString reads a null-terminated string starting at off and returns the
// offset of the next 4-byte aligned field.
func readString(buf []byte, off, end int) (string, int, error) {
	for i := off; i < end; i++ {
		if buf[i] != 0 {
			continue
		}
		next := off + align4(i-off+1)
		if next > end {
			return "", off, decodeErr(off, ErrMisaligned, "string padding runs past end of packet")
		}
		return string(buf[off:i]), next, nil
	}
	return "", off, decodeErr(off, ErrTruncated, "unterminated string")
}

func align4(n int) int {
	return (n + 3) &^ 3
}
