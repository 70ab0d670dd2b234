package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/facetrack/internal/monitoring"
)

// relayBacklog is how many VMC datagrams may wait for the relay socket.
// At 60 bundles per second this is several seconds of stream.
const relayBacklog = 512

// droppedCounter is the part of PacketStats the forwarder reports into.
type droppedCounter interface {
	AddDropped()
}

// PacketForwarder mirrors the raw VMC stream to a second receiver, for
// example a VSeeFace or Unity instance running next to facetrack. Datagrams
// are relayed byte for byte; nothing is decoded or re-encoded.
type PacketForwarder struct {
	address  string
	conn     *net.UDPConn
	backlog  chan []byte
	dropped  droppedCounter
	throttle *monitoring.Throttle
}

// NewPacketForwarder dials the downstream VMC receiver at address
// ("host:port"). Send failures are logged at most once per logInterval.
func NewPacketForwarder(address string, stats droppedCounter, logInterval time.Duration) (*PacketForwarder, error) {
	dst, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve VMC relay address %q: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, dst)
	if err != nil {
		return nil, fmt.Errorf("dial VMC relay %s: %w", address, err)
	}

	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		address:  address,
		conn:     conn,
		backlog:  make(chan []byte, relayBacklog),
		dropped:  stats,
		throttle: monitoring.NewThrottle(logInterval),
	}, nil
}

// Start relays queued datagrams until ctx is cancelled. The receiver calls
// it once per listening session, so a rebind hands the backlog over to a
// fresh goroutine.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case datagram, ok := <-f.backlog:
				if !ok {
					return
				}
				if _, err := f.conn.Write(datagram); err != nil {
					f.dropped.AddDropped()
					f.throttle.Logf("relay", "VMC relay to %s failed: %v", f.address, err)
				}
			}
		}
	}()

	monitoring.Logf("Relaying VMC datagrams to %s", f.address)
}

// ForwardAsync queues a copy of datagram for the relay. A full backlog drops
// the datagram; the receive loop never waits on the relay.
func (f *PacketForwarder) ForwardAsync(datagram []byte) {
	// the receiver reuses its read buffer
	buf := append([]byte(nil), datagram...)

	select {
	case f.backlog <- buf:
	default:
		f.dropped.AddDropped()
	}
}

// Address returns the downstream VMC receiver address.
func (f *PacketForwarder) Address() string {
	return f.address
}

// Close releases the relay socket. Stop the receiver first.
func (f *PacketForwarder) Close() error {
	close(f.backlog)
	return f.conn.Close()
}
