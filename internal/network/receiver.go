// Package network receives VMC datagrams on a background goroutine and hands
// decoded messages to the frame goroutine through an InboundQueue.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/osc"
)

const (
	// DefaultPollInterval bounds how long a read blocks before the loop
	// checks for Stop. It sits well under one 60Hz frame.
	DefaultPollInterval = 20 * time.Millisecond
	// maxDatagramSize is the largest UDP payload.
	maxDatagramSize = 65535
)

// BindError reports that the receiver could not listen on the requested port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to listen on UDP port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// DecodeFunc turns one datagram into messages.
type DecodeFunc func([]byte) ([]osc.Message, error)

// ReceiverConfig contains configuration options for the Receiver.
type ReceiverConfig struct {
	Address       string // host to bind; empty listens on all interfaces
	RcvBuf        int
	PollInterval  time.Duration
	LogInterval   time.Duration // zero disables periodic stats logging
	Queue         *InboundQueue
	Stats         PacketStats
	Forwarder     *PacketForwarder
	SocketFactory UDPSocketFactory
	Decode        DecodeFunc
}

// Receiver owns the UDP socket and the goroutine that reads it. Start and
// Stop are idempotent. Only the receive goroutine writes to the queue.
type Receiver struct {
	bindAddress   string
	rcvBuf        int
	pollInterval  time.Duration
	logInterval   time.Duration
	queue         *InboundQueue
	stats         PacketStats
	forwarder     *PacketForwarder
	socketFactory UDPSocketFactory
	decode        DecodeFunc
	throttle      *monitoring.Throttle

	mu     sync.Mutex // serialises Start/Stop
	conn   UDPSocket
	cancel context.CancelFunc
	done   chan struct{}
	port   int
}

// NewReceiver creates a stopped receiver.
func NewReceiver(config ReceiverConfig) *Receiver {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}
	poll := config.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = NewRealUDPSocketFactory()
	}
	decode := config.Decode
	if decode == nil {
		decode = osc.Decode
	}
	queue := config.Queue
	if queue == nil {
		queue = NewInboundQueue()
	}

	return &Receiver{
		bindAddress:   config.Address,
		rcvBuf:        config.RcvBuf,
		pollInterval:  poll,
		logInterval:   config.LogInterval,
		queue:         queue,
		stats:         stats,
		forwarder:     config.Forwarder,
		socketFactory: factory,
		decode:        decode,
		throttle:      monitoring.NewThrottle(5 * time.Second),
	}
}

// Queue returns the queue decoded messages are pushed to.
func (r *Receiver) Queue() *InboundQueue {
	return r.queue
}

// Start binds port and launches the receive goroutine. It returns a
// *BindError if the socket cannot be opened, leaving the receiver stopped.
// Calling Start on a running receiver does nothing.
func (r *Receiver) Start(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(r.bindAddress, strconv.Itoa(port)))
	if err != nil {
		return &BindError{Port: port, Err: err}
	}
	conn, err := r.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return &BindError{Port: port, Err: err}
	}

	if r.rcvBuf > 0 {
		if err := conn.SetReadBuffer(r.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", r.rcvBuf, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.conn = conn
	r.cancel = cancel
	r.done = done
	r.port = port

	if r.forwarder != nil {
		r.forwarder.Start(ctx)
	}
	if r.logInterval > 0 {
		go r.startStatsLogging(ctx)
	}
	go r.run(ctx, conn, done)

	monitoring.Logf("VMC receiver listening on %s", conn.LocalAddr())
	return nil
}

// Stop terminates the receive goroutine and closes the socket before
// returning. Calling Stop on a stopped receiver does nothing.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		return
	}
	r.cancel()
	// Closing unblocks a read that is waiting on its deadline.
	if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		monitoring.Logf("error closing VMC socket: %v", err)
	}
	<-r.done

	monitoring.Logf("VMC receiver on port %d stopped", r.port)
	r.conn = nil
	r.cancel = nil
	r.done = nil
}

// Running reports whether the receive goroutine is active.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Port returns the bound port while running (resolving port 0 to the port
// the OS chose), or the last requested port otherwise.
func (r *Receiver) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		if ua, ok := r.conn.LocalAddr().(*net.UDPAddr); ok {
			return ua.Port
		}
	}
	return r.port
}

func (r *Receiver) run(ctx context.Context, conn UDPSocket, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	buffer := make([]byte, maxDatagramSize)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set read deadline to allow checking for Stop
		if err := conn.SetReadDeadline(time.Now().Add(r.pollInterval)); err != nil && !deadlineErrLogged {
			monitoring.Logf("failed to set read deadline: %v", err)
			deadlineErrLogged = true
		}

		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			r.throttle.Logf("read", "UDP read error: %v", err)
			continue
		}

		r.handleDatagram(buffer[:n], addr)
	}
}

// handleDatagram decodes one datagram and queues whatever decoded cleanly.
// A panic here is contained to the datagram that caused it.
func (r *Receiver) handleDatagram(packet []byte, addr *net.UDPAddr) {
	defer func() {
		if rec := recover(); rec != nil {
			r.stats.AddDecodeError()
			r.throttle.Logf("panic", "recovered while decoding %d byte datagram from %v: %v", len(packet), addr, rec)
		}
	}()

	r.stats.AddPacket(len(packet))
	if r.forwarder != nil {
		r.forwarder.ForwardAsync(packet)
	}

	msgs, err := r.decode(packet)
	if err != nil {
		r.stats.AddDecodeError()
		r.throttle.Logf("decode", "Error decoding datagram from %v: %v", addr, err)
	}
	if len(msgs) > 0 {
		r.queue.Push(msgs...)
		r.stats.AddMessages(len(msgs))
	}
}

// startStatsLogging periodically logs packet statistics until ctx is done.
func (r *Receiver) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(r.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.stats.LogStats()
		}
	}
}
