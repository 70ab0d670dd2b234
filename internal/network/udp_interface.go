package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket defines an interface for UDP socket operations.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP reads a UDP packet from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory defines an interface for creating UDP sockets.
// This abstraction enables dependency injection of socket creation.
type UDPSocketFactory interface {
	// ListenUDP creates and returns a new UDP socket.
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
// *net.UDPConn already satisfies UDPSocket.
type RealUDPSocketFactory struct{}

// NewRealUDPSocketFactory creates a new RealUDPSocketFactory.
func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

// ListenUDP creates a new UDP socket.
func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. Reads block until a packet
// is delivered, the read deadline passes, or the socket is closed, so a
// receiver loop behaves as it would against a real socket.
type MockUDPSocket struct {
	mu             sync.Mutex
	packets        []MockUDPPacket
	closed         bool
	readBufferSize int
	readDeadline   time.Time
	localAddress   *net.UDPAddr
	readError      error
	wake           chan struct{}
}

// MockUDPPacket represents a packet for mock testing.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket preloaded with packets.
func NewMockUDPSocket(port int, packets ...MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		packets: packets,
		localAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: port,
		},
		wake: make(chan struct{}, 1),
	}
}

// Deliver queues a datagram for the next read.
func (m *MockUDPSocket) Deliver(data []byte) {
	m.mu.Lock()
	m.packets = append(m.packets, MockUDPPacket{
		Data: append([]byte(nil), data...),
		Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50000},
	})
	m.mu.Unlock()
	m.poke()
}

// FailNextRead makes the next ReadFromUDP return err.
func (m *MockUDPSocket) FailNextRead(err error) {
	m.mu.Lock()
	m.readError = err
	m.mu.Unlock()
	m.poke()
}

func (m *MockUDPSocket) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// ReadFromUDP returns the next delivered packet.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, nil, net.ErrClosed
		}
		if m.readError != nil {
			err := m.readError
			m.readError = nil
			m.mu.Unlock()
			return 0, nil, err
		}
		if len(m.packets) > 0 {
			pkt := m.packets[0]
			m.packets = m.packets[1:]
			m.mu.Unlock()
			return copy(b, pkt.Data), pkt.Addr, nil
		}
		deadline := m.readDeadline
		m.mu.Unlock()

		wait := time.Until(deadline)
		if deadline.IsZero() {
			wait = time.Hour
		}
		if wait <= 0 {
			return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
		}
		timer := time.NewTimer(wait)
		select {
		case <-m.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBufferSize = bytes
	return nil
}

// SetReadDeadline records the deadline.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDeadline = t
	return nil
}

// Close marks the socket as closed and wakes any pending read.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.poke()
	return nil
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Pending returns the number of packets not yet read.
func (m *MockUDPSocket) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.packets)
}

// ReadBufferSize returns the value set by SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.localAddress
}

// MockUDPSocketFactory implements UDPSocketFactory for testing. Every
// successful ListenUDP returns a fresh MockUDPSocket bound to the requested
// port.
type MockUDPSocketFactory struct {
	mu sync.Mutex
	// Error is returned by ListenUDP if set.
	Error error
	// ListenCalls records all ListenUDP calls.
	ListenCalls []MockListenCall
	// Sockets holds every socket handed out, in order.
	Sockets []*MockUDPSocket
}

// MockListenCall records a call to ListenUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

// NewMockUDPSocketFactory creates a new MockUDPSocketFactory.
func NewMockUDPSocketFactory() *MockUDPSocketFactory {
	return &MockUDPSocketFactory{}
}

// ListenUDP returns a new mock socket.
func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListenCalls = append(f.ListenCalls, MockListenCall{
		Network: network,
		Addr:    laddr,
	})
	if f.Error != nil {
		return nil, f.Error
	}
	port := 0
	if laddr != nil {
		port = laddr.Port
	}
	s := NewMockUDPSocket(port)
	f.Sockets = append(f.Sockets, s)
	return s, nil
}

// SetError changes the error returned by subsequent ListenUDP calls.
func (f *MockUDPSocketFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Error = err
}

// Calls returns a copy of the recorded ListenUDP calls.
func (f *MockUDPSocketFactory) Calls() []MockListenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockListenCall(nil), f.ListenCalls...)
}

// Last returns the most recently created socket, or nil.
func (f *MockUDPSocketFactory) Last() *MockUDPSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sockets) == 0 {
		return nil
	}
	return f.Sockets[len(f.Sockets)-1]
}

// Open returns the sockets that have not been closed.
func (f *MockUDPSocketFactory) Open() []*MockUDPSocket {
	f.mu.Lock()
	sockets := append([]*MockUDPSocket(nil), f.Sockets...)
	f.mu.Unlock()

	var open []*MockUDPSocket
	for _, s := range sockets {
		if !s.Closed() {
			open = append(open, s)
		}
	}
	return open
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
