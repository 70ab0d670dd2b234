package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facetrack/internal/monitoring"
)

type droppedStats struct {
	mu      sync.Mutex
	dropped int
}

func (s *droppedStats) AddDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *droppedStats) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func TestPacketForwarder_New(t *testing.T) {
	fwd, err := NewPacketForwarder("localhost:39542", &droppedStats{}, 2*time.Second)
	require.NoError(t, err)
	defer fwd.conn.Close()

	assert.Equal(t, "localhost:39542", fwd.Address())
	assert.Equal(t, relayBacklog, cap(fwd.backlog))
}

func TestPacketForwarder_InvalidAddress(t *testing.T) {
	_, err := NewPacketForwarder("vseeface", nil, 0)
	assert.ErrorContains(t, err, `resolve VMC relay address "vseeface"`)
}

func TestPacketForwarder_RelaysBundleUnchanged(t *testing.T) {
	downstream, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer downstream.Close()

	var logs []string
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) { logs = append(logs, format) })
	t.Cleanup(func() { monitoring.SetLogger(original) })

	fwd, err := NewPacketForwarder(downstream.LocalAddr().String(), &droppedStats{}, time.Second)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	assert.Contains(t, logs, "Relaying VMC datagrams to %s")

	bundle := []byte("#bundle\x00\x00\x00\x00\x00\x00\x00\x00\x01")
	fwd.ForwardAsync(bundle)
	bundle[0] = 'X' // the receiver reuses its buffer

	require.NoError(t, downstream.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := downstream.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "#bundle\x00\x00\x00\x00\x00\x00\x00\x00\x01", string(buf[:n]))

	cancel()
	require.NoError(t, fwd.Close())
}

func TestPacketForwarder_DropsWhenBacklogFull(t *testing.T) {
	stats := &droppedStats{}
	fwd, err := NewPacketForwarder("127.0.0.1:9", stats, time.Second)
	require.NoError(t, err)
	defer fwd.conn.Close()

	// Without Start nothing drains the backlog.
	for i := 0; i < relayBacklog+5; i++ {
		fwd.ForwardAsync([]byte{byte(i)})
	}
	assert.Equal(t, 5, stats.count())
}
