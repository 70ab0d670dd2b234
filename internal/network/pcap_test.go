package network

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedDatagram struct {
	dstPort int
	payload []byte
	ts      time.Time
}

func writeCapture(t *testing.T, datagrams []capturedDatagram) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmc.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 10),
			DstIP:    net.IPv4(192, 168, 1, 20),
		}
		udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(d.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.payload)))

		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     d.ts,
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

func TestReplayPCAP_FiltersByPort(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path := writeCapture(t, []capturedDatagram{
		{dstPort: 39539, payload: []byte("first"), ts: base},
		{dstPort: 5353, payload: []byte("mdns"), ts: base.Add(5 * time.Millisecond)},
		{dstPort: 39539, payload: []byte("second"), ts: base.Add(16 * time.Millisecond)},
	})

	var got []string
	var stamps []time.Time
	result, err := ReplayPCAP(context.Background(), path, 39539, func(payload []byte, ts time.Time) error {
		got = append(got, string(payload))
		stamps = append(stamps, ts)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, 2, result.Packets)
	assert.Equal(t, 1, result.Skipped)
	assert.True(t, result.First.Equal(base))
	assert.True(t, result.Last.Equal(base.Add(16*time.Millisecond)))
	assert.True(t, stamps[1].Equal(base.Add(16*time.Millisecond)))
}

func TestReplayPCAP_AllPortsAndHandlerErrors(t *testing.T) {
	now := time.Now()
	path := writeCapture(t, []capturedDatagram{
		{dstPort: 1, payload: []byte("a"), ts: now},
		{dstPort: 2, payload: []byte("b"), ts: now},
	})

	calls := 0
	result, err := ReplayPCAP(context.Background(), path, 0, func([]byte, time.Time) error {
		calls++
		return errors.New("bad packet")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "handler errors do not stop replay")
	assert.Equal(t, 2, result.Failures)
}

func TestReplayPCAP_Cancelled(t *testing.T) {
	path := writeCapture(t, []capturedDatagram{{dstPort: 39539, payload: []byte("x"), ts: time.Now()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReplayPCAP(ctx, path, 39539, func([]byte, time.Time) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayPCAP_MissingFile(t *testing.T) {
	_, err := ReplayPCAP(context.Background(), filepath.Join(t.TempDir(), "nope.pcap"), 0, nil)
	assert.Error(t, err)
}
