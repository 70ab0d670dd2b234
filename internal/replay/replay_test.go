package replay

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facetrack/internal/tracking"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type datagram struct {
	at  time.Duration
	msg goosc.Packet
	raw []byte
}

func writeCapture(t *testing.T, port int, datagrams []datagram) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmc.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, d := range datagrams {
		payload := d.raw
		if d.msg != nil {
			payload, err = d.msg.MarshalBinary()
			require.NoError(t, err)
		}
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(127, 0, 0, 1),
			DstIP:    net.IPv4(127, 0, 0, 1),
		}
		udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))

		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     base.Add(d.at),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

func blend(name string, v float32) goosc.Packet {
	return goosc.NewMessage("/VMC/Ext/Blend/Val", name, v)
}

func TestRun_SamplesBlendShapeTimeline(t *testing.T) {
	path := writeCapture(t, tracking.DefaultPort, []datagram{
		{at: 0, msg: blend("JawOpen", 1)},
		{at: 50 * time.Millisecond, msg: blend("JawOpen", 0)},
	})

	res, err := Run(context.Background(), Config{
		PCAPFile:       path,
		UDPPort:        tracking.DefaultPort,
		Targets:        []tracking.Target{tracking.BlendShape("JawOpen")},
		SampleInterval: 25 * time.Millisecond,
		Tracker:        tracking.Options{Durations: tracking.DefaultDurations},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Capture.Packets)
	assert.Equal(t, 2, res.Dispatch.Applied)

	want := []Series{{
		Name: "blend/JawOpen",
		Points: []Point{
			{At: 0, Value: 0},
			{At: 0.025, Value: 0.25},
			{At: 0.05, Value: 0.5},
			{At: 0.075, Value: 0.375},
			{At: 0.1, Value: 0.25},
			{At: 0.125, Value: 0.125},
			{At: 0.15, Value: 0},
		},
	}}
	if diff := cmp.Diff(want, res.Series, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_PoseTargetsAndFailures(t *testing.T) {
	bundle := goosc.NewBundle(base)
	require.NoError(t, bundle.Append(goosc.NewMessage("/VMC/Ext/Bone/Pos", "Head",
		float32(2), float32(0), float32(0), float32(0), float32(0), float32(0), float32(1))))
	require.NoError(t, bundle.Append(blend("Unknown", 1)))

	path := writeCapture(t, 39540, []datagram{
		{at: 0, msg: bundle},
		{at: 10 * time.Millisecond, raw: []byte("garbage")},
	})

	res, err := Run(context.Background(), Config{
		PCAPFile:       path,
		UDPPort:        39540,
		Targets:        []tracking.Target{tracking.Bone("Head")},
		SampleInterval: 50 * time.Millisecond,
		Tracker:        tracking.Options{Durations: tracking.DefaultDurations},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Capture.Failures)
	assert.Equal(t, 1, res.Dispatch.Applied)
	assert.Equal(t, 1, res.Dispatch.Unknown)

	require.Len(t, res.Series, 3)
	assert.Equal(t, "bone/Head.x", res.Series[0].Name)
	assert.Equal(t, "bone/Head.z", res.Series[2].Name)
	xs := res.Series[0].Points
	require.Len(t, xs, 3)
	assert.InDelta(t, 0.0, xs[0].Value, 1e-9)
	assert.InDelta(t, 1.0, xs[1].Value, 1e-9)
	assert.InDelta(t, 2.0, xs[2].Value, 1e-9)
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Run(ctx, Config{PCAPFile: "x.pcap"})
	assert.ErrorContains(t, err, "no targets")

	_, err = Run(ctx, Config{PCAPFile: "x.pcap", Targets: []tracking.Target{tracking.Bone("Tail")}})
	assert.ErrorIs(t, err, tracking.ErrUnknownTarget)

	_, err = Run(ctx, Config{PCAPFile: filepath.Join(t.TempDir(), "missing.pcap"), Targets: []tracking.Target{tracking.Root()}})
	assert.Error(t, err)

	path := writeCapture(t, 9999, []datagram{{at: 0, msg: blend("JawOpen", 1)}})
	_, err = Run(ctx, Config{PCAPFile: path, UDPPort: tracking.DefaultPort, Targets: []tracking.Target{tracking.Root()}})
	assert.ErrorContains(t, err, "no UDP packets")
}

func TestSavePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jaw.png")
	err := SavePlot([]Series{
		{Name: "blend/JawOpen", Points: []Point{{0, 0}, {0.1, 1}}},
		{Name: "empty"},
	}, "JawOpen", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	assert.Error(t, SavePlot(nil, "none", path))
}

func TestIntervalForRate(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, IntervalForRate(100))
	assert.Equal(t, DefaultSampleInterval, IntervalForRate(0))
}
