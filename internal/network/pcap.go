package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/facetrack/internal/monitoring"
)

// PayloadHandler receives one UDP payload and the time it was captured. The
// payload is only valid for the duration of the call.
type PayloadHandler func(payload []byte, captured time.Time) error

// ReplayResult summarises a capture replay.
type ReplayResult struct {
	Packets  int // UDP packets matching the port
	Skipped  int // frames that were not UDP to the port
	Failures int // handler errors
	First    time.Time
	Last     time.Time
}

// ReplayPCAP feeds every UDP payload addressed to udpPort in a pcap or pcapng
// capture to handler, in capture order. Handler errors are logged and
// counted; replay continues. udpPort <= 0 matches every UDP packet.
func ReplayPCAP(ctx context.Context, path string, udpPort int, handler PayloadHandler) (ReplayResult, error) {
	var result ReplayResult

	f, err := os.Open(path)
	if err != nil {
		return result, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	source, err := openCapture(bufio.NewReader(f))
	if err != nil {
		return result, fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}

	packets := gopacket.NewPacketSource(source, source.LinkType())
	packets.NoCopy = true
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("PCAP replay stopping due to context cancellation (processed %d packets)", result.Packets)
			return result, err
		}

		packet, err := packets.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			monitoring.Logf("PCAP read error after %d packets: %v", result.Packets, err)
			break
		}

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || (udpPort > 0 && int(udp.DstPort) != udpPort) || len(udp.Payload) == 0 {
			result.Skipped++
			continue
		}

		ts := packet.Metadata().Timestamp
		if result.Packets == 0 {
			result.First = ts
		}
		result.Last = ts
		result.Packets++

		if err := handler(udp.Payload, ts); err != nil {
			result.Failures++
			if result.Failures <= 10 {
				monitoring.Logf("Error handling PCAP packet %d: %v", result.Packets, err)
			}
		}
	}

	monitoring.Logf("PCAP replay complete: %d packets (%d skipped, %d failed) in %v",
		result.Packets, result.Skipped, result.Failures, time.Since(start))
	return result, nil
}

type captureSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// openCapture detects pcap versus pcapng from the section header magic.
func openCapture(r *bufio.Reader) (captureSource, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	// pcapng section header block type.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}
