package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/facetrack/internal/monitoring"
)

// PacketStats receives counters from the receive path.
type PacketStats interface {
	AddPacket(bytes int)
	AddDecodeError()
	AddMessages(count int)
	AddDropped()
	LogStats()
}

// noopStats is a PacketStats implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (noopStats) AddPacket(int)   {}
func (noopStats) AddDecodeError() {}
func (noopStats) AddMessages(int) {}
func (noopStats) AddDropped()     {}
func (noopStats) LogStats()       {}

// StatsSnapshot holds cumulative receiver counters.
type StatsSnapshot struct {
	Packets      int64 `json:"packets"`
	Bytes        int64 `json:"bytes"`
	Messages     int64 `json:"messages"`
	DecodeErrors int64 `json:"decode_errors"`
	Dropped      int64 `json:"dropped"`
}

// Stats tracks receive counters for periodic logging and, when given a
// registry, exports them as Prometheus counters.
type Stats struct {
	mu        sync.Mutex
	total     StatsSnapshot
	interval  StatsSnapshot
	lastReset time.Time

	packets      prometheus.Counter
	bytes        prometheus.Counter
	messages     prometheus.Counter
	decodeErrors prometheus.Counter
	dropped      prometheus.Counter
}

// NewStats creates receiver statistics. reg may be nil.
func NewStats(reg prometheus.Registerer) (*Stats, error) {
	s := &Stats{
		lastReset:    time.Now(),
		packets:      newCounter("packets_total", "UDP datagrams received."),
		bytes:        newCounter("bytes_total", "UDP payload bytes received."),
		messages:     newCounter("messages_total", "OSC messages decoded and queued."),
		decodeErrors: newCounter("decode_errors_total", "Datagrams containing undecodable data."),
		dropped:      newCounter("forward_dropped_total", "Datagrams dropped by the forwarder."),
	}
	if reg == nil {
		return s, nil
	}
	for _, c := range []*prometheus.Counter{&s.packets, &s.bytes, &s.messages, &s.decodeErrors, &s.dropped} {
		if err := reg.Register(*c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("failed to register receiver metric: %w", err)
			}
			existing, ok := are.ExistingCollector.(prometheus.Counter)
			if !ok {
				return nil, fmt.Errorf("receiver metric registered with a different type: %w", err)
			}
			*c = existing
		}
	}
	return s, nil
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facetrack",
		Subsystem: "receiver",
		Name:      name,
		Help:      help,
	})
}

func (s *Stats) AddPacket(bytes int) {
	s.mu.Lock()
	s.total.Packets++
	s.total.Bytes += int64(bytes)
	s.interval.Packets++
	s.interval.Bytes += int64(bytes)
	s.mu.Unlock()
	s.packets.Inc()
	s.bytes.Add(float64(bytes))
}

func (s *Stats) AddDecodeError() {
	s.mu.Lock()
	s.total.DecodeErrors++
	s.interval.DecodeErrors++
	s.mu.Unlock()
	s.decodeErrors.Inc()
}

func (s *Stats) AddMessages(count int) {
	s.mu.Lock()
	s.total.Messages += int64(count)
	s.interval.Messages += int64(count)
	s.mu.Unlock()
	s.messages.Add(float64(count))
}

func (s *Stats) AddDropped() {
	s.mu.Lock()
	s.total.Dropped++
	s.interval.Dropped++
	s.mu.Unlock()
	s.dropped.Inc()
}

// Snapshot returns the cumulative counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// GetAndReset returns the counters accumulated since the previous call.
func (s *Stats) GetAndReset() (StatsSnapshot, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	d := now.Sub(s.lastReset)
	snap := s.interval
	s.interval = StatsSnapshot{}
	s.lastReset = now
	return snap, d
}

// LogStats logs the interval counters and resets them. Silent intervals are
// not logged.
func (s *Stats) LogStats() {
	snap, d := s.GetAndReset()
	if snap.Packets == 0 && snap.DecodeErrors == 0 && snap.Dropped == 0 {
		return
	}
	secs := d.Seconds()
	if secs <= 0 {
		secs = 1
	}
	monitoring.Logf("VMC receiver: %d packets (%.1f/s, %.1f KB/s), %d messages, %d decode errors, %d forward drops in %v",
		snap.Packets, float64(snap.Packets)/secs, float64(snap.Bytes)/1024/secs,
		snap.Messages, snap.DecodeErrors, snap.Dropped, d.Round(time.Millisecond))
}
