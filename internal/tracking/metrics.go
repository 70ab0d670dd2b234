package tracking

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatch outcomes. A nil *Metrics records nothing.
type Metrics struct {
	dispatched *prometheus.CounterVec
	malformed  *prometheus.CounterVec
	unknown    *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	ignored    prometheus.Counter
}

// NewMetrics creates dispatcher metrics and registers them with reg when it
// is non-nil. Collectors already registered under the same names are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dispatched: newKindCounter("dispatched_total", "Messages applied to a channel."),
		malformed:  newKindCounter("malformed_total", "Messages dropped for bad arguments."),
		unknown:    newKindCounter("unknown_target_total", "Messages naming an unregistered bone or blend shape."),
		skipped:    newKindCounter("skipped_total", "Messages for a channel class that tracking is disabled for."),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "facetrack",
			Subsystem: "dispatch",
			Name:      "ignored_total",
			Help:      "Messages with an address the dispatcher does not handle.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []**prometheus.CounterVec{&m.dispatched, &m.malformed, &m.unknown, &m.skipped} {
		existing, err := register(reg, *c)
		if err != nil {
			return nil, err
		}
		vec, ok := existing.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("dispatch metric registered with a different type")
		}
		*c = vec
	}
	existing, err := register(reg, m.ignored)
	if err != nil {
		return nil, err
	}
	counter, ok := existing.(prometheus.Counter)
	if !ok {
		return nil, fmt.Errorf("dispatch metric registered with a different type")
	}
	m.ignored = counter
	return m, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, fmt.Errorf("failed to register dispatch metric: %w", err)
	}
	return c, nil
}

func newKindCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facetrack",
		Subsystem: "dispatch",
		Name:      name,
		Help:      help,
	}, []string{"kind"})
}

func (m *Metrics) incDispatched(k Kind) {
	if m != nil {
		m.dispatched.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) incMalformed(k Kind) {
	if m != nil {
		m.malformed.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) incUnknown(k Kind) {
	if m != nil {
		m.unknown.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) incSkipped(k Kind) {
	if m != nil {
		m.skipped.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) incIgnored() {
	if m != nil {
		m.ignored.Inc()
	}
}
