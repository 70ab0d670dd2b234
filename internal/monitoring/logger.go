// Package monitoring holds the diagnostic logger shared by the receive and
// dispatch paths.
package monitoring

import (
	"log"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var logMu sync.RWMutex

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	logMu.Lock()
	defer logMu.Unlock()
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

func logf(format string, v ...interface{}) {
	logMu.RLock()
	f := Logf
	logMu.RUnlock()
	f(format, v...)
}

// Throttle suppresses repeated messages for the same key. A bad sender can
// emit hundreds of malformed datagrams per second; only the first one per
// interval is logged, together with a count of what was suppressed.
type Throttle struct {
	mu         sync.Mutex
	interval   time.Duration
	last       map[string]time.Time
	suppressed map[string]int
	now        func() time.Time
}

// NewThrottle returns a Throttle that logs at most once per interval per key.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval:   interval,
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
		now:        time.Now,
	}
}

// Logf logs through the package logger unless key was logged within the
// interval. It reports whether the message was emitted.
func (t *Throttle) Logf(key, format string, v ...interface{}) bool {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		t.suppressed[key]++
		t.mu.Unlock()
		return false
	}
	dropped := t.suppressed[key]
	t.last[key] = now
	t.suppressed[key] = 0
	t.mu.Unlock()

	if dropped > 0 {
		logf(format+" (%d similar suppressed)", append(v, dropped)...)
	} else {
		logf(format, v...)
	}
	return true
}
