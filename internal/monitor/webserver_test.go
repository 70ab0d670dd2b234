package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facetrack/internal/network"
	"github.com/banshee-data/facetrack/internal/profiles"
	"github.com/banshee-data/facetrack/internal/timeutil"
	"github.com/banshee-data/facetrack/internal/tracking"
)

type fixture struct {
	ws      *WebServer
	tracker *tracking.Tracker
	factory *network.MockUDPSocketFactory
	clock   *timeutil.MockClock
	stats   *network.Stats
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	stats, err := network.NewStats(reg)
	require.NoError(t, err)

	factory := network.NewMockUDPSocketFactory()
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	tr := tracking.New(tracking.Options{
		Port:          39541,
		Durations:     tracking.DefaultDurations,
		PollInterval:  2 * time.Millisecond,
		SocketFactory: factory,
		Stats:         stats,
		Clock:         clock,
	})
	t.Cleanup(tr.Stop)

	ws := NewWebServer(WebServerConfig{
		Address:  "127.0.0.1:0",
		Tracker:  tr,
		Stats:    stats,
		Gatherer: reg,
		Clock:    clock,
	})
	return &fixture{ws: ws, tracker: tr, factory: factory, clock: clock, stats: stats}
}

// deliver sends msg through the mock socket and dispatches it.
func (f *fixture) deliver(t *testing.T, msg *goosc.Message) {
	t.Helper()
	data, err := msg.MarshalBinary()
	require.NoError(t, err)
	f.factory.Last().Deliver(data)
	require.Eventually(t, func() bool { return f.tracker.Pending() > 0 }, time.Second, time.Millisecond)
	f.tracker.DispatchPending()
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.ws.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.serve(localHostRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, f.tracker.Start())
	w = f.serve(localHostRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "dev", body["version"])
	assert.Equal(t, float64(39541), body["port"])
	assert.Equal(t, "2024-05-01T10:00:00Z", body["timestamp"])
}

func TestStatusPage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())
	f.deliver(t, goosc.NewMessage("/VMC/Ext/Blend/Val", "JawOpen", float32(0.5)))

	w := f.serve(localHostRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "39541")
	assert.Contains(t, body, "100ms")
	assert.Contains(t, body, "<th>Packets</th><td>1</td>")

	w = f.serve(localHostRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebServer_ServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ws.Listen())
	assert.True(t, strings.HasPrefix(f.ws.Addr(), "127.0.0.1:"))

	ctx, cancel := contextWithCancel(t)
	done := make(chan error, 1)
	go func() { done <- f.ws.Serve(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + f.ws.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestDebugMux_SharedWithProfiles(t *testing.T) {
	f := newFixture(t)
	store, err := profiles.Open(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.AttachAdminRoutes(f.ws.DebugMux()))

	w := f.serve(localHostRequest(http.MethodGet, "/debug/profiles", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.serve(localHostRequest(http.MethodGet, "/debug/channels", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.serve(localHostRequest(http.MethodGet, "/debug/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "channels")
	assert.Contains(t, w.Body.String(), "profiles")
}
