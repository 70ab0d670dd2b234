package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facetrack/internal/osc"
	"github.com/banshee-data/facetrack/internal/tracking"
)

func contextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}

func TestChannels_Snapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())
	f.deliver(t, goosc.NewMessage("/VMC/Ext/Blend/Val", "JawOpen", float32(1)))
	f.clock.Advance(50 * time.Millisecond)

	w := f.serve(localHostRequest(http.MethodGet, "/debug/channels", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snap tracking.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Len(t, snap.Bones, 5)
	require.Len(t, snap.BlendShapes, 52)

	var jaw tracking.BlendShapeSample
	for _, s := range snap.BlendShapes {
		if s.Name == "JawOpen" {
			jaw = s
		}
	}
	assert.InDelta(t, 0.5, jaw.Weight, 1e-9)
	assert.Equal(t, 1.0, jaw.Target)
	assert.False(t, jaw.Settled)
}

func TestChannels_Target(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())
	f.deliver(t, goosc.NewMessage("/VMC/Ext/Bone/Pos", "Head",
		float32(0), float32(1), float32(0), float32(0), float32(0), float32(0), float32(1)))
	f.clock.Advance(100 * time.Millisecond)

	w := f.serve(localHostRequest(http.MethodGet, "/debug/channels?target=bone/Head", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp channelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bone/Head", resp.Target)
	assert.Equal(t, "bone", resp.Kind)
	require.NotNil(t, resp.Pose)
	assert.InDelta(t, 1.0, resp.Pose.Position[1], 1e-9)
	assert.Nil(t, resp.Weight)

	w = f.serve(localHostRequest(http.MethodGet, "/debug/channels?target=blend/JawOpen", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp = channelResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Weight)
	assert.Equal(t, 0.0, *resp.Weight)

	w = f.serve(localHostRequest(http.MethodGet, "/debug/channels?target=blend/Nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.serve(localHostRequest(http.MethodGet, "/debug/channels?target=face/x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.serve(localHostRequest(http.MethodPost, "/debug/channels", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDebugRoutes_RequireLoopback(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/channels", nil)
	req.RemoteAddr = "203.0.113.7:4000"

	w := f.serve(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBlendShapeChart(t *testing.T) {
	f := newFixture(t)

	w := f.serve(localHostRequest(http.MethodGet, "/debug/blendshapes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "Left Eye")
	assert.Contains(t, body, "Jaw")
	assert.Contains(t, body, "EyeBlinkLeft")

	w = f.serve(localHostRequest(http.MethodGet, "/debug/blendshapes?group="+url.QueryEscape("Jaw"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "JawOpen")
	assert.NotContains(t, w.Body.String(), "EyeBlinkLeft")

	w = f.serve(localHostRequest(http.MethodGet, "/debug/blendshapes?group=Tail", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrometheusRoute(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())
	f.deliver(t, goosc.NewMessage("/VMC/Ext/Blend/Val", "JawOpen", float32(1)))

	w := f.serve(localHostRequest(http.MethodGet, "/debug/prometheus", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "facetrack_receiver_packets_total 1")
}

func TestReceiverPage(t *testing.T) {
	f := newFixture(t)

	w := f.serve(localHostRequest(http.MethodGet, "/debug/receiver", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `value="39541"`)
	assert.Contains(t, w.Body.String(), "not listening")
}

func TestReceiverAPI_Status(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())

	w := f.serve(localHostRequest(http.MethodGet, "/debug/receiver-api", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var st receiverStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 39541, st.Port)
	assert.True(t, st.Running)
	require.NotNil(t, st.Stats)

	w = f.serve(localHostRequest(http.MethodDelete, "/debug/receiver-api", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// runFrameLoop services rebind requests the way the daemon's frame loop does.
func runFrameLoop(t *testing.T, f *fixture) {
	ctx, cancel := contextWithCancel(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case req := <-f.ws.Rebinds():
				req.Apply(f.tracker)
			case <-ctx.Done():
				return
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func postPort(port string) *http.Request {
	req := localHostRequest(http.MethodPost, "/debug/receiver-api", strings.NewReader(url.Values{"port": {port}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestReceiverAPI_Rebind(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())
	runFrameLoop(t, f)

	w := f.serve(postPort("39600"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var st receiverStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 39600, st.Port)
	assert.True(t, st.Running)
	assert.Equal(t, 39600, f.tracker.Port())

	open := f.factory.Open()
	require.Len(t, open, 1)
}

func TestReceiverAPI_RebindErrors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())

	w := f.serve(postPort("abc"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.serve(postPort("70000"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Nobody is servicing the frame loop.
	old := rebindTimeout
	rebindTimeout = 20 * time.Millisecond
	t.Cleanup(func() { rebindTimeout = old })
	w = f.serve(postPort("39600"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 39541, f.tracker.Port())

	runFrameLoop(t, f)
	f.factory.SetError(assert.AnError)
	w = f.serve(postPort("39601"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, f.tracker.Running())
}

func TestTail_StreamsMessages(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start())

	srv := httptest.NewServer(f.ws.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := contextWithCancel(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail?kind=blend", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	require.Equal(t, ": ping", lines.Text())

	// The root message is filtered out; only the blend shape is streamed.
	f.deliver(t, goosc.NewMessage("/VMC/Ext/Root/Pos", "root",
		float32(0), float32(0), float32(0), float32(0), float32(0), float32(0), float32(1)))
	f.deliver(t, goosc.NewMessage("/VMC/Ext/Blend/Val", "JawOpen", float32(0.25)))

	var data string
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "data: ") {
			data = strings.TrimPrefix(lines.Text(), "data: ")
			break
		}
	}
	var ev tailEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "blend", ev.Kind)
	assert.Equal(t, "/VMC/Ext/Blend/Val", ev.Address)
	assert.Equal(t, "sf", ev.Types)
	assert.Equal(t, []any{"JawOpen", 0.25}, ev.Args)

	cancel()
}

func TestTail_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.serve(localHostRequest(http.MethodPost, "/debug/tail", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = f.serve(localHostRequest(http.MethodGet, "/debug/tail?kind=face", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTail_UnsubscribesOnDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ws.Handler().ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool {
		return f.tracker.Dispatcher().Observers().Len() == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tail handler did not exit after context cancellation")
	}
	assert.Equal(t, 0, f.tracker.Dispatcher().Observers().Len())
}

func TestNewTailEvent_NonFinite(t *testing.T) {
	ev := newTailEvent(osc.Message{
		Address: "/VMC/Ext/Blend/Val",
		Args: []osc.Argument{
			{Type: osc.String, Value: "JawOpen"},
			{Type: osc.Float32, Value: float32(math.NaN())},
			{Type: osc.Float64, Value: math.Inf(1)},
			{Type: osc.Blob, Value: []byte{1, 2}},
		},
	})
	assert.Equal(t, "blend", ev.Kind)
	assert.Equal(t, "sfdb", ev.Types)
	assert.Equal(t, []any{"JawOpen", "NaN", "+Inf", "blob[2]"}, ev.Args)

	_, err := json.Marshal(ev)
	assert.NoError(t, err)
}
