package monitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/facetrack/internal/network"
	"github.com/banshee-data/facetrack/internal/osc"
	"github.com/banshee-data/facetrack/internal/tracking"
)

// tailBuffer is how many messages a slow SSE client may lag behind before
// messages are dropped for it.
const tailBuffer = 256

var receiverTemplate = template.Must(template.New("receiver").Parse(`<!DOCTYPE html>
<html><head><title>VMC receiver</title></head>
<body>
<h1>VMC receiver</h1>
<p>Port {{.Port}}: {{if .Running}}listening{{else}}not listening{{end}}, {{.Pending}} queued.</p>
<form method="POST" action="receiver-api">
  <label>Port <input type="number" name="port" min="0" max="65535" value="{{.Port}}"></label>
  <button type="submit">Rebind</button>
</form>
</body></html>
`))

// AttachDebugRoutes mounts the tracker's debugging endpoints on the
// /debug/ handler of mux.
func (ws *WebServer) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("channels", "Smoothed channel values (JSON); ?target=bone/Head selects one", ws.handleChannels)
	debug.HandleFunc("blendshapes", "Blend shape weights chart", ws.handleBlendShapeChart)
	debug.HandleFunc("receiver", "VMC receiver status and port rebind", ws.handleReceiver)
	debug.Handle("prometheus", "facetrack Prometheus metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{}))
	debug.HandleSilentFunc("receiver-api", ws.handleReceiverAPI)
	debug.HandleSilentFunc("tail", ws.handleTail)
}

type channelResponse struct {
	Target string               `json:"target"`
	Kind   string               `json:"kind"`
	Pose   *tracking.PoseSample `json:"pose,omitempty"`
	Weight *float64             `json:"weight,omitempty"`
}

func (ws *WebServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := r.URL.Query().Get("target")
	if key == "" {
		ws.writeJSON(w, ws.tracker.Snapshot())
		return
	}

	target, err := tracking.ParseTarget(key)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := ws.tracker.Sample(target)
	if errors.Is(err, tracking.ErrUnknownTarget) {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := channelResponse{Target: target.Key(), Kind: v.Kind.String()}
	if v.Kind == tracking.KindBlendShape {
		resp.Weight = &v.Weight
	} else {
		p := v.Pose
		resp.Pose = &tracking.PoseSample{
			Position: [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
			Rotation: [4]float64{p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real},
		}
	}
	ws.writeJSON(w, resp)
}

// tailEvent is one decoded message as sent to tail clients.
type tailEvent struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Types   string `json:"types"`
	Args    []any  `json:"args"`
}

func newTailEvent(m osc.Message) tailEvent {
	ev := tailEvent{
		Kind:    tracking.Classify(m.Address).String(),
		Address: m.Address,
		Types:   m.TypeTags(),
		Args:    make([]any, len(m.Args)),
	}
	for i, a := range m.Args {
		switch v := a.Value.(type) {
		case []byte:
			ev.Args[i] = fmt.Sprintf("blob[%d]", len(v))
		case float32, float64:
			// JSON has no NaN or Inf.
			if f, _ := a.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
				ev.Args[i] = fmt.Sprint(v)
			} else {
				ev.Args[i] = v
			}
		default:
			ev.Args[i] = v
		}
	}
	return ev
}

// handleTail streams decoded messages as Server-Sent Events. ?kind=
// restricts the stream to root, bone, blend or other messages.
func (ws *WebServer) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kind := tracking.MessageAny
	if k := r.URL.Query().Get("kind"); k != "" {
		var err error
		if kind, err = tracking.ParseMessageKind(k); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	// Observers run on the frame loop, so they must never block.
	c := make(chan tailEvent, tailBuffer)
	id := ws.tracker.Subscribe(kind, func(m osc.Message) {
		select {
		case c <- newTailEvent(m):
		default:
		}
	})
	defer ws.tracker.Unsubscribe(id)

	io.WriteString(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case ev := <-c:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

type receiverStatus struct {
	Port    int                    `json:"port"`
	Running bool                   `json:"running"`
	Pending int                    `json:"pending"`
	Stats   *network.StatsSnapshot `json:"stats,omitempty"`
}

func (ws *WebServer) receiverStatus() receiverStatus {
	st := receiverStatus{
		Port:    ws.tracker.Port(),
		Running: ws.tracker.Running(),
		Pending: ws.tracker.Pending(),
	}
	if ws.stats != nil {
		snap := ws.stats.Snapshot()
		st.Stats = &snap
	}
	return st
}

func (ws *WebServer) handleReceiver(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := receiverTemplate.Execute(&buf, ws.receiverStatus()); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.Copy(w, &buf)
}

// handleReceiverAPI returns receiver status on GET and rebinds the
// receiver to the posted port on POST.
func (ws *WebServer) handleReceiverAPI(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.writeJSON(w, ws.receiverStatus())
		return
	case http.MethodPost:
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	port, err := strconv.Atoi(strings.TrimSpace(r.FormValue("port")))
	if err != nil || port < 0 || port > 65535 {
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid port %q", r.FormValue("port")))
		return
	}

	err = ws.requestRebind(r.Context(), port)
	var bindErr *network.BindError
	switch {
	case errors.Is(err, ErrFrameLoopBusy):
		ws.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.As(err, &bindErr):
		ws.writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		ws.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ws.writeJSON(w, ws.receiverStatus())
}
