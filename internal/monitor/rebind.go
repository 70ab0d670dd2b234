package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/facetrack/internal/tracking"
)

// ErrFrameLoopBusy is returned when no frame loop picked up a rebind
// request in time.
var ErrFrameLoopBusy = errors.New("frame loop did not accept the rebind request")

var rebindTimeout = 2 * time.Second

// RebindRequest asks the frame loop to move the receiver to Port.
type RebindRequest struct {
	Port   int
	result chan error
}

// Apply performs the rebind on t and reports the outcome to the requester.
func (r RebindRequest) Apply(t *tracking.Tracker) error {
	err := t.SetPort(r.Port)
	r.result <- err
	return err
}

// requestRebind hands port to the frame loop and waits for the result.
func (ws *WebServer) requestRebind(ctx context.Context, port int) error {
	ctx, cancel := context.WithTimeout(ctx, rebindTimeout)
	defer cancel()

	req := RebindRequest{Port: port, result: make(chan error, 1)}
	select {
	case ws.rebinds <- req:
	case <-ctx.Done():
		return ErrFrameLoopBusy
	}
	// Apply always replies; the buffered channel means it never blocks.
	return <-req.result
}
