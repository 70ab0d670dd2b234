// Command vmc-sender emits synthetic VMC tracking over UDP: a swaying head,
// periodic blinks and a talking jaw. It is meant for exercising facetrack
// without a tracking application.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/banshee-data/facetrack/internal/tracking"
)

var (
	host     = flag.String("host", "127.0.0.1", "Destination host")
	port     = flag.Int("port", tracking.DefaultPort, "Destination UDP port")
	rate     = flag.Float64("rate", 30, "Frames per second")
	duration = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	noFace   = flag.Bool("no-face", false, "Do not send blend shapes")
	noBody   = flag.Bool("no-body", false, "Do not send root and bone transforms")
)

const (
	rootAddress  = "/VMC/Ext/Root/Pos"
	boneAddress  = "/VMC/Ext/Bone/Pos"
	blendAddress = "/VMC/Ext/Blend/Val"
)

// frame builds the bundle sent at elapsed seconds.
func frame(at time.Time, elapsed float64, face, body bool) *goosc.Bundle {
	b := goosc.NewBundle(at)
	if body {
		b.Append(transform(rootAddress, "root", 0, 0, 0, 0))
		yaw := 0.35 * math.Sin(2*math.Pi*0.25*elapsed)
		b.Append(transform(boneAddress, "Head", 0, 1.6, 0, yaw))
		b.Append(transform(boneAddress, "Neck", 0, 1.5, 0, yaw/2))
	}
	if face {
		blink := blinkWeight(elapsed)
		jaw := 0.5 + 0.5*math.Sin(2*math.Pi*3*elapsed)
		b.Append(goosc.NewMessage(blendAddress, "EyeBlinkLeft", float32(blink)))
		b.Append(goosc.NewMessage(blendAddress, "EyeBlinkRight", float32(blink)))
		b.Append(goosc.NewMessage(blendAddress, "JawOpen", float32(jaw)))
		b.Append(goosc.NewMessage("/VMC/Ext/Blend/Apply"))
	}
	return b
}

// transform is a position plus a rotation of yaw radians about Y.
func transform(address, name string, x, y, z, yaw float64) *goosc.Message {
	half := yaw / 2
	return goosc.NewMessage(address, name,
		float32(x), float32(y), float32(z),
		float32(0), float32(math.Sin(half)), float32(0), float32(math.Cos(half)))
}

// blinkWeight closes both eyes for 150ms every 4 seconds.
func blinkWeight(elapsed float64) float64 {
	if math.Mod(elapsed, 4) < 0.15 {
		return 1
	}
	return 0
}

func main() {
	flag.Parse()
	if *rate <= 0 {
		log.Fatalf("-rate must be positive, got %v", *rate)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	client := goosc.NewClient(*host, *port)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer ticker.Stop()

	log.Printf("Sending synthetic VMC to %s:%d at %.0f fps", *host, *port, *rate)
	start := time.Now()
	sent, failures := 0, 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("Sent %d frames (%d failed)", sent, failures)
			return
		case now := <-ticker.C:
			if err := client.Send(frame(now, now.Sub(start).Seconds(), !*noFace, !*noBody)); err != nil {
				failures++
				if failures%100 == 1 {
					log.Printf("Send failed: %v", err)
				}
				continue
			}
			sent++
		}
	}
}
