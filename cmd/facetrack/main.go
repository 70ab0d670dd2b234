// Command facetrack receives VMC face and body tracking over UDP and keeps
// smoothed, queryable channel values for every tracked bone and blend shape.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/facetrack/internal/config"
	"github.com/banshee-data/facetrack/internal/monitor"
	"github.com/banshee-data/facetrack/internal/network"
	"github.com/banshee-data/facetrack/internal/profiles"
	"github.com/banshee-data/facetrack/internal/timeutil"
	"github.com/banshee-data/facetrack/internal/tracking"
	"github.com/banshee-data/facetrack/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON tracker config (default: built-in defaults)")
	profileName = flag.String("profile", "", "Name of a saved profile to layer over the config")
	saveProfile = flag.String("save-profile", "", "Save the effective config under this profile name and exit")
	profileDesc = flag.String("profile-description", "", "Description stored with -save-profile")
	profilesDB  = flag.String("profiles-db", "facetrack_profiles.db", "Path to the SQLite profile database (empty disables profiles)")
	listen      = flag.String("listen", "localhost:8090", "HTTP listen address for status and /debug/ routes (empty disables)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health service listen address (empty disables)")
	port        = flag.Int("port", 0, "VMC UDP port (overrides config and environment)")
	frameRate   = flag.Float64("fps", 60, "Frame rate at which queued messages are dispatched")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if *frameRate <= 0 {
		log.Fatalf("-fps must be positive, got %v", *frameRate)
	}

	var store *profiles.Store
	if *profilesDB != "" {
		var err error
		store, err = profiles.Open(*profilesDB)
		if err != nil {
			log.Fatalf("Failed to open profile database: %v", err)
		}
		defer store.Close()
	} else if *profileName != "" || *saveProfile != "" {
		log.Fatal("-profile and -save-profile need -profiles-db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(ctx, *configFile, *profileName, *port, store)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *saveProfile != "" {
		if err := store.Save(ctx, *saveProfile, *profileDesc, cfg); err != nil {
			log.Fatalf("Failed to save profile: %v", err)
		}
		log.Printf("Saved profile %q", *saveProfile)
		return
	}

	if err := run(ctx, cfg, store); err != nil {
		log.Printf("facetrack: %v", err)
		os.Exit(1)
	}
}

// resolveConfig layers, in increasing precedence: the config file, the named
// profile, FACETRACK_* environment variables and the -port flag.
func resolveConfig(ctx context.Context, path, profile string, portFlag int, store *profiles.Store) (*config.TrackerConfig, error) {
	cfg := &config.TrackerConfig{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if profile != "" {
		p, err := store.Get(ctx, profile)
		if err != nil {
			return nil, err
		}
		cfg.Merge(p.Config)
		log.Printf("Applied profile %q", profile)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if portFlag != 0 {
		cfg.Merge(&config.TrackerConfig{Port: &portFlag})
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.TrackerConfig, store *profiles.Store) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stats, err := network.NewStats(reg)
	if err != nil {
		return err
	}
	metrics, err := tracking.NewMetrics(reg)
	if err != nil {
		return err
	}

	opts, err := cfg.TrackerOptions()
	if err != nil {
		return err
	}
	opts.Stats = stats
	opts.Metrics = metrics

	if addr := cfg.GetForwardAddress(); addr != "" {
		fwd, err := network.NewPacketForwarder(addr, stats, cfg.GetStatsLogInterval())
		if err != nil {
			return err
		}
		defer fwd.Close()
		opts.Forwarder = fwd
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := tracking.New(opts)
	if err := tracker.Start(); err != nil {
		return err
	}
	defer tracker.Stop()
	log.Printf("%s listening for VMC on UDP port %d", version.Get(), tracker.Port())

	var (
		wg     sync.WaitGroup
		errs   = make(chan error, 2)
		health *monitor.HealthServer
		ws     *monitor.WebServer
	)

	if *grpcListen != "" {
		health, err = monitor.NewHealthServer(*grpcListen)
		if err != nil {
			return err
		}
		health.SetReceiverRunning(tracker.Running())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Serve(ctx); err != nil {
				errs <- fmt.Errorf("gRPC health server: %w", err)
			}
		}()
	}

	if *listen != "" {
		ws = monitor.NewWebServer(monitor.WebServerConfig{
			Address:  *listen,
			Tracker:  tracker,
			Stats:    stats,
			Gatherer: reg,
		})
		if err := ws.Listen(); err != nil {
			return err
		}
		mux := ws.DebugMux()
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Serve(ctx); err != nil {
				errs <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	loopErr := frameLoop(ctx, timeutil.RealClock{}, tracker, ws, health, errs)
	cancel()

	wg.Wait()
	close(errs)
	all := []error{loopErr}
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

// frameLoop dispatches queued messages once per frame and applies rebind
// requests between frames. It returns nil when ctx is cancelled, or the first
// error reported on failed.
func frameLoop(ctx context.Context, clock timeutil.Clock, tracker *tracking.Tracker, ws *monitor.WebServer, health *monitor.HealthServer, failed <-chan error) error {
	ticker := clock.NewTicker(time.Duration(float64(time.Second) / *frameRate))
	defer ticker.Stop()

	var rebinds <-chan monitor.RebindRequest
	if ws != nil {
		rebinds = ws.Rebinds()
	}

	for {
		select {
		case <-ctx.Done():
			log.Print("Frame loop stopped")
			return nil
		case err := <-failed:
			log.Printf("Shutting down: %v", err)
			return err
		case <-ticker.C():
			tracker.DispatchPending()
		case req := <-rebinds:
			if err := req.Apply(tracker); err != nil {
				log.Printf("Rebind to port %d failed: %v", req.Port, err)
			}
		}
		if health != nil {
			health.SetReceiverRunning(tracker.Running())
		}
	}
}
