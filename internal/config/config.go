// Package config loads tracker settings from a JSON file and FACETRACK_*
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/facetrack/internal/tracking"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/facetrack.example.json"

// Defaults applied when a field is unset.
const (
	DefaultSmoothing        = 100 * time.Millisecond
	DefaultPollInterval     = 20 * time.Millisecond
	DefaultRcvBuf           = 1 << 20
	DefaultStatsLogInterval = time.Minute
)

// TrackerConfig is the on-disk configuration. Every field is optional: nil
// means "use the default", so partial files and profile overlays are safe.
type TrackerConfig struct {
	// Listener
	Port           *int    `json:"port,omitempty"`
	BindAddress    *string `json:"bind_address,omitempty"`
	PollInterval   *string `json:"poll_interval,omitempty"` // duration string like "20ms"
	RcvBuf         *int    `json:"rcv_buf,omitempty"`
	ForwardAddress *string `json:"forward_address,omitempty"` // host:port to relay raw datagrams to

	// Smoothing
	TransformSmoothing  *string     `json:"transform_smoothing,omitempty"`
	BlendShapeSmoothing *string     `json:"blend_shape_smoothing,omitempty"`
	Offset              *[3]float64 `json:"offset,omitempty"`
	TrackFace           *bool       `json:"track_face,omitempty"`
	TrackTransforms     *bool       `json:"track_transforms,omitempty"`

	// Registry and shaping. Empty lists use the built-in VMC sets.
	Bones       []string                       `json:"bones,omitempty"`
	BlendShapes []tracking.BlendShapeDef       `json:"blend_shapes,omitempty"`
	Curves      map[string][]tracking.Keyframe `json:"curves,omitempty"`

	StatsLogInterval *string `json:"stats_log_interval,omitempty"`
}

// LoadConfig loads a TrackerConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadConfig(path string) (*TrackerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a JSON configuration.
func Parse(data []byte) (*TrackerConfig, error) {
	cfg := &TrackerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Merge overlays every field set in other onto c.
func (c *TrackerConfig) Merge(other *TrackerConfig) {
	if other == nil {
		return
	}
	if other.Port != nil {
		c.Port = other.Port
	}
	if other.BindAddress != nil {
		c.BindAddress = other.BindAddress
	}
	if other.PollInterval != nil {
		c.PollInterval = other.PollInterval
	}
	if other.RcvBuf != nil {
		c.RcvBuf = other.RcvBuf
	}
	if other.ForwardAddress != nil {
		c.ForwardAddress = other.ForwardAddress
	}
	if other.TransformSmoothing != nil {
		c.TransformSmoothing = other.TransformSmoothing
	}
	if other.BlendShapeSmoothing != nil {
		c.BlendShapeSmoothing = other.BlendShapeSmoothing
	}
	if other.Offset != nil {
		c.Offset = other.Offset
	}
	if other.TrackFace != nil {
		c.TrackFace = other.TrackFace
	}
	if other.TrackTransforms != nil {
		c.TrackTransforms = other.TrackTransforms
	}
	if other.Bones != nil {
		c.Bones = other.Bones
	}
	if other.BlendShapes != nil {
		c.BlendShapes = other.BlendShapes
	}
	if other.Curves != nil {
		c.Curves = other.Curves
	}
	if other.StatsLogInterval != nil {
		c.StatsLogInterval = other.StatsLogInterval
	}
}

// Validate checks that the configuration values are valid.
func (c *TrackerConfig) Validate() error {
	var errs []error

	if c.Port != nil && (*c.Port < 1 || *c.Port > 65535) {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", *c.Port))
	}
	if c.BindAddress != nil && *c.BindAddress != "" && net.ParseIP(*c.BindAddress) == nil {
		errs = append(errs, fmt.Errorf("bind_address must be an IP address, got %q", *c.BindAddress))
	}
	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		errs = append(errs, fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf))
	}
	if c.ForwardAddress != nil && *c.ForwardAddress != "" {
		if _, _, err := net.SplitHostPort(*c.ForwardAddress); err != nil {
			errs = append(errs, fmt.Errorf("invalid forward_address %q: %w", *c.ForwardAddress, err))
		}
	}

	for _, d := range []struct {
		name     string
		value    *string
		positive bool
	}{
		{"transform_smoothing", c.TransformSmoothing, false},
		{"blend_shape_smoothing", c.BlendShapeSmoothing, false},
		{"poll_interval", c.PollInterval, true},
		{"stats_log_interval", c.StatsLogInterval, false},
	} {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err))
		case v < 0:
			errs = append(errs, fmt.Errorf("%s must be non-negative, got %s", d.name, *d.value))
		case d.positive && v == 0:
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}

	if _, err := c.Registry(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.GetCurves(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func parseDuration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPort returns the UDP listen port or the default.
func (c *TrackerConfig) GetPort() int {
	if c.Port == nil {
		return tracking.DefaultPort
	}
	return *c.Port
}

// GetBindAddress returns the listen address. Empty means all interfaces.
func (c *TrackerConfig) GetBindAddress() string {
	if c.BindAddress == nil {
		return ""
	}
	return *c.BindAddress
}

func (c *TrackerConfig) GetPollInterval() time.Duration {
	return parseDuration(c.PollInterval, DefaultPollInterval)
}

func (c *TrackerConfig) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return DefaultRcvBuf
	}
	return *c.RcvBuf
}

// GetForwardAddress returns the relay destination, or "" when disabled.
func (c *TrackerConfig) GetForwardAddress() string {
	if c.ForwardAddress == nil {
		return ""
	}
	return *c.ForwardAddress
}

func (c *TrackerConfig) GetTransformSmoothing() time.Duration {
	return parseDuration(c.TransformSmoothing, DefaultSmoothing)
}

func (c *TrackerConfig) GetBlendShapeSmoothing() time.Duration {
	return parseDuration(c.BlendShapeSmoothing, DefaultSmoothing)
}

// GetDurations returns both smoothing windows.
func (c *TrackerConfig) GetDurations() tracking.Durations {
	return tracking.Durations{
		Transform:  c.GetTransformSmoothing(),
		BlendShape: c.GetBlendShapeSmoothing(),
	}
}

// GetOffset returns the position offset applied to root and bone poses.
func (c *TrackerConfig) GetOffset() r3.Vec {
	if c.Offset == nil {
		return r3.Vec{}
	}
	return r3.Vec{X: c.Offset[0], Y: c.Offset[1], Z: c.Offset[2]}
}

func (c *TrackerConfig) GetTrackFace() bool {
	if c.TrackFace == nil {
		return true
	}
	return *c.TrackFace
}

func (c *TrackerConfig) GetTrackTransforms() bool {
	if c.TrackTransforms == nil {
		return true
	}
	return *c.TrackTransforms
}

func (c *TrackerConfig) GetStatsLogInterval() time.Duration {
	return parseDuration(c.StatsLogInterval, DefaultStatsLogInterval)
}

// Registry builds the channel registry, falling back to the built-in bone
// and blend shape sets for whichever list is empty.
func (c *TrackerConfig) Registry() (*tracking.Registry, error) {
	bones := c.Bones
	if len(bones) == 0 {
		bones = tracking.DefaultBones()
	}
	shapes := c.BlendShapes
	if len(shapes) == 0 {
		shapes = tracking.DefaultBlendShapes()
	}
	return tracking.NewRegistry(bones, shapes)
}

// GetCurves compiles the configured shaping curves.
func (c *TrackerConfig) GetCurves() (tracking.Curves, error) {
	return tracking.BuildCurves(c.Curves)
}

// TrackerOptions converts the configuration into tracker options. Runtime
// collaborators (stats, metrics, forwarder, clock) are left for the caller.
func (c *TrackerConfig) TrackerOptions() (tracking.Options, error) {
	reg, err := c.Registry()
	if err != nil {
		return tracking.Options{}, err
	}
	curves, err := c.GetCurves()
	if err != nil {
		return tracking.Options{}, err
	}
	return tracking.Options{
		Port:              c.GetPort(),
		BindAddress:       c.GetBindAddress(),
		Registry:          reg,
		Durations:         c.GetDurations(),
		Curves:            curves,
		Offset:            c.GetOffset(),
		DisableFace:       !c.GetTrackFace(),
		DisableTransforms: !c.GetTrackTransforms(),
		PollInterval:      c.GetPollInterval(),
		RcvBuf:            c.GetRcvBuf(),
		LogInterval:       c.GetStatsLogInterval(),
	}, nil
}
