package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings that can be overridden from the
// environment. Unset variables leave the pointer nil.
type envOverrides struct {
	Port                *int      `env:"FACETRACK_PORT"`
	BindAddress         *string   `env:"FACETRACK_BIND_ADDRESS"`
	PollInterval        *string   `env:"FACETRACK_POLL_INTERVAL"`
	RcvBuf              *int      `env:"FACETRACK_RCV_BUF"`
	ForwardAddress      *string   `env:"FACETRACK_FORWARD_ADDRESS"`
	TransformSmoothing  *string   `env:"FACETRACK_TRANSFORM_SMOOTHING"`
	BlendShapeSmoothing *string   `env:"FACETRACK_BLEND_SHAPE_SMOOTHING"`
	Offset              []float64 `env:"FACETRACK_OFFSET" envSeparator:","`
	TrackFace           *bool     `env:"FACETRACK_TRACK_FACE"`
	TrackTransforms     *bool     `env:"FACETRACK_TRACK_TRANSFORMS"`
	StatsLogInterval    *string   `env:"FACETRACK_STATS_LOG_INTERVAL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnv overlays FACETRACK_* environment variables onto c and validates
// the result.
func (c *TrackerConfig) ApplyEnv() error {
	var o envOverrides
	if err := ParseEnv(&o); err != nil {
		return err
	}

	overlay := &TrackerConfig{
		Port:                o.Port,
		BindAddress:         o.BindAddress,
		PollInterval:        o.PollInterval,
		RcvBuf:              o.RcvBuf,
		ForwardAddress:      o.ForwardAddress,
		TransformSmoothing:  o.TransformSmoothing,
		BlendShapeSmoothing: o.BlendShapeSmoothing,
		TrackFace:           o.TrackFace,
		TrackTransforms:     o.TrackTransforms,
		StatsLogInterval:    o.StatsLogInterval,
	}
	if o.Offset != nil {
		if len(o.Offset) != 3 {
			return fmt.Errorf("FACETRACK_OFFSET must have 3 components, got %d", len(o.Offset))
		}
		overlay.Offset = &[3]float64{o.Offset[0], o.Offset[1], o.Offset[2]}
	}
	c.Merge(overlay)

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return nil
}
