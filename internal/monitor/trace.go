package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psds-microservice/attention-service/internal/attention"
)

// Trace is a recorded sequence of vision pipeline outputs.
//
//	frame_width: 640
//	frame_height: 480
//	loop: false
//	steps:
//	  - for: 4s
//	    face: {top_left: {x: 220, y: 140}, ...}
//	  - for: 6s        # no face
type Trace struct {
	FrameWidth  float64 `yaml:"frame_width"`
	FrameHeight float64 `yaml:"frame_height"`
	Loop        bool    `yaml:"loop"`
	Steps       []Step  `yaml:"steps"`
}

// Step holds one face (or none) for a duration.
type Step struct {
	For  time.Duration   `yaml:"for"`
	Face *attention.Face `yaml:"face,omitempty"`
}

// LoadTrace reads and validates the trace file at path.
func LoadTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ParseTrace(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTrace decodes a YAML trace, rejecting unknown fields.
func ParseTrace(r io.Reader) (*Trace, error) {
	var t Trace
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Trace) validate() error {
	if t.FrameWidth <= 0 || t.FrameHeight <= 0 {
		return fmt.Errorf("trace: frame size must be positive, got %vx%v", t.FrameWidth, t.FrameHeight)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("trace: no steps")
	}
	for i, s := range t.Steps {
		if s.For <= 0 {
			return fmt.Errorf("trace: step %d: duration must be positive", i)
		}
	}
	return nil
}

// Duration is the length of one pass over the steps.
func (t *Trace) Duration() time.Duration {
	var d time.Duration
	for _, s := range t.Steps {
		d += s.For
	}
	return d
}

// Geometry returns the frame for step i.
func (t *Trace) Geometry(i int) attention.Geometry {
	return attention.Geometry{FrameWidth: t.FrameWidth, FrameHeight: t.FrameHeight, Face: t.Steps[i].Face}
}

// Play feeds the steps to observe in real time. It returns nil after the last step
// unless the trace loops, and ctx.Err() when cancelled.
func (t *Trace) Play(ctx context.Context, observe func(attention.Geometry)) error {
	for {
		for i, s := range t.Steps {
			observe(t.Geometry(i))
			timer := time.NewTimer(s.For)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if !t.Loop {
			return nil
		}
	}
}
