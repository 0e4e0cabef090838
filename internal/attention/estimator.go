// Package attention turns per-frame facial geometry into a bounded attentiveness
// reading and derives the attentive/distracted state with hysteresis.
package attention

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultInterval is how often a monitor should evaluate frames.
	DefaultInterval = 200 * time.Millisecond
	// MaxInterval bounds the evaluation cadence.
	MaxInterval = time.Second

	detectionGrace = time.Second

	baselineScore = 0.5
	minFaceScore  = 0.2
	minDecayScore = 0.1
	decayFactor   = 0.95

	idealTopRatio = 0.3

	defaultEyeOpenness   = 1.0
	defaultMouthOpenness = 0.0
)

// Reading is the numeric output of one evaluation.
type Reading struct {
	AttentionScore        float64 `json:"attentionScore"`
	Posture               float64 `json:"posture"`
	EyeOpenness           float64 `json:"eyeOpenness"`
	MouthOpenness         float64 `json:"mouthOpenness"`
	FacingCamera          bool    `json:"facingCamera"`
	TimeDistractedSeconds int     `json:"timeDistracted"`
}

// InitialReading is reported before any frame has been evaluated.
func InitialReading() Reading {
	return Reading{
		AttentionScore: baselineScore,
		Posture:        1.0,
		EyeOpenness:    defaultEyeOpenness,
		MouthOpenness:  defaultMouthOpenness,
	}
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// Estimator keeps the small amount of state the heuristic needs between frames:
// the previous reading, the last successful detection and the distraction marker.
type Estimator struct {
	mu               sync.Mutex
	now              func() time.Time
	last             Reading
	lastDetection    time.Time
	distractionStart time.Time
	distracted       bool
}

// NewEstimator returns an estimator that starts from InitialReading.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{now: time.Now, last: InitialReading()}
	for _, opt := range opts {
		opt(e)
	}
	e.lastDetection = e.now()
	return e
}

// Last returns the most recent reading.
func (e *Estimator) Last() Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Evaluate scores one frame. Malformed geometry is handled as "no face".
func (e *Estimator) Evaluate(g Geometry) Reading {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if g.usable() {
		e.last = scoreFace(g)
		e.lastDetection = now
		e.distracted = false
		e.distractionStart = time.Time{}
		return e.last
	}

	if now.Sub(e.lastDetection) <= detectionGrace {
		return e.last
	}
	// the face has been gone since the last detection, so that is where the timer starts
	if !e.distracted {
		e.distracted = true
		e.distractionStart = e.lastDetection
	}
	r := e.last
	r.AttentionScore = math.Max(minDecayScore, r.AttentionScore*decayFactor)
	r.FacingCamera = false
	r.EyeOpenness = 0
	r.TimeDistractedSeconds = int(now.Sub(e.distractionStart) / time.Second)
	e.last = r
	return r
}

func scoreFace(g Geometry) Reading {
	f := g.Face
	faceW, faceH := f.Width(), f.Height()

	eyeDistance := dist(f.RightEye, f.LeftEye)
	eyeDistanceRatio := eyeDistance / (faceW * 0.4)

	mid := Point{X: (f.RightEye.X + f.LeftEye.X) / 2, Y: (f.RightEye.Y + f.LeftEye.Y) / 2}
	// deviation of the eye-midpoint→nose vector from the downward face axis
	verticalAngle := math.Abs(math.Atan2(f.Nose.X-mid.X, f.Nose.Y-mid.Y))

	idealY := g.FrameHeight * idealTopRatio
	yOffset := math.Abs(f.TopLeft.Y - idealY)
	posture := clamp(1.0-(yOffset/g.FrameHeight)*2, 0.1, 1.0)

	eyeOpenness, mouthOpenness := defaultEyeOpenness, defaultMouthOpenness
	if fl := f.Fine; fl != nil && fl.finite() {
		left := math.Abs(fl.LeftEyeUpper.Y - fl.LeftEyeLower.Y)
		right := math.Abs(fl.RightEyeUpper.Y - fl.RightEyeLower.Y)
		eyeOpenness = clamp(((left+right)/2)/(faceH*0.05), 0, 1)
		mouthOpenness = clamp(math.Abs(fl.UpperLip.Y-fl.LowerLip.Y)/(faceH*0.1), 0, 1)
	}

	score := baselineScore
	if eyeDistanceRatio > 0.8 && verticalAngle < 0.2 && eyeOpenness > 0.7 {
		score += 0.3
	}
	if eyeDistanceRatio < 0.8 {
		score *= math.Max(0.5, eyeDistanceRatio/0.8)
	}
	if verticalAngle > 0.2 {
		score *= math.Max(0.6, 1.0-(verticalAngle-0.2)*2)
	}
	if eyeOpenness < 0.7 {
		score *= math.Max(0.3, eyeOpenness/0.7)
	}
	if mouthOpenness > 0.4 {
		score *= math.Max(0.7, 1-(mouthOpenness-0.4)*0.5)
	}
	movement := yOffset / (g.FrameHeight * idealTopRatio)
	score *= math.Max(0.7, 1-movement*0.5)

	return Reading{
		AttentionScore:        clamp(score, minFaceScore, 1.0),
		Posture:               posture,
		EyeOpenness:           eyeOpenness,
		MouthOpenness:         mouthOpenness,
		FacingCamera:          true,
		TimeDistractedSeconds: 0,
	}
}
