package attention

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)} }

// frontalFace is centred, framed at the ideal height, eyes fully open and mouth closed.
func frontalFace(withFine bool) Geometry {
	f := &Face{
		TopLeft:     Point{X: 220, Y: 144},
		BottomRight: Point{X: 420, Y: 384},
		RightEye:    Point{X: 280, Y: 220},
		LeftEye:     Point{X: 360, Y: 220},
		Nose:        Point{X: 320, Y: 270},
	}
	if withFine {
		f.Fine = &FineLandmarks{
			LeftEyeUpper:  Point{X: 360, Y: 214},
			LeftEyeLower:  Point{X: 360, Y: 226},
			RightEyeUpper: Point{X: 280, Y: 214},
			RightEyeLower: Point{X: 280, Y: 226},
			UpperLip:      Point{X: 320, Y: 320},
			LowerLip:      Point{X: 320, Y: 320},
		}
	}
	return Geometry{FrameWidth: 640, FrameHeight: 480, Face: f}
}

func TestEstimator_FrontalFace(t *testing.T) {
	for _, withFine := range []bool{true, false} {
		e := NewEstimator(WithClock(newClock().Now))
		r := e.Evaluate(frontalFace(withFine))

		assert.InDelta(t, 0.8, r.AttentionScore, 1e-9)
		assert.InDelta(t, 1.0, r.Posture, 1e-9)
		assert.InDelta(t, 1.0, r.EyeOpenness, 1e-9)
		assert.InDelta(t, 0.0, r.MouthOpenness, 1e-9)
		assert.True(t, r.FacingCamera)
		assert.Zero(t, r.TimeDistractedSeconds)
	}
}

func TestEstimator_HeadTurnedAway(t *testing.T) {
	g := frontalFace(true)
	// eyes collapse toward each other when the head turns
	g.Face.RightEye = Point{X: 300, Y: 220}
	g.Face.LeftEye = Point{X: 340, Y: 220}

	r := NewEstimator(WithClock(newClock().Now)).Evaluate(g)
	// ratio 0.5: no bonus, penalty max(0.5, 0.625)
	assert.InDelta(t, 0.5*0.625, r.AttentionScore, 1e-9)
}

func TestEstimator_ClosedEyesAndYawn(t *testing.T) {
	g := frontalFace(true)
	g.Face.Fine.LeftEyeLower.Y = g.Face.Fine.LeftEyeUpper.Y
	g.Face.Fine.RightEyeLower.Y = g.Face.Fine.RightEyeUpper.Y
	g.Face.Fine.LowerLip.Y = g.Face.Fine.UpperLip.Y + 24

	r := NewEstimator(WithClock(newClock().Now)).Evaluate(g)
	assert.Equal(t, 0.0, r.EyeOpenness)
	assert.Equal(t, 1.0, r.MouthOpenness)
	// 0.5 * 0.3 (eyes) * 0.7 (mouth) = 0.105, clamped to the floor
	assert.Equal(t, 0.2, r.AttentionScore)
}

func TestEstimator_PostureFromFraming(t *testing.T) {
	g := frontalFace(false)
	shift := 48.0
	g.Face.TopLeft.Y += shift
	g.Face.BottomRight.Y += shift
	g.Face.RightEye.Y += shift
	g.Face.LeftEye.Y += shift
	g.Face.Nose.Y += shift

	r := NewEstimator(WithClock(newClock().Now)).Evaluate(g)
	assert.InDelta(t, 0.8, r.Posture, 1e-9)
	assert.InDelta(t, 0.8*(1-(48.0/144.0)*0.5), r.AttentionScore, 1e-9)
}

func TestEstimator_GracePeriod(t *testing.T) {
	clock := newClock()
	e := NewEstimator(WithClock(clock.Now))
	first := e.Evaluate(frontalFace(true))

	clock.Advance(time.Second)
	r := e.Evaluate(Geometry{FrameWidth: 640, FrameHeight: 480})
	assert.Equal(t, first, r, "reading must hold during the grace period")

	clock.Advance(200 * time.Millisecond)
	r = e.Evaluate(Geometry{FrameWidth: 640, FrameHeight: 480})
	assert.False(t, r.FacingCamera)
	assert.Equal(t, 0.0, r.EyeOpenness)
	assert.InDelta(t, first.AttentionScore*0.95, r.AttentionScore, 1e-9)
	assert.Equal(t, 1, r.TimeDistractedSeconds)
}

func TestEstimator_NoFaceForSixSecondsIsDistracted(t *testing.T) {
	clock := newClock()
	e := NewEstimator(WithClock(clock.Now))
	tracker := NewTracker()

	tracker.Observe(e.Evaluate(frontalFace(true)))
	require.Equal(t, StateAttentive, tracker.State())

	var r Reading
	for elapsed := time.Duration(0); elapsed < 6*time.Second; elapsed += DefaultInterval {
		clock.Advance(DefaultInterval)
		r = e.Evaluate(Geometry{FrameWidth: 640, FrameHeight: 480})
		tracker.Observe(r)
	}

	assert.GreaterOrEqual(t, r.TimeDistractedSeconds, 5)
	assert.Equal(t, StateDistracted, tracker.State())
}

func TestEstimator_FaceReturnResetsTimer(t *testing.T) {
	clock := newClock()
	e := NewEstimator(WithClock(clock.Now))
	clock.Advance(3 * time.Second)
	r := e.Evaluate(Geometry{})
	require.Equal(t, 3, r.TimeDistractedSeconds)

	r = e.Evaluate(frontalFace(true))
	assert.Zero(t, r.TimeDistractedSeconds)
	assert.True(t, r.FacingCamera)

	clock.Advance(1500 * time.Millisecond)
	r = e.Evaluate(Geometry{})
	assert.Equal(t, 1, r.TimeDistractedSeconds)
}

func TestEstimator_MalformedGeometryIsNoFace(t *testing.T) {
	bad := []Geometry{
		{FrameWidth: 640, FrameHeight: 0, Face: frontalFace(false).Face},
		{FrameWidth: 640, FrameHeight: 480, Face: &Face{TopLeft: Point{X: 10, Y: 10}, BottomRight: Point{X: 10, Y: 50}}},
		{FrameWidth: math.NaN(), FrameHeight: 480, Face: frontalFace(false).Face},
		{FrameWidth: 640, FrameHeight: 480, Face: &Face{TopLeft: Point{X: math.Inf(1)}, BottomRight: Point{X: 1, Y: 1}}},
	}
	for i, g := range bad {
		clock := newClock()
		e := NewEstimator(WithClock(clock.Now))
		clock.Advance(2 * time.Second)
		r := e.Evaluate(g)
		assert.False(t, r.FacingCamera, "case %d", i)
		assert.Equal(t, 2, r.TimeDistractedSeconds, "case %d", i)
	}
}

func TestEstimator_BoundsUnderRandomGeometry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	coord := func() float64 {
		switch rng.Intn(10) {
		case 0:
			return math.NaN()
		case 1:
			return -1e6
		case 2:
			return 1e9
		default:
			return rng.Float64() * 2000
		}
	}
	pt := func() Point { return Point{X: coord(), Y: coord()} }

	clock := newClock()
	e := NewEstimator(WithClock(clock.Now))
	for i := 0; i < 5000; i++ {
		clock.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
		g := Geometry{FrameWidth: coord(), FrameHeight: coord()}
		if rng.Intn(4) > 0 {
			tl := pt()
			g.Face = &Face{
				TopLeft:     tl,
				BottomRight: Point{X: tl.X + rng.Float64()*500, Y: tl.Y + rng.Float64()*500},
				RightEye:    pt(),
				LeftEye:     pt(),
				Nose:        pt(),
			}
			if rng.Intn(2) == 0 {
				g.Face.Fine = &FineLandmarks{pt(), pt(), pt(), pt(), pt(), pt()}
			}
		}
		r := e.Evaluate(g)

		if r.FacingCamera {
			assert.GreaterOrEqual(t, r.AttentionScore, 0.2)
			assert.GreaterOrEqual(t, r.Posture, 0.1)
		}
		for name, v := range map[string]float64{
			"attentionScore": r.AttentionScore,
			"posture":        r.Posture,
			"eyeOpenness":    r.EyeOpenness,
			"mouthOpenness":  r.MouthOpenness,
		} {
			require.False(t, math.IsNaN(v), "%s is NaN at %d", name, i)
			require.GreaterOrEqual(t, v, 0.0, "%s at %d", name, i)
			require.LessOrEqual(t, v, 1.0, "%s at %d", name, i)
		}
		require.GreaterOrEqual(t, r.TimeDistractedSeconds, 0)
	}
}
