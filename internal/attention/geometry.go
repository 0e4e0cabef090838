package attention

import "math"

// Point is a 2D image coordinate in pixels.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (p Point) finite() bool { return finite(p.X) && finite(p.Y) }

func dist(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }

// FineLandmarks are the optional mesh points used for eye and mouth openness.
type FineLandmarks struct {
	LeftEyeUpper  Point `json:"leftEyeUpper" yaml:"left_eye_upper"`
	LeftEyeLower  Point `json:"leftEyeLower" yaml:"left_eye_lower"`
	RightEyeUpper Point `json:"rightEyeUpper" yaml:"right_eye_upper"`
	RightEyeLower Point `json:"rightEyeLower" yaml:"right_eye_lower"`
	UpperLip      Point `json:"upperLip" yaml:"upper_lip"`
	LowerLip      Point `json:"lowerLip" yaml:"lower_lip"`
}

func (f *FineLandmarks) finite() bool {
	for _, p := range []Point{f.LeftEyeUpper, f.LeftEyeLower, f.RightEyeUpper, f.RightEyeLower, f.UpperLip, f.LowerLip} {
		if !p.finite() {
			return false
		}
	}
	return true
}

// Face is one detected face: bounding box plus the coarse eye/nose landmarks.
type Face struct {
	TopLeft     Point          `json:"topLeft" yaml:"top_left"`
	BottomRight Point          `json:"bottomRight" yaml:"bottom_right"`
	RightEye    Point          `json:"rightEye" yaml:"right_eye"`
	LeftEye     Point          `json:"leftEye" yaml:"left_eye"`
	Nose        Point          `json:"nose" yaml:"nose"`
	Fine        *FineLandmarks `json:"fine,omitempty" yaml:"fine,omitempty"`
}

func (f *Face) Width() float64  { return f.BottomRight.X - f.TopLeft.X }
func (f *Face) Height() float64 { return f.BottomRight.Y - f.TopLeft.Y }

// Geometry is the vision pipeline output for one frame. A nil Face means no face was detected.
type Geometry struct {
	FrameWidth  float64 `json:"frameWidth" yaml:"frame_width"`
	FrameHeight float64 `json:"frameHeight" yaml:"frame_height"`
	Face        *Face   `json:"face,omitempty" yaml:"face,omitempty"`
}

// usable reports whether the geometry describes a face the heuristic can score.
func (g Geometry) usable() bool {
	if g.Face == nil {
		return false
	}
	if !finite(g.FrameWidth) || !finite(g.FrameHeight) || g.FrameWidth <= 0 || g.FrameHeight <= 0 {
		return false
	}
	f := g.Face
	for _, p := range []Point{f.TopLeft, f.BottomRight, f.RightEye, f.LeftEye, f.Nose} {
		if !p.finite() {
			return false
		}
	}
	return f.Width() > 0 && f.Height() > 0
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
