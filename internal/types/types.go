package types

import (
	"image"
	"time"
)

// Frame is a single RGBA frame pulled from the camera.
// Pix is tightly packed: Stride is always Width*4.
type Frame struct {
	Pix       []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Valid reports whether the frame carries enough pixels to be analyzed.
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	return len(f.Pix) >= f.Width*f.Height*4
}

// RGBA wraps the pixel buffer without copying it.
func (f *Frame) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Point is a landmark position in detector coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a face bounding box: origin plus size.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FaceObservation is one face found in one frame. Openness is derived from
// the eye landmarks by the detector.
type FaceObservation struct {
	Box       Box     `json:"box"`
	Score     float64 `json:"score"`
	Landmarks []Point `json:"landmarks"`
	Openness  float64 `json:"openness"`
}

// BlinkEvent is the trigger for a capture cycle.
type BlinkEvent struct {
	Timestamp time.Time
	Frame     *Frame
	Diff      float64
}

// UploadRequest describes one blob write. It lives for a single cycle.
type UploadRequest struct {
	Bucket      string
	Key         string
	ContentType string
	Blob        []byte
}

// AuthStatus is the outcome class of an authentication attempt.
type AuthStatus int

const (
	StatusError AuthStatus = iota
	StatusMatched
	StatusNotMatched
)

func (s AuthStatus) String() string {
	switch s {
	case StatusMatched:
		return "matched"
	case StatusNotMatched:
		return "not_matched"
	default:
		return "error"
	}
}

// AuthenticationResult is what the verification service decided, or why
// the cycle never got an answer.
type AuthenticationResult struct {
	Status     AuthStatus
	Message    string
	EmployeeID string
	Confidence float64
	FaceID     string
	Key        string
	Err        error
}
