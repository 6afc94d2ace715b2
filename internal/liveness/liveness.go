// Package liveness decides, frame by frame, whether a present face blinked.
//
// The heuristic has two halves. Presence: a frame counts when it holds
// exactly one face whose eyes are open past a threshold, and a face is
// confirmed once enough such frames arrive in a row. Blink: the mean pixel
// difference inside the eye region between consecutive frames exceeds a
// threshold, at most once per cooldown window.
package liveness

import (
	"fmt"
	"time"

	"github.com/andresmejia3/blinkauth/internal/types"
)

// Phase is where the analyzer is in the acquire/confirm/blink cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFaceAcquiring
	PhaseFaceConfirmed
	PhaseBlinkPending
	PhaseBlinkDetected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFaceAcquiring:
		return "face_acquiring"
	case PhaseFaceConfirmed:
		return "face_confirmed"
	case PhaseBlinkPending:
		return "blink_pending"
	case PhaseBlinkDetected:
		return "blink_detected"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Region is a rectangle given as fractions of the frame size.
type Region struct {
	X, Y, W, H float64
}

// Config holds the heuristic's tunables.
type Config struct {
	OpennessThreshold       float64
	ConfirmFrames           int
	DiffThreshold           float64
	Cooldown                time.Duration
	EyeRegion               Region
	RequireFaceConfirmation bool
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		OpennessThreshold:       0.2,
		ConfirmFrames:           5,
		DiffThreshold:           30,
		Cooldown:                time.Second,
		EyeRegion:               Region{X: 0.3, Y: 0.3, W: 0.4, H: 0.2},
		RequireFaceConfirmation: true,
	}
}

// State is the per-session detection state. It is owned by one goroutine.
type State struct {
	FaceDetected          bool
	ConsecutiveFaceFrames int
	LastBlink             time.Time
	ModelsLoaded          bool
	Phase                 Phase

	prev *types.Frame
}

func NewState() *State {
	return &State{}
}

// Reset returns the state to its initial values. ModelsLoaded is kept.
func (s *State) Reset() {
	loaded := s.ModelsLoaded
	*s = State{ModelsLoaded: loaded}
}

// Step is the outcome of analyzing one frame.
type Step struct {
	Phase     Phase
	Present   bool
	Confirmed bool
	Diff      float64
	Event     *types.BlinkEvent
}

// Analyzer advances st by one frame.
type Analyzer interface {
	Analyze(st *State, frame *types.Frame, faces []types.FaceObservation) Step
}

// FrameDiff is the eye-region frame-difference analyzer.
type FrameDiff struct {
	cfg Config
}

func NewFrameDiff(cfg Config) *FrameDiff {
	return &FrameDiff{cfg: cfg}
}

// Analyze runs presence counting, then the blink test. The frame becomes
// the previous frame for the next call whatever the outcome.
func (a *FrameDiff) Analyze(st *State, frame *types.Frame, faces []types.FaceObservation) Step {
	// 1. Presence
	present := len(faces) == 1 && faces[0].Openness > a.cfg.OpennessThreshold
	st.FaceDetected = len(faces) == 1
	if present {
		st.ConsecutiveFaceFrames++
	} else {
		st.ConsecutiveFaceFrames = 0
	}
	confirmed := st.ConsecutiveFaceFrames > a.cfg.ConfirmFrames

	switch {
	case !confirmed:
		st.Phase = PhaseFaceAcquiring
	case st.Phase == PhaseFaceConfirmed || st.Phase == PhaseBlinkPending:
		st.Phase = PhaseBlinkPending
	default:
		st.Phase = PhaseFaceConfirmed
	}

	// 2. Blink test against the previous frame
	diff := RegionDiff(st.prev, frame, a.cfg.EyeRegion)
	st.prev = frame

	step := Step{Present: present, Confirmed: confirmed, Diff: diff}

	gated := confirmed || !a.cfg.RequireFaceConfirmation
	if gated && diff > a.cfg.DiffThreshold && a.cooledDown(st, frame.Timestamp) {
		st.LastBlink = frame.Timestamp
		st.ConsecutiveFaceFrames = 0
		st.Phase = PhaseBlinkDetected
		step.Event = &types.BlinkEvent{Timestamp: frame.Timestamp, Frame: frame, Diff: diff}
	}

	step.Phase = st.Phase
	return step
}

func (a *FrameDiff) cooledDown(st *State, now time.Time) bool {
	if st.LastBlink.IsZero() {
		return true
	}
	return now.Sub(st.LastBlink) >= a.cfg.Cooldown
}

// RegionDiff is the mean absolute RGB difference between prev and cur
// inside r. It is 0 when there is no comparable previous frame.
func RegionDiff(prev, cur *types.Frame, r Region) float64 {
	if !prev.Valid() || !cur.Valid() {
		return 0
	}
	if prev.Width != cur.Width || prev.Height != cur.Height {
		return 0
	}

	x0 := int(r.X * float64(cur.Width))
	y0 := int(r.Y * float64(cur.Height))
	x1 := min(x0+int(r.W*float64(cur.Width)), cur.Width)
	y1 := min(y0+int(r.H*float64(cur.Height)), cur.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}

	stride := cur.Width * 4
	var sum, n int
	for y := y0; y < y1; y++ {
		row := y * stride
		for x := x0; x < x1; x++ {
			i := row + x*4
			sum += absDiff(cur.Pix[i], prev.Pix[i])
			sum += absDiff(cur.Pix[i+1], prev.Pix[i+1])
			sum += absDiff(cur.Pix[i+2], prev.Pix[i+2])
			n++
		}
	}
	return float64(sum) / float64(3*n)
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
