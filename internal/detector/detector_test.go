package detector

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/blinkauth/internal/autherr"
	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/andresmejia3/blinkauth/internal/worker"
)

type pipe struct{ *bytes.Buffer }

func (p *pipe) Close() error { return nil }

// landmarks68 builds a 68-point face whose eyelids are gap apart.
func landmarks68(gap float64) []types.Point {
	pts := make([]types.Point, 68)
	for _, start := range []int{leftEyeStart, rightEyeStart} {
		pts[start+1] = types.Point{X: 1, Y: 10}
		pts[start+2] = types.Point{X: 2, Y: 10}
		pts[start+4] = types.Point{X: 2, Y: 10 + gap}
		pts[start+5] = types.Point{X: 1, Y: 10 + gap}
	}
	return pts
}

func TestEyeOpenness(t *testing.T) {
	tests := []struct {
		name string
		pts  []types.Point
		want float64
	}{
		{"open", landmarks68(0.5), 0.5},
		{"closed", landmarks68(0), 0},
		{"too few points", make([]types.Point, 47), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EyeOpenness(tt.pts); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EyeOpenness() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEyeOpenness_Asymmetric(t *testing.T) {
	pts := landmarks68(0.4)
	// Close the right eye completely.
	for i := rightEyeStart; i < rightEyeStart+eyePoints; i++ {
		pts[i].Y = 10
	}
	if got := EyeOpenness(pts); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("EyeOpenness() = %v, want 0.2", got)
	}
}

type fakeDetector struct {
	faces []types.FaceObservation
	err   error
	panic bool
}

func (f *fakeDetector) Detect(ctx context.Context, frame *types.Frame) ([]types.FaceObservation, error) {
	if f.panic {
		panic("model exploded")
	}
	return f.faces, f.err
}

func TestGuard(t *testing.T) {
	frame := &types.Frame{Pix: make([]byte, 4), Width: 1, Height: 1}
	one := []types.FaceObservation{{Openness: 0.3}}

	tests := []struct {
		name  string
		inner *fakeDetector
		want  int
	}{
		{"passes faces through", &fakeDetector{faces: one}, 1},
		{"error becomes no face", &fakeDetector{faces: one, err: errors.New("boom")}, 0},
		{"panic becomes no face", &fakeDetector{panic: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faces, err := Guard(tt.inner, nil).Detect(context.Background(), frame)
			if err != nil {
				t.Fatalf("guarded detector returned error: %v", err)
			}
			if len(faces) != tt.want {
				t.Errorf("got %d faces, want %d", len(faces), tt.want)
			}
		})
	}
}

func TestWorkerDetector_NotLoaded(t *testing.T) {
	d := NewWorkerDetector(worker.Config{Command: "python3"}, nil)
	_, err := d.Detect(context.Background(), &types.Frame{Pix: make([]byte, 4), Width: 1, Height: 1})
	if !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
}

func TestWorkerDetector_LoadFailureIsModelLoad(t *testing.T) {
	d := NewWorkerDetector(worker.Config{Command: "/nonexistent/blinkauth-worker"}, nil)
	err := d.Load(context.Background())
	if err == nil {
		t.Fatal("expected load error")
	}
	if !autherr.IsTerminal(err) {
		t.Errorf("load failure must be terminal, got %v", err)
	}
	if k, _ := autherr.KindOf(err); k != autherr.KindModelLoad {
		t.Errorf("kind = %v, want model_load", k)
	}
}

func TestWorkerDetector_LoadDeadlineKillsWorker(t *testing.T) {
	// sleep never answers the handshake.
	d := NewWorkerDetector(worker.Config{Command: "sleep", Args: []string{"30"}}, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := d.Load(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Load = %v, want deadline exceeded", err)
	}
	if k, _ := autherr.KindOf(err); k != autherr.KindModelLoad {
		t.Errorf("kind = %v, want model_load", k)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Load waited for the worker instead of killing it")
	}
	if _, err := d.Detect(context.Background(), &types.Frame{Pix: make([]byte, 4), Width: 1, Height: 1}); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Detect after a timed-out load = %v, want ErrNotLoaded", err)
	}
}

func TestWorkerDetector_FillsOpenness(t *testing.T) {
	pts := landmarks68(0.5)

	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(1))
	binary.Write(payload, binary.BigEndian, [4]float32{0, 0, 50, 50})
	binary.Write(payload, binary.BigEndian, float32(0.9))
	binary.Write(payload, binary.BigEndian, uint32(len(pts)))
	for _, p := range pts {
		binary.Write(payload, binary.BigEndian, [2]float32{float32(p.X), float32(p.Y)})
	}
	data := &pipe{new(bytes.Buffer)}
	binary.Write(data, binary.BigEndian, uint32(payload.Len()))
	data.Write(payload.Bytes())

	d := NewWorkerDetector(worker.Config{}, nil)
	d.lw = &worker.LandmarkWorker{Stdin: &pipe{new(bytes.Buffer)}, DataPipe: data}

	faces, err := d.Detect(context.Background(), &types.Frame{Pix: make([]byte, 4), Width: 1, Height: 1})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if math.Abs(faces[0].Openness-0.5) > 1e-6 {
		t.Errorf("openness = %v, want 0.5", faces[0].Openness)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(nil); got != "no face" {
		t.Errorf("Describe(nil) = %q", got)
	}
	if got := Describe(make([]types.FaceObservation, 3)); got != "3 faces" {
		t.Errorf("Describe(3) = %q", got)
	}
}
