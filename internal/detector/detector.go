package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/andresmejia3/blinkauth/internal/autherr"
	"github.com/andresmejia3/blinkauth/internal/logger"
	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/andresmejia3/blinkauth/internal/worker"
	"go.uber.org/zap"
)

// 68-point layout eye landmarks.
const (
	leftEyeStart  = 36
	rightEyeStart = 42
	eyePoints     = 6
	minLandmarks  = rightEyeStart + eyePoints
)

// ErrNotLoaded is returned by Detect before Load succeeded.
var ErrNotLoaded = errors.New("face models not loaded")

// FaceDetector finds faces and eye landmarks in a frame.
type FaceDetector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]types.FaceObservation, error)
}

// Loader loads model assets. It is called once per session.
type Loader interface {
	Load(ctx context.Context) error
}

// WorkerDetector runs detection in a landmark worker process.
type WorkerDetector struct {
	cfg    worker.Config
	logger *zap.Logger

	mu     sync.Mutex
	lw     *worker.LandmarkWorker
	cancel context.CancelFunc
}

func NewWorkerDetector(cfg worker.Config, log *zap.Logger) *WorkerDetector {
	return &WorkerDetector{cfg: cfg, logger: logger.OrNop(log)}
}

// Load starts the worker and waits for its models. Any failure is a
// model-load error. ctx bounds the startup only: once loaded, the worker
// runs until Close.
func (d *WorkerDetector) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lw != nil {
		return nil
	}

	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	lw, err := worker.Start(life, d.cfg)
	if !stop() {
		// ctx ended during the handshake; the worker has been killed.
		if lw != nil {
			lw.Close()
		}
		cancel()
		return autherr.ModelLoad("start landmark worker", ctx.Err())
	}
	if err != nil {
		cancel()
		return autherr.ModelLoad("start landmark worker", err)
	}
	d.lw, d.cancel = lw, cancel
	d.logger.Info("landmark worker ready", zap.String("command", d.cfg.Command))
	return nil
}

// Detect sends the frame to the worker. Calls are serialized because the
// worker handles one request at a time.
func (d *WorkerDetector) Detect(ctx context.Context, frame *types.Frame) ([]types.FaceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lw == nil {
		return nil, ErrNotLoaded
	}

	faces, err := d.lw.ProcessFrame(frame)
	if err != nil {
		return nil, autherr.New(autherr.KindDetection, "process frame", err)
	}
	for i := range faces {
		faces[i].Openness = EyeOpenness(faces[i].Landmarks)
	}
	return faces, nil
}

// Close kills the worker process and reaps it.
func (d *WorkerDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.lw != nil {
		d.lw.Close()
		d.lw = nil
	}
	return nil
}

// EyeOpenness averages the vertical eyelid gaps of both eyes, in landmark
// units. Fewer than 48 landmarks yields 0.
func EyeOpenness(pts []types.Point) float64 {
	if len(pts) < minLandmarks {
		return 0
	}
	left := eyeGap(pts[leftEyeStart : leftEyeStart+eyePoints])
	right := eyeGap(pts[rightEyeStart : rightEyeStart+eyePoints])
	return (left + right) / 2
}

// eyeGap takes the six points of one eye, ordered corner, top, top, corner,
// bottom, bottom.
func eyeGap(eye []types.Point) float64 {
	a := math.Abs(eye[1].Y - eye[5].Y)
	b := math.Abs(eye[2].Y - eye[4].Y)
	return (a + b) / 2
}

// guarded turns detector errors and panics into "no face".
type guarded struct {
	inner  FaceDetector
	logger *zap.Logger
}

// Guard wraps d so that Detect never returns an error. Failures are logged
// and reported as zero faces.
func Guard(d FaceDetector, log *zap.Logger) FaceDetector {
	return &guarded{inner: d, logger: logger.OrNop(log)}
}

func (g *guarded) Detect(ctx context.Context, frame *types.Frame) (faces []types.FaceObservation, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("face detection panicked", zap.Any("panic", r))
			faces, err = nil, nil
		}
	}()

	faces, err = g.inner.Detect(ctx, frame)
	if err != nil {
		g.logger.Debug("face detection failed", zap.Error(err))
		return nil, nil
	}
	return faces, nil
}

// Describe summarizes a detection for debug logs.
func Describe(faces []types.FaceObservation) string {
	switch len(faces) {
	case 0:
		return "no face"
	case 1:
		return fmt.Sprintf("1 face (openness %.2f)", faces[0].Openness)
	default:
		return fmt.Sprintf("%d faces", len(faces))
	}
}
