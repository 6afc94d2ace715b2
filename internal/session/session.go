// Package session runs the liveness loop: it reads camera frames on a
// ticker, feeds them through detection and the blink analyzer, and turns
// each accepted blink into one compress, upload and verify cycle.
package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/blinkauth/internal/autherr"
	"github.com/andresmejia3/blinkauth/internal/detector"
	"github.com/andresmejia3/blinkauth/internal/frames"
	"github.com/andresmejia3/blinkauth/internal/liveness"
	"github.com/andresmejia3/blinkauth/internal/logger"
	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultTickInterval = 16 * time.Millisecond

// Prompts shown to the user while the session runs.
const (
	StatusLoadingModels = "Loading face detection models..."
	StatusInitCamera    = "Initializing webcam..."
	StatusPositionFace  = "Please position your face in the frame"
	StatusBlink         = "Please blink to authenticate"
	StatusBlinkDetected = "Blink detected! Authenticating..."
	StatusProcessing    = "Processing authentication..."
)

// ErrNoFrame is reported when a capture finds no usable frame.
var ErrNoFrame = errors.New("failed to capture image from webcam")

// Observer follows the session's progress.
type Observer interface {
	Status(msg string)
	Tick(step liveness.Step)
}

// Compressor turns a captured frame into upload bytes.
type Compressor interface {
	Compress(img image.Image) ([]byte, error)
}

// Uploader stores and verifies one capture.
type Uploader interface {
	Upload(ctx context.Context, blob []byte) types.AuthenticationResult
}

// ResultSink receives the outcome of each capture cycle.
type ResultSink interface {
	Deliver(ctx context.Context, res types.AuthenticationResult)
}

// Options wires a Session. Loader, Observer, NewTicker and Logger are optional.
type Options struct {
	Source     frames.Source
	Detector   detector.FaceDetector
	Loader     detector.Loader
	Analyzer   liveness.Analyzer
	Compressor Compressor
	Uploader   Uploader
	Sink       ResultSink
	Observer   Observer
	Interval   time.Duration
	NewTicker  func(time.Duration) Ticker
	Logger     *zap.Logger
}

// Session owns one camera stream and its detection state.
type Session struct {
	id         string
	src        frames.Source
	detector   detector.FaceDetector
	loader     detector.Loader
	analyzer   liveness.Analyzer
	compressor Compressor
	uploader   Uploader
	sink       ResultSink
	observer   Observer
	interval   time.Duration
	newTicker  func(time.Duration) Ticker
	logger     *zap.Logger

	state     *liveness.State
	lastFrame *types.Frame
	gate      Gate

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	cycles    sync.WaitGroup
}

func New(opts Options) (*Session, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("session: frame source is required")
	case opts.Detector == nil:
		return nil, errors.New("session: face detector is required")
	case opts.Analyzer == nil:
		return nil, errors.New("session: analyzer is required")
	case opts.Compressor == nil:
		return nil, errors.New("session: compressor is required")
	case opts.Uploader == nil:
		return nil, errors.New("session: uploader is required")
	case opts.Sink == nil:
		return nil, errors.New("session: result sink is required")
	}

	s := &Session{
		id:         ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String(),
		src:        opts.Source,
		loader:     opts.Loader,
		analyzer:   opts.Analyzer,
		compressor: opts.Compressor,
		uploader:   opts.Uploader,
		sink:       opts.Sink,
		observer:   opts.Observer,
		interval:   opts.Interval,
		newTicker:  opts.NewTicker,
		logger:     logger.OrNop(opts.Logger),
		state:      liveness.NewState(),
		done:       make(chan struct{}),
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.interval <= 0 {
		s.interval = DefaultTickInterval
	}
	if s.newTicker == nil {
		s.newTicker = NewIntervalTicker
	}
	s.detector = detector.Guard(opts.Detector, s.logger)
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Gate exposes the capture gate.
func (s *Session) Gate() *Gate { return &s.gate }

// State returns a copy of the detection state.
func (s *Session) State() liveness.State { return *s.state }

// Run loads the models and waits for the camera concurrently, then analyzes
// one frame per tick until ctx is done, Close is called, or a terminal
// error occurs. Only terminal errors are returned.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Models and camera
	s.observer.Status(StatusLoadingModels)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s.loader != nil {
			if err := s.loader.Load(gctx); err != nil {
				return err
			}
		}
		select {
		case <-s.src.Ready():
		default:
			s.observer.Status(StatusInitCamera)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-s.src.Ready():
			return nil
		case err := <-s.src.Err():
			return err
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if _, ok := autherr.KindOf(err); !ok {
			err = autherr.ModelLoad("load face models", err)
		}
		s.logger.Error("session failed to start", zap.Error(err))
		return err
	}
	s.state.ModelsLoaded = true
	s.logger.Info("liveness session started")
	s.observer.Status(StatusPositionFace)

	// 2. Frame loop
	ticker := s.newTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case err := <-s.src.Err():
			if ctx.Err() != nil {
				// ffmpeg dies with the context.
				return nil
			}
			s.logger.Error("camera lost", zap.Error(err))
			return err
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick runs one analysis step. It reports false when the step was skipped:
// models not loaded, a capture in flight, no new valid frame, or the
// session closed. A skipped step leaves the detection state untouched.
func (s *Session) Tick(ctx context.Context) (liveness.Step, bool) {
	if !s.state.ModelsLoaded || s.gate.Busy() || s.closed.Load() {
		return liveness.Step{}, false
	}
	frame, ok := s.src.Latest()
	if !ok || !frame.Valid() || frame == s.lastFrame {
		return liveness.Step{}, false
	}
	s.lastFrame = frame

	faces, _ := s.detector.Detect(ctx, frame)
	step := s.analyzer.Analyze(s.state, frame, faces)
	if ce := s.logger.Check(zap.DebugLevel, "frame analyzed"); ce != nil {
		ce.Write(
			zap.String("faces", detector.Describe(faces)),
			zap.Float64("diff", step.Diff),
			zap.Bool("confirmed", step.Confirmed),
		)
	}
	s.observer.Tick(step)

	switch {
	case step.Event != nil:
		s.trigger(ctx, step.Event)
	case step.Confirmed:
		s.observer.Status(StatusBlink)
	default:
		s.observer.Status(StatusPositionFace)
	}
	return step, true
}

func (s *Session) trigger(ctx context.Context, ev *types.BlinkEvent) {
	log := s.logger.With(zap.Float64("diff", ev.Diff), zap.Time("at", ev.Timestamp))
	if !s.gate.TryEnter() {
		log.Debug("blink dropped, capture in flight")
		return
	}
	log.Info("blink detected")
	s.observer.Status(StatusBlinkDetected)

	// The cycle outlives session cancellation; Close discards its result.
	cctx := context.WithoutCancel(ctx)
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.gate.Exit()
		s.cycle(cctx, ev)
	}()
}

// cycle captures the current frame, compresses it, uploads it and hands
// the result to the sink.
func (s *Session) cycle(ctx context.Context, ev *types.BlinkEvent) {
	res := s.capture(ctx, ev)

	if s.closed.Load() {
		s.logger.Info("session closed, discarding result",
			zap.String("status", res.Status.String()),
			zap.String("key", res.Key),
		)
		return
	}
	s.logger.Info("authentication finished",
		zap.String("status", res.Status.String()),
		zap.String("key", res.Key),
		zap.Error(res.Err),
	)
	s.sink.Deliver(ctx, res)
}

func (s *Session) capture(ctx context.Context, ev *types.BlinkEvent) types.AuthenticationResult {
	frame, ok := s.src.Latest()
	if !ok {
		frame = ev.Frame
	}
	if !frame.Valid() {
		return errorResult(autherr.New(autherr.KindCapture, "capture frame", ErrNoFrame))
	}

	s.observer.Status(StatusProcessing)
	blob, err := s.compressor.Compress(frame.RGBA())
	if err != nil {
		if _, ok := autherr.KindOf(err); !ok {
			err = autherr.Encoding("compress capture", err)
		}
		return errorResult(err)
	}
	return s.uploader.Upload(ctx, blob)
}

func errorResult(err error) types.AuthenticationResult {
	return types.AuthenticationResult{
		Status:  types.StatusError,
		Message: autherr.Message(err),
		Err:     err,
	}
}

// Close stops the loop and the frame source. A cycle still in flight runs
// to completion but its result is dropped.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.src.Close()
	})
	return err
}

// Wait blocks until in-flight capture cycles have finished.
func (s *Session) Wait() {
	s.cycles.Wait()
}

type nopObserver struct{}

func (nopObserver) Status(string)      {}
func (nopObserver) Tick(liveness.Step) {}
