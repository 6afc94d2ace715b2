package frames

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/blinkauth/internal/autherr"
	"github.com/andresmejia3/blinkauth/internal/logger"
	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/andresmejia3/blinkauth/internal/utils"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

var (
	// ErrDeviceBusy means another session holds the camera.
	ErrDeviceBusy = errors.New("camera is in use by another session")
	// ErrStreamEnded means the capture process stopped producing frames.
	ErrStreamEnded = errors.New("camera stream ended")
)

// Source is a live camera stream.
type Source interface {
	// Ready is closed once the first frame has been decoded.
	Ready() <-chan struct{}
	// Err delivers exactly one terminal error.
	Err() <-chan error
	// Latest returns the most recent frame, or false before the first one.
	Latest() (*types.Frame, bool)
	Close() error
}

// Options configures an FFmpegSource.
type Options struct {
	Capture utils.CaptureArgs
	// LockDir holds the per-device lock files. Empty means os.TempDir().
	LockDir string
	Logger  *zap.Logger
}

// FFmpegSource reads raw RGBA frames from an ffmpeg capture process.
type FFmpegSource struct {
	width, height int
	logger        *zap.Logger

	cmd    *utils.SafeCommand
	cancel context.CancelFunc
	lock   *flock.Flock

	ready     chan struct{}
	readyOnce sync.Once
	errc      chan error
	errOnce   sync.Once
	latest    atomic.Pointer[types.Frame]
	closed    atomic.Bool
	done      chan struct{}
	now       func() time.Time
}

func newSource(width, height int, log *zap.Logger) *FFmpegSource {
	return &FFmpegSource{
		width:  width,
		height: height,
		logger: logger.OrNop(log),
		ready:  make(chan struct{}),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// OpenFFmpeg locks the device and starts capturing. Lock and start
// failures are device errors.
func OpenFFmpeg(ctx context.Context, opts Options) (*FFmpegSource, error) {
	c := opts.Capture
	if c.Width <= 0 || c.Height <= 0 {
		return nil, autherr.Device("open camera", fmt.Errorf("invalid capture size %dx%d", c.Width, c.Height))
	}
	s := newSource(c.Width, c.Height, opts.Logger)

	// 1. One session per camera
	s.lock = flock.New(LockPath(opts.LockDir, c.Device))
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, autherr.Device("lock camera", err)
	}
	if !locked {
		return nil, autherr.Device("lock camera", fmt.Errorf("%w: %s", ErrDeviceBusy, c.Device))
	}

	// 2. Start ffmpeg
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cmd = utils.NewFFmpegCaptureCmd(cctx, c)

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		s.release()
		return nil, autherr.Device("open camera", err)
	}
	if err := s.cmd.Start(); err != nil {
		s.release()
		return nil, autherr.Device("start ffmpeg", err)
	}
	s.logger.Info("camera capture started",
		zap.String("device", c.Device),
		zap.Int("width", c.Width),
		zap.Int("height", c.Height),
		zap.Bool("mirror", c.Mirror),
	)

	// 3. Pump frames until the stream ends
	go s.pump(stdout, s.cmd.Wait)
	return s, nil
}

// LockPath returns the lock file guarding device.
func LockPath(dir, device string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "blinkauth-"+lockName(device)+".lock")
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func lockName(device string) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(device, "_"), "_")
	if name == "" {
		return "default"
	}
	return name
}

func (s *FFmpegSource) Ready() <-chan struct{} { return s.ready }

func (s *FFmpegSource) Err() <-chan error { return s.errc }

func (s *FFmpegSource) Latest() (*types.Frame, bool) {
	f := s.latest.Load()
	return f, f != nil
}

// pump reads fixed-size frames from r until it fails, then reports why.
func (s *FFmpegSource) pump(r io.Reader, wait func() error) {
	defer close(s.done)

	readErr := ReadFrames(r, s.width, s.height, s.now, func(f *types.Frame) {
		s.latest.Store(f)
		s.readyOnce.Do(func() { close(s.ready) })
	})

	var waitErr error
	if wait != nil {
		waitErr = wait()
	}
	if s.closed.Load() {
		return
	}

	cause := ErrStreamEnded
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		cause = fmt.Errorf("%w: %v", ErrStreamEnded, readErr)
	}
	if waitErr != nil {
		cause = fmt.Errorf("%w: ffmpeg: %v", cause, waitErr)
	}
	if s.cmd != nil {
		if logs := strings.TrimSpace(s.cmd.Stderr.String()); logs != "" {
			cause = fmt.Errorf("%w (%s)", cause, lastLine(logs))
		}
	}
	s.fail(autherr.Device("camera stream", cause))
}

func (s *FFmpegSource) fail(err error) {
	s.errOnce.Do(func() {
		s.logger.Error("camera failed", zap.Error(err))
		s.errc <- err
	})
}

// ReadFrames splits r into width x height RGBA frames and hands each one to
// emit. Every frame gets its own buffer. It returns io.EOF on a clean end.
func ReadFrames(r io.Reader, width, height int, now func() time.Time, emit func(*types.Frame)) error {
	size := width * height * 4
	if size <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("truncated frame: %w", err)
			}
			return err
		}
		emit(&types.Frame{Pix: buf, Width: width, Height: height, Timestamp: now()})
	}
}

// Close stops ffmpeg and releases the device lock.
func (s *FFmpegSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil {
		<-s.done
	}
	return s.release()
}

func (s *FFmpegSource) release() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
