package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *lockedBuffer
}

// lockedBuffer lets the exec copier goroutine write while we read for a crash report.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps child logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	writeErrorBox(os.Stderr, context, err, s)
}

func writeErrorBox(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 BLINKAUTH ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(w, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// --- 2. Camera Capture ---

// CaptureArgs describes how ffmpeg should open the camera.
type CaptureArgs struct {
	Format    string // input format, e.g. v4l2, avfoundation, dshow
	Device    string
	Width     int
	Height    int
	FrameRate int
	Mirror    bool
}

// NewFFmpegCaptureCmd creates a camera decoder pipe.
// It configures FFmpeg to output raw RGBA frames of exactly Width x Height to Stdout.
func NewFFmpegCaptureCmd(ctx context.Context, a CaptureArgs) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", FFmpegCaptureArgs(a)...)
}

// FFmpegCaptureArgs builds the ffmpeg argument list for a capture.
func FFmpegCaptureArgs(a CaptureArgs) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if a.Format != "" {
		args = append(args, "-f", a.Format)
	}
	if a.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(a.FrameRate))
	}
	args = append(args, "-i", a.Device)

	// Force the output size so the reader can rely on fixed frame lengths,
	// even when the device ignores the requested resolution.
	filter := fmt.Sprintf("scale=%d:%d", a.Width, a.Height)
	if a.Mirror {
		filter = "hflip," + filter
	}
	args = append(args, "-vf", filter, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
	return args
}
