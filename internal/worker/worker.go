package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/andresmejia3/blinkauth/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1

	// maxResponse bounds a single response body so a corrupt length header
	// cannot make us allocate gigabytes.
	maxResponse = 16 * 1024 * 1024
)

// ErrWorker is returned when the worker replies with an error status.
var ErrWorker = errors.New("landmark worker error")

// StartError is a failed model-load handshake. Cmd keeps the worker's
// stderr for the crash report.
type StartError struct {
	Err error
	Cmd *utils.SafeCommand
}

func (e *StartError) Error() string { return e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

// Config selects the worker executable.
type Config struct {
	Command string
	Args    []string
}

// LandmarkWorker is a long-running face/landmark model process.
type LandmarkWorker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// Start launches the worker and waits for its model-load handshake.
// A handshake failure means the models could not be loaded.
func Start(ctx context.Context, cfg Config) (*LandmarkWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Command, cfg.Args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	lw := &LandmarkWorker{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}

	// 2. Block until the worker reports its models are in memory.
	if err := lw.awaitReady(); err != nil {
		lw.Close()
		return nil, &StartError{Err: err, Cmd: py}
	}
	return lw, nil
}

func (w *LandmarkWorker) awaitReady() error {
	body, err := w.readFrame()
	if err != nil {
		return fmt.Errorf("worker exited before ready: %w", err)
	}
	return decodeStatus(body)
}

// ProcessFrame sends one RGBA frame and returns the faces the worker found.
func (w *LandmarkWorker) ProcessFrame(frame *types.Frame) ([]types.FaceObservation, error) {
	// Protocol: [Length][Width][Height][Pixels]
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[0:4], uint32(8+len(frame.Pix)))
	binary.BigEndian.PutUint32(header[4:8], uint32(frame.Width))
	binary.BigEndian.PutUint32(header[8:12], uint32(frame.Height))
	if _, err := w.Stdin.Write(header); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(frame.Pix); err != nil {
		return nil, err
	}

	body, err := w.readFrame()
	if err != nil {
		return nil, err // This is where we catch a crashed interpreter
	}
	return decodeFaces(body)
}

// readFrame reads one [Length][Body] message from the data pipe.
func (w *LandmarkWorker) readFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("invalid response length %d", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Close shuts the pipes and reaps the process.
func (w *LandmarkWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// decodeStatus handles bodies that only carry a status (the handshake).
func decodeStatus(body []byte) error {
	r := bytes.NewReader(body)
	status, err := r.ReadByte()
	if err != nil {
		return err
	}
	if status == statusOK {
		return nil
	}
	return readError(r)
}

func readError(r *bytes.Reader) error {
	var msgLen uint32
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return fmt.Errorf("%w: unreadable message", ErrWorker)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("%w: truncated message", ErrWorker)
	}
	return fmt.Errorf("%w: %s", ErrWorker, msg)
}

// decodeFaces parses [Status][NumFaces]{[Box x,y,w,h][Score][NumPoints][Points]}.
func decodeFaces(body []byte) ([]types.FaceObservation, error) {
	r := bytes.NewReader(body)
	status, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if status != statusOK {
		return nil, readError(r)
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}
	// Box, score and point count take 24 bytes per face.
	if uint64(numFaces)*24 > uint64(r.Len()) {
		return nil, fmt.Errorf("response claims %d faces, body too short", numFaces)
	}

	faces := make([]types.FaceObservation, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var head struct {
			Box   [4]float32
			Score float32
			N     uint32
		}
		if err := binary.Read(r, binary.BigEndian, &head); err != nil {
			return nil, fmt.Errorf("read face %d: %w", i, err)
		}
		// Each point is two float32s; refuse counts the body cannot hold.
		if uint64(head.N)*8 > uint64(r.Len()) {
			return nil, fmt.Errorf("face %d claims %d points, body too short", i, head.N)
		}
		pts := make([]float32, head.N*2)
		if err := binary.Read(r, binary.BigEndian, pts); err != nil {
			return nil, fmt.Errorf("read landmarks %d: %w", i, err)
		}

		face := types.FaceObservation{
			Box: types.Box{
				X: float64(head.Box[0]),
				Y: float64(head.Box[1]),
				W: float64(head.Box[2]),
				H: float64(head.Box[3]),
			},
			Score:     float64(head.Score),
			Landmarks: make([]types.Point, head.N),
		}
		for j := range face.Landmarks {
			face.Landmarks[j] = types.Point{X: float64(pts[2*j]), Y: float64(pts[2*j+1])}
		}
		faces = append(faces, face)
	}
	return faces, nil
}
