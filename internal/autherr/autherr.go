// Package autherr classifies the failures a liveness session can hit.
// Only device and model-load failures end a session; everything else
// aborts the current capture cycle and leaves the session armed.
package autherr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the failure class.
type Kind int

const (
	KindDevice Kind = iota + 1
	KindModelLoad
	KindDetection
	KindEncoding
	KindNetwork
	KindTimeout
	KindCapture
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindModelLoad:
		return "model_load"
	case KindDetection:
		return "detection"
	case KindEncoding:
		return "encoding"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindCapture:
		return "capture"
	default:
		return "unknown"
	}
}

// Error tags an underlying error with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. A nil err still produces an error so
// callers can signal conditions that have no underlying cause.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Device, ModelLoad, Encoding and Network are shorthands for New.
func Device(op string, err error) error    { return New(KindDevice, op, err) }
func ModelLoad(op string, err error) error { return New(KindModelLoad, op, err) }
func Encoding(op string, err error) error  { return New(KindEncoding, op, err) }

// Network wraps a transport failure, promoting it to KindTimeout when the
// cause is a deadline or a timed out net.Error.
func Network(op string, err error) error {
	return New(Classify(err), op, err)
}

// Classify picks Timeout or Network for a transport error.
func Classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTerminal reports whether err disables liveness for the rest of the session.
func IsTerminal(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindDevice || k == KindModelLoad)
}

// Message turns err into a short sentence suitable for the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	k, _ := KindOf(err)
	switch k {
	case KindDevice:
		return fmt.Sprintf("Webcam error: %s", rootCause(err))
	case KindModelLoad:
		return "Failed to initialize face detection. Please restart."
	case KindDetection:
		return "Face detection failed for this frame."
	case KindEncoding:
		return fmt.Sprintf("Image compression failed: %s", rootCause(err))
	case KindCapture:
		return "Failed to capture image from webcam"
	case KindTimeout:
		return "Authentication failed: request timed out"
	case KindNetwork:
		return fmt.Sprintf("Authentication failed: %s", rootCause(err))
	default:
		return err.Error()
	}
}

func rootCause(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
