package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/blinkauth/internal/autherr"
	"github.com/andresmejia3/blinkauth/internal/logger"
	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ContentTypeJPEG = "image/jpeg"

	// MatchedMessage is the verifier's message for a positive match.
	MatchedMessage = "Face matched"

	DefaultNamespace     = "search"
	DefaultVerifyTimeout = 10 * time.Second
)

// BlobStore writes one object. Bucket names where Put writes.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Bucket() string
}

// VerifyRequest points the verifier at an uploaded capture.
type VerifyRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// VerifyResponse is the verifier's answer. Confidence and FaceID are optional.
type VerifyResponse struct {
	Message    string     `json:"message"`
	EmployeeID flexString `json:"employeeId,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	FaceID     string     `json:"faceId,omitempty"`
}

// Verifier asks the matching service whether a stored capture is a known face.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error)
}

// Options configures a Pipeline. Zero values pick the defaults.
type Options struct {
	Namespace     string
	VerifyTimeout time.Duration
	NewID         func() string
	Logger        *zap.Logger
}

// Pipeline uploads one capture and asks the verifier about it.
type Pipeline struct {
	store         BlobStore
	verifier      Verifier
	namespace     string
	verifyTimeout time.Duration
	newID         func() string
	logger        *zap.Logger
}

func NewPipeline(store BlobStore, verifier Verifier, opts Options) *Pipeline {
	p := &Pipeline{
		store:         store,
		verifier:      verifier,
		namespace:     strings.Trim(opts.Namespace, "/"),
		verifyTimeout: opts.VerifyTimeout,
		newID:         opts.NewID,
		logger:        logger.OrNop(opts.Logger),
	}
	if p.namespace == "" {
		p.namespace = DefaultNamespace
	}
	if p.verifyTimeout <= 0 {
		p.verifyTimeout = DefaultVerifyTimeout
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p
}

// NewKey returns a fresh <namespace>/<id>.jpg object key.
func (p *Pipeline) NewKey() string {
	return fmt.Sprintf("%s/%s.jpg", p.namespace, p.newID())
}

// Upload writes blob under a new key, then verifies that same key. It never
// returns an error: failures become a StatusError result.
func (p *Pipeline) Upload(ctx context.Context, blob []byte) types.AuthenticationResult {
	key := p.NewKey()
	log := p.logger.With(zap.String("key", key))

	// 1. Store
	req := types.UploadRequest{
		Bucket:      p.store.Bucket(),
		Key:         key,
		ContentType: ContentTypeJPEG,
		Blob:        blob,
	}
	if err := p.store.Put(ctx, req.Key, req.Blob, req.ContentType); err != nil {
		log.Warn("capture upload failed", zap.Error(err))
		return failed(key, autherr.Network("put capture", err))
	}
	log.Debug("capture stored", zap.Int("bytes", len(blob)))

	// 2. Verify. A failure here leaves the stored object behind.
	vctx, cancel := context.WithTimeout(ctx, p.verifyTimeout)
	defer cancel()

	resp, err := p.verifier.Verify(vctx, VerifyRequest{Bucket: req.Bucket, Key: req.Key})
	if err != nil {
		if _, ok := autherr.KindOf(err); !ok {
			err = autherr.Network("verify capture", err)
		}
		log.Warn("verification failed", zap.Error(err))
		return failed(key, err)
	}

	return interpret(key, resp)
}

func interpret(key string, resp *VerifyResponse) types.AuthenticationResult {
	res := types.AuthenticationResult{
		Status:     types.StatusNotMatched,
		Message:    resp.Message,
		EmployeeID: string(resp.EmployeeID),
		FaceID:     resp.FaceID,
		Key:        key,
	}
	if resp.Confidence != nil {
		res.Confidence = *resp.Confidence
	}
	if resp.Message == MatchedMessage {
		res.Status = types.StatusMatched
	}
	return res
}

func failed(key string, err error) types.AuthenticationResult {
	return types.AuthenticationResult{
		Status:  types.StatusError,
		Message: autherr.Message(err),
		Key:     key,
		Err:     err,
	}
}
