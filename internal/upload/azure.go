package upload

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/andresmejia3/blinkauth/internal/logger"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 3
	DefaultTryTimeout = 5 * time.Second
)

// AzureConfig holds the storage account settings.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	ServiceURL  string
	MaxRetries  int32 // 0 picks DefaultMaxRetries, negative disables retries
	TryTimeout  time.Duration
}

// URL returns the blob service endpoint, defaulting to the public cloud.
func (c AzureConfig) URL() string {
	if c.ServiceURL != "" {
		return c.ServiceURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
}

// AzureStore writes captures to one Azure Blob Storage container.
// Transport retries are handled by the SDK pipeline.
type AzureStore struct {
	client    *azblob.Client
	container string
	logger    *zap.Logger
}

func NewAzureStore(cfg AzureConfig, log *zap.Logger) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure shared key credential: %w", err)
	}

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	tryTimeout := cfg.TryTimeout
	if tryTimeout == 0 {
		tryTimeout = DefaultTryTimeout
	}

	client, err := azblob.NewClientWithSharedKeyCredential(cfg.URL(), credential, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: retries,
				TryTimeout: tryTimeout,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}

	return &AzureStore{client: client, container: cfg.Container, logger: logger.OrNop(log)}, nil
}

func (s *AzureStore) Bucket() string { return s.container }

// Put uploads body as a block blob with the given content type.
func (s *AzureStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.UploadBuffer(ctx, s.container, key, body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.container, key, err)
	}
	return nil
}

// EnsureContainer creates the container if it does not exist yet.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err == nil {
		s.logger.Info("created blob container", zap.String("container", s.container))
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return fmt.Errorf("create container %s: %w", s.container, err)
}

// Get downloads a blob and its content type.
func (s *AzureStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download %s/%s: %w", s.container, key, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, "", err
	}
	var contentType string
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return buf.Bytes(), contentType, nil
}
