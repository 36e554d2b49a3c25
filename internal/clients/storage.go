package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// StoredDocument is where an uploaded document ended up
type StoredDocument struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Storage keeps uploaded documents such as prescriptions
type Storage interface {
	Upload(ctx context.Context, bucket, path string, data []byte) (*StoredDocument, error)
}

// cleanObjectPath rejects empty names and keeps the path inside its bucket
func cleanObjectPath(bucket, path string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", apperrors.NewValidationError("invalid storage bucket")
	}

	clean := filepath.ToSlash(filepath.Clean("/" + path))[1:]
	if clean == "" {
		return "", apperrors.NewValidationError("invalid document path")
	}
	return clean, nil
}

// LocalStorage stores documents on the local filesystem, one directory per bucket
type LocalStorage struct {
	baseDir       string
	publicBaseURL string
}

// NewLocalStorage creates a new LocalStorage rooted at baseDir
func NewLocalStorage(baseDir, publicBaseURL string) *LocalStorage {
	return &LocalStorage{
		baseDir:       baseDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Upload writes data to baseDir/bucket/path
func (s *LocalStorage) Upload(ctx context.Context, bucket, path string, data []byte) (*StoredDocument, error) {
	clean, err := cleanObjectPath(bucket, path)

	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file := filepath.Join(s.baseDir, bucket, filepath.FromSlash(clean))

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.WriteFile(file, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}

	return &StoredDocument{
		Path: clean,
		URL:  s.publicBaseURL + "/" + bucket + "/" + clean,
	}, nil
}

// S3API is the subset of the S3 client the storage uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage stores documents as S3 objects
type S3Storage struct {
	client        S3API
	region        string
	publicBaseURL string
	logger        logger.Logger
}

// NewS3Storage creates a new S3Storage. With an empty publicBaseURL, URLs use the
// virtual-hosted S3 endpoint of region.
func NewS3Storage(client S3API, region, publicBaseURL string, logger logger.Logger) *S3Storage {
	return &S3Storage{
		client:        client,
		region:        region,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
}

// NewS3StorageFromRegion loads the default AWS credentials chain for region
func NewS3StorageFromRegion(ctx context.Context, region, publicBaseURL string, logger logger.Logger) (*S3Storage, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3Storage(s3.NewFromConfig(cfg), region, publicBaseURL, logger), nil
}

// Upload puts data at bucket/path
func (s *S3Storage) Upload(ctx context.Context, bucket, path string, data []byte) (*StoredDocument, error) {
	clean, err := cleanObjectPath(bucket, path)

	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(clean),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(http.DetectContentType(data)),
	})

	if err != nil {
		s.logger.Error("Failed to upload document", "error", err, "bucket", bucket, "path", clean)
		return nil, apperrors.NewUpstreamError("document storage is unavailable")
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, clean)
	if s.publicBaseURL != "" {
		url = s.publicBaseURL + "/" + bucket + "/" + clean
	}

	return &StoredDocument{Path: clean, URL: url}, nil
}
