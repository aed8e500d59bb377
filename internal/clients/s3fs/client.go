// Package s3fs implements the remote store on an S3-compatible bucket
// (AWS S3, Cloudflare R2, MinIO). The object ETag serves as the revision
// token and If-Match as the precondition write.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/remote"
)

// Config holds S3 backend configuration
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for R2/MinIO; empty for AWS
	AccessKeyID     string
	SecretAccessKey string
}

// Client is an S3-backed remote.Store.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// New creates an S3 store client
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:       s3Client,
		uploader: manager.NewUploader(s3Client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("client", "s3fs").Logger(),
	}, nil
}

// GetMetadata implements remote.Store
func (c *Client) GetMetadata(ctx context.Context, fileID string) (*remote.FileMeta, error) {
	head, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return nil, classify(err)
	}

	return metaFromHead(fileID, head), nil
}

// Download implements remote.Store
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return nil, classify(err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading object body: %v", remote.ErrServiceUnavailable, err)
	}

	return raw, nil
}

// Upload implements remote.Store. A non-empty expectedRevision becomes an
// If-Match header; a 412 from the service is mapped to a ConflictError
// carrying the live revision so the caller can arbitrate.
func (c *Client) Upload(ctx context.Context, fileID string, content []byte, expectedRevision string) (*remote.FileMeta, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(fileID),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	}
	if expectedRevision != "" {
		input.IfMatch = aws.String(expectedRevision)
	}

	put, err := c.s3.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return nil, c.conflictFromLive(ctx, fileID)
		}
		return nil, classify(err)
	}

	// PutObject does not return the modified time; fetch it so callers get a
	// complete FileMeta for the new revision.
	head, headErr := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fileID),
	})
	if headErr != nil {
		return &remote.FileMeta{ID: fileID, Revision: etag(put.ETag)}, nil
	}

	return metaFromHead(fileID, head), nil
}

// FindFile implements remote.Store
func (c *Client) FindFile(ctx context.Context, name, folderID string) (*remote.FileMeta, error) {
	return c.GetMetadata(ctx, objectKey(name, folderID))
}

// CreateFile implements remote.Store
func (c *Client) CreateFile(ctx context.Context, name string, content []byte, folderID string) (*remote.FileMeta, error) {
	key := objectKey(name, folderID)

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, classify(err)
	}

	return c.GetMetadata(ctx, key)
}

// GetOrCreateFolder implements remote.Store. S3 has no real folders; the
// folder id is a key prefix, materialized with a zero-byte marker so it is
// visible in bucket listings.
func (c *Client) GetOrCreateFolder(ctx context.Context, name string) (string, error) {
	prefix := strings.TrimSuffix(name, "/") + "/"

	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(prefix),
	})
	if err == nil {
		return prefix, nil
	}
	if !errors.Is(classify(err), remote.ErrNotFound) {
		return "", classify(err)
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(prefix),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", classify(err)
	}

	c.log.Info().Str("prefix", prefix).Msg("Folder marker created")

	return prefix, nil
}

// conflictFromLive reads the live object state after a 412 so the conflict
// carries the revision and modified time needed for arbitration.
func (c *Client) conflictFromLive(ctx context.Context, fileID string) error {
	head, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return &remote.ConflictError{}
	}

	ce := &remote.ConflictError{LiveRevision: etag(head.ETag)}
	if head.LastModified != nil {
		ce.ModifiedTime = *head.LastModified
	}
	return ce
}

func metaFromHead(fileID string, head *s3.HeadObjectOutput) *remote.FileMeta {
	meta := &remote.FileMeta{
		ID:       fileID,
		Name:     fileID,
		Revision: etag(head.ETag),
	}
	if head.LastModified != nil {
		meta.ModifiedTime = *head.LastModified
	}
	if head.ContentLength != nil {
		meta.Size = *head.ContentLength
	}
	return meta
}

func objectKey(name, folderID string) string {
	if folderID == "" {
		return name
	}
	return strings.TrimSuffix(folderID, "/") + "/" + name
}

// etag strips the surrounding quotes S3 puts on ETag values.
func etag(v *string) string {
	if v == nil {
		return ""
	}
	return strings.Trim(*v, `"`)
}

func isPreconditionFailed(err error) bool {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusPreconditionFailed {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

// classify maps SDK failures onto the remote error taxonomy.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", remote.ErrNotFound, err)
		case "ExpiredToken", "InvalidAccessKeyId", "SignatureDoesNotMatch", "TokenRefreshRequired":
			return fmt.Errorf("%w: %v", remote.ErrAuthExpired, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return fmt.Errorf("%w: %v", remote.ErrServiceUnavailable, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() == http.StatusNotFound:
			return fmt.Errorf("%w: %v", remote.ErrNotFound, err)
		case respErr.HTTPStatusCode() == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", remote.ErrAuthExpired, err)
		case respErr.HTTPStatusCode() >= 500, respErr.HTTPStatusCode() == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", remote.ErrServiceUnavailable, err)
		}
		return err
	}

	// Connection-level failures (DNS, timeouts) have no HTTP response.
	if err != nil && !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", remote.ErrServiceUnavailable, err)
	}

	return err
}
