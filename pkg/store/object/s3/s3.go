// Package s3 implements the object store port over Amazon S3 or any
// S3-compatible endpoint (MinIO, localstack).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/store/object"
)

// Store implements object.Store using an S3 bucket.
//
// Thread safety: the AWS client is safe for concurrent use; Store carries
// no mutable state of its own.
type Store struct {
	client *s3.Client
	bucket string

	retry   retryConfig
	metrics object.Metrics
}

// retryConfig holds retry settings for S3 operations.
type retryConfig struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Config contains configuration for the S3 object store.
type Config struct {
	// Endpoint overrides the AWS endpoint; leave empty for real S3.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// Bucket must already exist; the store does not create it.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// ForcePathStyle is required by MinIO and most S3 emulators.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// MaxRetries caps retry attempts for transient errors (default: 3).
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff bounds the exponential backoff (default: 2s).
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`

	// Metrics is an optional metrics collector.
	Metrics object.Metrics `mapstructure:"-" yaml:"-"`
}

// NewClient creates an S3 client from configuration parameters.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return client, nil
}

// New creates a new S3-backed object store and verifies bucket access with
// a HeadBucket call. The bucket must already exist.
func New(ctx context.Context, client *s3.Client, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 2 * time.Second
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		metrics: cfg.Metrics,
		retry: retryConfig{
			maxRetries:        maxRetries,
			initialBackoff:    initialBackoff,
			maxBackoff:        maxBackoff,
			backoffMultiplier: 2.0,
		},
	}, nil
}

func (s *Store) Bucket() string {
	return s.bucket
}

// Put uploads an object, retrying transient failures. The reader must be
// an io.ReadSeeker for retries to rewind; the orchestrator always passes a
// bytes.Reader.
func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (err error) {
	start := time.Now()
	defer func() { s.observe("PutObject", start, err) }()

	seeker, _ := r.(io.ReadSeeker)

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			if seeker == nil {
				break
			}
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return fmt.Errorf("failed to rewind body for retry: %w", serr)
			}
			if werr := s.waitBackoff(ctx, attempt-1); werr != nil {
				return werr
			}
		}

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          r,
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(size),
		})
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordBytes("put", size)
			}
			return nil
		}
		if !isRetryableError(err) {
			break
		}
		logger.Debug("s3 put: transient error", "attempt", attempt+1, "key", key, "error", err)
	}

	return fmt.Errorf("failed to put object %q after retries: %w", key, err)
}

func (s *Store) Get(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { s.observe("GetObject", start, err) }()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	return out.Body, nil
}

func (s *Store) Exists(ctx context.Context, key string) (ok bool, err error) {
	start := time.Now()
	defer func() { s.observe("HeadObject", start, err) }()

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) (keys []string, err error) {
	start := time.Now()
	defer func() { s.observe("ListObjectsV2", start, err) }()

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		page, perr := paginator.NextPage(ctx)
		if perr != nil {
			return nil, fmt.Errorf("failed to list objects: %w", perr)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { s.observe("DeleteObject", start, err) }()

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			if werr := s.waitBackoff(ctx, attempt-1); werr != nil {
				return werr
			}
		}
		_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil || !isRetryableError(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, time.Since(start).Seconds(), err)
	}
}

func (s *Store) waitBackoff(ctx context.Context, attempt int) error {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(backoff)):
		return nil
	}
}

// isNotFound detects missing-key responses across S3 implementations.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// isRetryableError reports whether the error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Network timeouts are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown":
			return true
		case "InternalError", "ServiceUnavailable":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest":
			return false
		}
	}

	return false
}

// Compile-time interface check
var _ object.Store = (*Store)(nil)
