package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/config"
)

var _ Store = (*S3)(nil)

// S3 stores objects in an S3-compatible bucket (AWS, MinIO, R2...).
// Path-style addressing is used so custom endpoints work.
type S3 struct {
	client    *s3.Client
	bucket    string
	publicURL string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewS3(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		// The SDK's buildable client, so AWS_CA_BUNDLE and other transport
		// options from the environment can still be applied to it.
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(cfg.Timeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
		// Most S3-compatible services reject the newer default checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		timeout:   cfg.Timeout,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *S3) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *S3) Upload(ctx context.Context, owner string, body []byte, filename, contentType string) (string, error) {
	contentType, err := ResolveContentType(filename, contentType)
	if err != nil {
		return "", err
	}
	key, err := ObjectKey(s.now(), owner, filename, contentType)
	if err != nil {
		return "", err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		s.logger.Error("storage upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", apperror.Storage("upload", err)
	}

	s.logger.Debug("object uploaded", slog.String("key", key), slog.Int("bytes", len(body)))
	return s.publicURL + "/" + key, nil
}

func (s *S3) Delete(ctx context.Context, url string) error {
	key, ok := s.key(url)
	if !ok {
		return fmt.Errorf("storage: %q is not served by this bucket", url)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperror.Storage("delete", err)
	}
	return nil
}

func (s *S3) Owner(url string) (string, bool) {
	key, ok := s.key(url)
	if !ok {
		return "", false
	}
	return KeyOwner(key)
}

// key maps a public URL back to its object key.
func (s *S3) key(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.publicURL+"/")
	if !ok || key == "" || strings.ContainsAny(key, "?#") {
		return "", false
	}
	return key, true
}

// Ping checks that the bucket exists and the credentials can reach it.
func (s *S3) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperror.Storage("ping", fmt.Errorf("timed out after %s: %w", s.timeout, err))
		}
		return apperror.Storage("ping", err)
	}
	return nil
}
