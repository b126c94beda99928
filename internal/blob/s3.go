package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"imagepipeline/internal/models"
)

// S3 talks to any S3-compatible endpoint (AWS, MinIO, R2). Puts are retried
// with exponential backoff; a re-run of the same put is a harmless overwrite.
type S3 struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string

	maxRetries uint64
	baseDelay  time.Duration
}

func NewS3(ctx context.Context, cfg *models.Config) (*S3, error) {
	const op = "blob.NewS3"

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = true
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = cfg.S3Endpoint
	}

	return &S3{
		client:        client,
		bucket:        cfg.S3Bucket,
		publicBaseURL: publicBase,
		maxRetries:    3,
		baseDelay:     300 * time.Millisecond,
	}, nil
}

func (s *S3) Put(ctx context.Context, key, contentType string, data []byte) error {
	const op = "blob.Put"

	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %q: %v", op, key, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "blob.Get"

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %v", op, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading body for %q: %v", op, key, err)
	}
	return data, nil
}

func (s *S3) URL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key)
}
