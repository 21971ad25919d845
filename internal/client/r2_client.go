package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clipforge/api/internal/config"
)

// signedURLExpiry applies when the bucket has no public URL.
const signedURLExpiry = 24 * time.Hour

var ErrStorageNotConfigured = errors.New("R2 configuration incomplete")

// StorageClient stores published artifacts and hands out URLs for them.
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// R2Client talks to Cloudflare R2, or any S3-compatible store when an
// endpoint override is configured.
type R2Client struct {
	s3        *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

func NewR2Client(cfg *config.R2Config) (*R2Client, error) {
	endpoint, err := r2Endpoint(cfg)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.Endpoint != ""
	})
	return &R2Client{
		s3:        api,
		presigner: s3.NewPresignClient(api),
		bucket:    cfg.BucketName,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func r2Endpoint(cfg *config.R2Config) (string, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return "", ErrStorageNotConfigured
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/"), nil
	}
	if cfg.AccountID == "" {
		return "", ErrStorageNotConfigured
	}
	return "https://" + cfg.AccountID + ".r2.cloudflarestorage.com", nil
}

// Upload stores body under key. A negative size leaves the length unset.
func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// URL returns the CDN URL for key, or a presigned GET when the bucket is
// private.
func (c *R2Client) URL(ctx context.Context, key string) (string, error) {
	if c.publicURL != "" {
		return c.publicURL + "/" + key, nil
	}
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(signedURLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

var _ StorageClient = (*R2Client)(nil)
