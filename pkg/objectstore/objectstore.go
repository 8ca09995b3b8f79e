package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes an S3-compatible bucket used for agent artifacts.
type Config struct {
	Endpoint     string        `envconfig:"S3_ENDPOINT"`
	AccessKey    string        `envconfig:"S3_ACCESS_KEY"`
	SecretKey    string        `envconfig:"S3_SECRET_KEY"`
	SessionToken string        `envconfig:"S3_SESSION_TOKEN"`
	Bucket       string        `envconfig:"S3_BUCKET" default:"data-agent-artifacts"`
	Region       string        `envconfig:"S3_REGION" default:"us-east-1"`
	Secure       bool          `envconfig:"S3_SECURE" default:"true"`
	Timeout      time.Duration `envconfig:"S3_TIMEOUT" default:"30s"`
}

// Client wraps a minio client bound to a single bucket.
type Client struct {
	mc      *minio.Client
	bucket  string
	region  string
	timeout time.Duration
}

func (c *Config) New() (*Client, error) {
	if c.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return nil, fmt.Errorf("access key and secret key are required")
	}
	if c.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, c.SessionToken),
		Secure: c.Secure,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{mc: mc, bucket: c.Bucket, region: c.Region, timeout: timeout}, nil
}

// Bucket returns the bucket all keys are resolved against.
func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put uploads data under key.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Get downloads the object stored under key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}
