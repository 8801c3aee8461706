// Package upload publishes restored images and run summaries to an S3
// compatible bucket.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// SummaryName is the object name of the run summary.
const SummaryName = "summary.json"

var (
	// ErrInvalidURI is returned for destinations that are not s3://bucket[/prefix].
	ErrInvalidURI = errors.New("upload: destination must be s3://bucket[/prefix]")
	// ErrAccessDenied is returned when the bucket rejects the credentials.
	ErrAccessDenied = errors.New("upload: access denied")
	// ErrBucketNotFound is returned when the bucket does not exist.
	ErrBucketNotFound = errors.New("upload: bucket not found")
)

// Config describes the destination and how to reach it.
type Config struct {
	URI          string
	Region       string
	Endpoint     string
	UsePathStyle bool
	// Static credentials; when empty the default AWS chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// ParseURI splits s3://bucket/prefix into its parts. The prefix has no
// leading or trailing slash.
func ParseURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// client is the subset of S3 the publisher needs.
type client interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type s3Client struct {
	client *s3.Client
	bucket string
}

func newS3Client(ctx context.Context, cfg Config, bucket string) (*s3Client, error) {
	var awsOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		awsOpts = append(awsOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		})
	}
	return &s3Client{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: bucket}, nil
}

func (c *s3Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.client.PutObject(ctx, input); err != nil {
		return wrapError(err)
	}
	return nil
}

// wrapError maps well-known API error codes to sentinels, keeping the
// original error in the chain.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.Join(ErrAccessDenied, err)
		case "NoSuchBucket":
			return errors.Join(ErrBucketNotFound, err)
		}
	}
	return err
}

// Bucket writes objects under one prefix. It implements evaluate.Publisher.
type Bucket struct {
	client client
	prefix string
}

// New connects to the destination named by cfg.URI.
func New(ctx context.Context, cfg Config) (*Bucket, error) {
	bucket, prefix, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}
	c, err := newS3Client(ctx, cfg, bucket)
	if err != nil {
		return nil, fmt.Errorf("upload: load aws config: %w", err)
	}
	return &Bucket{client: c, prefix: prefix}, nil
}

// WithPrefix returns a Bucket writing under prefix/sub.
func (b *Bucket) WithPrefix(sub string) *Bucket {
	return &Bucket{client: b.client, prefix: b.Key(sub)}
}

// Key returns the object key for name.
func (b *Bucket) Key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// Publish uploads one restored PNG.
func (b *Bucket) Publish(ctx context.Context, name string, png []byte) error {
	return b.client.PutObject(ctx, b.Key(name), png, "image/png")
}

// PublishJSON uploads v encoded as indented JSON.
func (b *Bucket) PublishJSON(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return b.client.PutObject(ctx, b.Key(name), data, "application/json")
}
