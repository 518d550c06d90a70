// Package objstore implements the content-store contract over an
// S3-compatible bucket (Cloudflare R2). Conditional writes via If-Match /
// If-None-Match give the same optimistic-concurrency semantics as the
// contents-API backend; the document is zstd-compressed at rest.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/klauspost/compress/zstd"

	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint    string // e.g. https://account-id.r2.cloudflarestorage.com
	AccessKeyID string
	SecretKey   string
	BucketName  string
	Key         string // object key for the store document
}

// Client provides conditional document storage on an S3-compatible bucket.
type Client struct {
	s3     *s3.Client
	bucket string
	key    string
}

// New creates a new object-store client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretKey == "" || cfg.BucketName == "" || cfg.Key == "" {
		return nil, errors.New("objstore: all config fields are required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("objstore: load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true // Required for R2
	})

	return &Client{
		s3:     s3Client,
		bucket: cfg.BucketName,
		key:    cfg.Key,
	}, nil
}

// Get downloads and decompresses the document. The object's ETag is the
// revision identifier.
func (c *Client) Get(ctx context.Context) ([]byte, string, error) {
	result, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", store.ErrDocumentNotFound
		}
		return nil, "", fmt.Errorf("objstore: get %q: %w", c.key, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := decompress(result.Body)
	if err != nil {
		return nil, "", fmt.Errorf("objstore: decompress %q: %w", c.key, err)
	}

	return data, trimETag(result.ETag), nil
}

// Put compresses and uploads a new revision. A non-empty sha becomes an
// If-Match precondition; an empty sha requires the object not to exist.
// A 412 maps to ErrPreconditionFailed.
func (c *Client) Put(ctx context.Context, data []byte, sha string, _ string) (string, error) {
	compressed, err := compress(data)
	if err != nil {
		return "", fmt.Errorf("objstore: compress %q: %w", c.key, err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key),
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String("application/zstd"),
	}
	if sha == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String("\"" + sha + "\"")
	}

	result, err := c.s3.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", store.ErrPreconditionFailed
		}
		return "", fmt.Errorf("objstore: put %q: %w", c.key, err)
	}

	return trimETag(result.ETag), nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	if _, err := encoder.Write(data); err != nil {
		_ = encoder.Close()
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(r io.Reader) ([]byte, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return io.ReadAll(decoder)
}

func trimETag(etag *string) string {
	if etag == nil {
		return ""
	}
	return strings.Trim(*etag, "\"")
}

// isPreconditionFailed checks if the error is a 412 Precondition Failed response.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 412 {
		return true
	}
	return strings.Contains(err.Error(), "PreconditionFailed")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}

// Compile-time check against the content-store contract.
var _ store.ContentStore = (*Client)(nil)
