package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	dverrors "github.com/randalmurphal/deusvult/pkg/deusvult/errors"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// PutObjectAPI is the subset of the S3 client the backend uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket   string
	Prefix   string // key prefix, e.g. "traces/"
	Region   string
	Endpoint string // set for MinIO and similar; enables path-style addressing
}

// S3Backend writes each batch as one JSONL object under
// <prefix><yyyy/mm/dd>/<unix nanos>-<uuid>.jsonl.
type S3Backend struct {
	client PutObjectAPI
	bucket string
	prefix string
	clock  clockz.Clock
}

// NewS3Backend creates a backend using the default AWS credential chain.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3BackendWithClient(s3.NewFromConfig(awsCfg, s3opts...), cfg.Bucket, cfg.Prefix, clockz.RealClock), nil
}

// NewS3BackendWithClient creates a backend on an existing client.
func NewS3BackendWithClient(client PutObjectAPI, bucket, prefix string, clock clockz.Clock) *S3Backend {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &S3Backend{client: client, bucket: bucket, prefix: prefix, clock: clock}
}

// Write implements Backend.
func (b *S3Backend) Write(ctx context.Context, records []observability.TraceRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode span %s: %w", rec.SpanID, err)
		}
	}

	now := b.clock.Now().UTC()
	key := fmt.Sprintf("%s%s/%d-%s.jsonl", b.prefix, now.Format("2006/01/02"), now.UnixNano(), uuid.NewString())

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return &dverrors.UnavailableError{Backend: "s3", Err: fmt.Errorf("put object %s: %w", key, err)}
	}
	return nil
}

// Close implements Backend.
func (b *S3Backend) Close() error {
	return nil
}
