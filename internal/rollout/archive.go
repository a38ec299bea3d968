package rollout

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads a flushed rollout file somewhere durable beyond local
// disk (SPEC_FULL.md §4.2.A). Additive: it never changes the append-only,
// resume, or fork contract, which always operates on the local file.
type Archiver interface {
	Archive(localPath string) error
}

// S3Archiver uploads closed rollout files to an S3 bucket keyed by
// filename, for retention beyond the local CODEX_HOME/sessions directory.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds an S3Archiver for bucket in region. prefix is
// optional and is joined with the rollout file's base name to form the
// object key.
func NewS3Archiver(ctx context.Context, bucket, region, prefix string) (*S3Archiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("rollout: s3 bucket is required")
	}
	if region = strings.TrimSpace(region); region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("rollout: load aws config: %w", err)
	}
	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Archive uploads localPath to s3://bucket/prefix/<basename>.
func (a *S3Archiver) Archive(localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("rollout: open for archive: %w", err)
	}
	defer f.Close()

	key := path.Base(localPath)
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}
	_, err = a.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("rollout: s3 put object: %w", err)
	}
	return nil
}
