// Package archive keeps an audit copy of every posted draft note in S3.
// Archival is best-effort: the pipeline's correctness never depends on it.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Archiver uploads posted notes to a bucket, one object per annotation.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver configures an S3 client with static credentials. endpoint is
// optional and supports S3-compatible stores; pathStyle is forced when the
// bucket name contains dots to avoid SSL certificate issues.
func NewS3Archiver(region, endpoint, bucket, accessKey, secretKey string, pathStyle bool) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("S3 credentials cannot be empty")
	}

	cfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}

	if strings.Contains(bucket, ".") {
		pathStyle = true
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	log.Info().Str("bucket", bucket).Str("region", region).Str("endpoint", endpoint).Msg("S3 archive initialized")
	return &S3Archiver{client: client, bucket: bucket}, nil
}

// StoreNote uploads the note under drafts/<ticketID>/<messageID>.txt. The key
// is deterministic per (ticket, message), so a redelivered upload overwrites
// the same object instead of duplicating it.
func (a *S3Archiver) StoreNote(ctx context.Context, ticketID, messageID int, note string) error {
	key := fmt.Sprintf("drafts/%d/%d.txt", ticketID, messageID)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(note)),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive note %s: %w", key, err)
	}

	log.Debug().Str("bucket", a.bucket).Str("key", key).Msg("Archived draft note")
	return nil
}
