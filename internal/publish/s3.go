// Package publish uploads run outputs to S3 or an S3-compatible store.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LatestDir holds a copy of the most recent outputs under the prefix.
const LatestDir = "latest"

// Uploader is satisfied by *manager.Uploader
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Options configures the S3 client
type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Publisher uploads output files for a run
type Publisher struct {
	uploader Uploader
	bucket   string
	prefix   string
}

// New builds an S3 upload manager from opts. Static credentials are used
// when both keys are set, otherwise the default AWS chain applies.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Info().
		Str("bucket", opts.Bucket).
		Str("prefix", opts.Prefix).
		Str("region", opts.Region).
		Msg("S3 publisher initialized")

	return NewWithUploader(manager.NewUploader(client), opts.Bucket, opts.Prefix), nil
}

// NewWithUploader wraps an existing uploader
func NewWithUploader(uploader Uploader, bucket, prefix string) *Publisher {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Publisher{uploader: uploader, bucket: bucket, prefix: prefix}
}

// Publish uploads each file twice: under <prefix><run id>/ and under
// <prefix>latest/. Empty paths are skipped. It returns the uploaded keys.
func (p *Publisher) Publish(ctx context.Context, runID uuid.UUID, files ...string) ([]string, error) {
	var keys []string
	for _, file := range files {
		if file == "" {
			continue
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return keys, fmt.Errorf("failed to read %s: %w", file, err)
		}

		name := filepath.Base(file)
		for _, dir := range []string{runID.String(), LatestDir} {
			key := path.Join(p.prefix+dir, name)
			_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(p.bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(data),
				ContentType: aws.String(contentType(name)),
			})
			if err != nil {
				return keys, fmt.Errorf("failed to upload %s: %w", key, err)
			}
			keys = append(keys, key)
		}
	}

	log.Info().
		Str("bucket", p.bucket).
		Str("run_id", runID.String()).
		Int("objects", len(keys)).
		Msg("Run outputs published")

	return keys, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
