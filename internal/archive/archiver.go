// Package archive writes completed analysis results to long-term storage
// (S3 or a local directory) for audit and export, outside the hot path.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"trading-analysis-service/internal/config"
	"trading-analysis-service/internal/models"
)

// Uploader persists one archived object.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Archiver serializes a completed job and hands it to the configured
// uploader. A nil Archiver is valid and does nothing, so callers need no
// enabled-check.
type Archiver struct {
	uploader Uploader
}

// New picks an uploader from config: S3 when a bucket is set, otherwise a
// local directory, otherwise archiving is disabled (nil archiver).
func New(ctx context.Context, cfg config.Config) (*Archiver, error) {
	if cfg.ArchiveS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Archiver{uploader: &s3Uploader{client: client, bucket: cfg.ArchiveS3Bucket}}, nil
	}
	if cfg.ArchiveDir != "" {
		return &Archiver{uploader: &localUploader{baseDir: cfg.ArchiveDir}}, nil
	}
	return nil, nil
}

// Archive uploads the job's result document as <jobID>.json.
func (a *Archiver) Archive(ctx context.Context, job models.AnalysisJob) error {
	if a == nil || job.Result == nil {
		return nil
	}
	body, err := json.MarshalIndent(archiveDoc{
		JobID:       job.ID,
		Ticker:      job.Ticker,
		Date:        job.Date,
		CompletedAt: job.CompletedAt,
		Result:      job.Result,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive doc: %w", err)
	}
	key := sanitizeKey(job.ID) + ".json"
	if err := a.uploader.Upload(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("upload archive %s: %w", key, err)
	}
	return nil
}

type archiveDoc struct {
	JobID       string                 `json:"job_id"`
	Ticker      string                 `json:"ticker"`
	Date        string                 `json:"date"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      *models.AnalysisResult `json:"result"`
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveS3Endpoint,
					HostnameImmutable: cfg.ArchiveS3PathStyle,
					SigningRegion:     cfg.ArchiveS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

type localUploader struct {
	baseDir string
}

func (u *localUploader) Upload(_ context.Context, key string, body []byte, _ string) error {
	if err := os.MkdirAll(u.baseDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	return os.WriteFile(filepath.Join(u.baseDir, key), body, 0o644)
}

func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, string(filepath.Separator), "_")
	return strings.ReplaceAll(key, "..", "_")
}
