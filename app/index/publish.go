package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/database"
	slogctx "github.com/veqryn/slog-context"
)

// Uploader is the part of the S3 upload manager used for publishing.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Publisher copies a saved index to an S3 bucket, so that other hosts can download it.
type Publisher struct {
	uploader Uploader
	bucket   string
	prefix   string
}

func NewPublisher(ctx context.Context, cfg config.S3) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("S3 bucket name not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Publisher{
		uploader: manager.NewUploader(s3.NewFromConfig(awsCfg)),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Publish uploads both files of the index at `dir`. The docstore is uploaded last, so a consumer that
// sees a new docstore can rely on the matching vectors being in place.
func (p *Publisher) Publish(ctx context.Context, dir string) error {
	for _, name := range []string{database.VectorsFile, database.DocstoreFile} {
		if err := p.upload(ctx, filepath.Join(dir, name), objectKey(p.prefix, name)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) upload(ctx context.Context, file string, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	if _, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/vnd.sqlite3"),
	}); err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}

	slogctx.Info(ctx, "Uploaded index file", "bucket", p.bucket, "key", key)
	return nil
}

func objectKey(prefix string, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
