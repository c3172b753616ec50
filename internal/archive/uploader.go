// Package archive copies provider store files to S3.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type bucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Uploader archives store files under s3://<bucket>/<prefix>/<provider>/<uuidv7>.db.
type Uploader struct {
	cfg      ingest.ArchiveConfig
	uploader objectUploader
	buckets  bucketAPI
	logger   *zap.SugaredLogger
	newID    func() (uuid.UUID, error)
}

// Result describes one archived store.
type Result struct {
	Provider string
	Bucket   string
	Key      string
	Location string
	Bytes    int64
}

// URI returns the s3:// address of the archived object.
func (r *Result) URI() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
}

// NewUploader builds an S3-backed uploader from the default AWS config chain.
// Static credentials from AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY take
// precedence when set.
func NewUploader(ctx context.Context, cfg ingest.ArchiveConfig) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, ingest.NewIngestError(ingest.ErrorTypeConfig, ingest.ErrCodeArchiveFailed, "archive bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	if envKey := os.Getenv("AWS_ACCESS_KEY_ID"); envKey != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(envKey, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	up := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
	})
	return newUploader(cfg, up, client), nil
}

func newUploader(cfg ingest.ArchiveConfig, up objectUploader, buckets bucketAPI) *Uploader {
	return &Uploader{
		cfg:      cfg,
		uploader: up,
		buckets:  buckets,
		logger:   zap.S().Named("archive"),
		newID:    uuid.NewV7,
	}
}

// SetLogger replaces the uploader logger.
func (u *Uploader) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		u.logger = logger
	}
}

// ObjectKey returns a fresh key for provider's store.
func (u *Uploader) ObjectKey(provider string) (string, error) {
	id, err := u.newID()
	if err != nil {
		return "", err
	}
	return path.Join(strings.Trim(u.cfg.Prefix, "/"), provider, id.String()+".db"), nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	if u.buckets == nil {
		return nil
	}
	if _, err := u.buckets.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.cfg.Bucket)}); err == nil {
		return nil
	}
	_, err := u.buckets.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(u.cfg.Bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
	}
	return ingest.NewStorageError(ingest.ErrCodeArchiveFailed, "create bucket", err).WithDetail("bucket", u.cfg.Bucket)
}

// UploadStore copies the store file at storePath for provider.
func (u *Uploader) UploadStore(ctx context.Context, provider, storePath string) (*Result, error) {
	f, err := os.Open(storePath)
	if err != nil {
		return nil, ingest.NewStorageError(ingest.ErrCodeArchiveFailed, "open store", err).WithDetail("path", storePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ingest.NewStorageError(ingest.ErrCodeArchiveFailed, "stat store", err).WithDetail("path", storePath)
	}

	key, err := u.ObjectKey(provider)
	if err != nil {
		return nil, ingest.NewInternalError("generate object key", err)
	}

	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{"provider": provider},
	})
	if err != nil {
		return nil, classify(err).WithDetail("bucket", u.cfg.Bucket).WithDetail("key", key)
	}

	res := &Result{Provider: provider, Bucket: u.cfg.Bucket, Key: key, Bytes: info.Size()}
	if out != nil {
		res.Location = out.Location
	}
	u.logger.Infow("store archived", "provider", provider, "uri", res.URI(), "bytes", res.Bytes)
	return res, nil
}

// UploadAll archives every provider store in paths; failures are joined.
func (u *Uploader) UploadAll(ctx context.Context, paths map[string]string) ([]*Result, error) {
	var (
		out  []*Result
		errs []error
	)
	for provider, p := range paths {
		res, err := u.UploadStore(ctx, provider, p)
		if err != nil {
			u.logger.Warnw("store archive failed", "provider", provider, "err", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

func classify(err error) *ingest.IngestError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return ingest.NewStorageError(ingest.ErrCodeArchiveFailed,
			fmt.Sprintf("s3 rejected upload: %s", apiErr.ErrorCode()), err).
			WithDetail("aws_code", apiErr.ErrorCode()).
			WithDetail("fault", apiErr.ErrorFault().String())
	}
	return ingest.NewStorageError(ingest.ErrCodeArchiveFailed, "s3 upload failed", err)
}
