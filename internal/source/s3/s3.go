// Package s3 provides an S3/MinIO bucket-prefix photo source.
package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/kioskframe/kioskframe/internal/logging"
	"github.com/kioskframe/kioskframe/internal/metrics"
	"github.com/kioskframe/kioskframe/internal/source"
)

// imageExtensions are object keys treated as photos.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".tif"}

func isImageKey(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Config holds S3 source settings.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Source lists and fetches images under a bucket prefix.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 source.
func New(ctx context.Context, cfg Config) (*S3Source, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	src := &S3Source{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}

	return src, nil
}

// List returns descriptors for every image object under the prefix.
func (s *S3Source) List(ctx context.Context) ([]source.Descriptor, error) {
	var descs []source.Descriptor

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordSourceOperation("list", false)
			return nil, fmt.Errorf("list bucket %s: %w", s.bucket, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !isImageKey(key) {
				continue
			}
			desc := source.Descriptor{
				ID:       key,
				Name:     path.Base(key),
				MimeType: mime.TypeByExtension(strings.ToLower(path.Ext(key))),
			}
			if obj.LastModified != nil {
				desc.ModifiedTime = *obj.LastModified
			}
			descs = append(descs, desc)
		}
	}

	metrics.RecordSourceOperation("list", true)
	logging.Debug("s3 prefix listed",
		zap.String("bucket", s.bucket),
		zap.String("prefix", s.prefix),
		zap.Int("objects", len(descs)))
	return descs, nil
}

// Open returns the object bytes for one key.
func (s *S3Source) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		metrics.RecordSourceOperation("open", false)
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	metrics.RecordSourceOperation("open", true)
	return result.Body, nil
}

// RemoteURL returns "". Bucket objects are not assumed public; bytes are
// served through the local image endpoint instead.
func (s *S3Source) RemoteURL(id string) string { return "" }

// Type returns "s3".
func (s *S3Source) Type() string { return "s3" }
