// Package s3 is the Amazon S3 (and S3-compatible: R2, MinIO) objectstore
// backend. Uploads go through the multipart upload manager so multi-GB
// artifacts stream from disk without being buffered.
package s3

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"redfinetl/internal/objectstore"
)

// PartSize is the multipart chunk size used for uploads.
const PartSize = 16 << 20

const contentType = "text/csv"

func init() {
	objectstore.Register("s3", func(ctx context.Context, cfg objectstore.Config) (objectstore.Store, error) {
		return New(ctx, cfg)
	})
}

// uploader is the subset of *manager.Uploader the store needs.
type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Store uploads to one bucket.
type Store struct {
	cfg objectstore.Config
	up  uploader
}

// New loads AWS configuration for the credential handle in cfg.Credentials.
//
// Static keys win over a named profile. With a custom endpoint and no region
// the region is set to "auto", which R2 expects.
func New(ctx context.Context, cfg objectstore.Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 objectstore: bucket must not be empty")
	}
	c := cfg.Credentials

	var opts []func(*awsconfig.LoadOptions) error
	region := c.Region
	if region == "" && c.Endpoint != "" {
		region = "auto"
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	switch {
	case c.AccessKeyID != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	case c.Profile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = PartSize
	})
	return &Store{cfg: cfg, up: up}, nil
}

// Put uploads localPath to bucket/prefix/key, replacing any existing object.
func (s *Store) Put(ctx context.Context, key, localPath string, meta objectstore.Meta) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("put %s: %w", s.cfg.Location(key), err)
	}
	defer f.Close()

	_, err = s.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.cfg.Key(key)),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.cfg.Location(key), err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }
