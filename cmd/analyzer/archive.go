package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/roastedbeans/certification-authority/internal/config"
	"github.com/roastedbeans/certification-authority/internal/detection"
)

// objectStore is the slice of the S3 API the archive needs.
type objectStore interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive stores analysis summaries in an S3 compatible bucket.
type Archive struct {
	store  objectStore
	bucket string
	prefix string
}

// NewArchive returns nil when no bucket is configured.
func NewArchive(cfg config.ArchiveConfig) *Archive {
	if cfg.Bucket == "" {
		return nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := aws.Config{Region: region}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newArchive(client, cfg.Bucket, cfg.Prefix)
}

func newArchive(store objectStore, bucket, prefix string) *Archive {
	return &Archive{store: store, bucket: bucket, prefix: prefix}
}

// EnsureBucket creates the bucket unless it already exists.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	if _, err := a.store.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err == nil {
		return nil
	}
	_, err := a.store.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Put uploads the summary as JSON and returns its object key.
func (a *Archive) Put(ctx context.Context, s *detection.Summary) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	key := reportKey(a.prefix, s.GeneratedAt)
	_, err = a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// reportKey lays reports out as prefix/YYYY/MM/DD/summary-<unix ms>.json.
func reportKey(prefix string, at time.Time) string {
	at = at.UTC()
	return path.Join(prefix, at.Format("2006/01/02"), fmt.Sprintf("summary-%d.json", at.UnixMilli()))
}
