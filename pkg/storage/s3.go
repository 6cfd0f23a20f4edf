package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	metaName      = "name"
	metaExpiresAt = "expires-at"
)

// S3Storage implements Storage using Amazon S3 or S3-compatible services
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(ctx context.Context, cfg *Config) (*S3Storage, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	if cfg.S3Region == "" {
		return nil, fmt.Errorf("S3 region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return &S3Storage{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

func (s *S3Storage) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Storage) storageKey(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.prefix+"/")
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// Put uploads r to S3 with the expiry recorded in object metadata
func (s *S3Storage) Put(ctx context.Context, key, name, contentType string, r io.Reader, expiresAt time.Time) (*FileInfo, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	meta := map[string]string{metaName: name}
	if !expiresAt.IsZero() {
		meta[metaExpiresAt] = expiresAt.UTC().Format(time.RFC3339)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &FileInfo{
		Key:         key,
		Name:        name,
		Size:        int64(len(body)),
		ContentType: contentType,
		Path:        s.objectKey(key),
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}, nil
}

// Get downloads a file from S3
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, *FileInfo, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isS3NotFound(err) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}

	info := s.info(key, out.Metadata, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), out.LastModified)
	return out.Body, info, nil
}

// Delete removes an object from S3
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns the objects under prefix. Expiry metadata requires a HEAD per object.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]*FileInfo, error) {
	var files []*FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			info, err := s.GetInfo(ctx, s.storageKey(aws.ToString(obj.Key)))
			if err != nil {
				continue
			}
			files = append(files, info)
		}
	}
	return files, nil
}

// GetInfo returns object metadata without downloading
func (s *S3Storage) GetInfo(ctx context.Context, key string) (*FileInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isS3NotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat S3 object: %w", err)
	}
	return s.info(key, out.Metadata, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), out.LastModified), nil
}

func (s *S3Storage) info(key string, meta map[string]string, contentType string, size int64, modified *time.Time) *FileInfo {
	info := &FileInfo{
		Key:         key,
		Name:        meta[metaName],
		Size:        size,
		ContentType: contentType,
		Path:        s.objectKey(key),
	}
	if modified != nil {
		info.CreatedAt = *modified
	}
	if raw, ok := meta[metaExpiresAt]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			info.ExpiresAt = t
		}
	}
	return info
}
