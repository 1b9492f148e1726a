package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/dreamware/depot/internal/logging"
	"github.com/dreamware/depot/internal/metrics"
)

// S3Config holds S3 connection settings.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
}

// s3API is the subset of *s3.Client the medium uses.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Medium implements Medium on an S3-compatible bucket (AWS, MinIO).
type S3Medium struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Medium creates an S3 client and makes sure the bucket exists.
func NewS3Medium(ctx context.Context, cfg S3Config) (*S3Medium, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	m := newS3Medium(client, cfg.Bucket, cfg.Prefix)
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func newS3Medium(client s3API, bucket, prefix string) *S3Medium {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Medium{client: client, bucket: bucket, prefix: prefix}
}

func (m *S3Medium) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(m.bucket),
	})
	if err == nil {
		return nil
	}

	_, createErr := m.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(m.bucket),
	})
	metrics.RecordMediumOperation("s3", "create_bucket", time.Since(start), createErr == nil)
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", m.bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", m.bucket))
	return nil
}

func (m *S3Medium) key(loc Location) string {
	return m.prefix + string(loc)
}

// Put uploads data as a single object. S3 publishes objects atomically.
func (m *S3Medium) Put(ctx context.Context, loc Location, data []byte) error {
	start := time.Now()
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.key(loc)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	metrics.RecordMediumOperation("s3", "put_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("put object %s: %w", loc, err)
	}
	logging.Debug("S3 put object", zap.String("key", m.key(loc)), zap.Int("size", len(data)))
	return nil
}

// Get downloads a whole object and checks its length.
func (m *S3Medium) Get(ctx context.Context, loc Location) ([]byte, error) {
	start := time.Now()
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(loc)),
	})
	if err != nil {
		metrics.RecordMediumOperation("s3", "get_object", time.Since(start), false)
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("get object %s: %w", loc, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get object %s: %w", loc, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err == nil && out.ContentLength != nil && int64(len(data)) != *out.ContentLength {
		err = io.ErrUnexpectedEOF
	}
	metrics.RecordMediumOperation("s3", "get_object", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", loc, err)
	}
	return data, nil
}

// Delete removes an object. S3 treats missing keys as success.
func (m *S3Medium) Delete(ctx context.Context, loc Location) error {
	start := time.Now()
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(loc)),
	})
	metrics.RecordMediumOperation("s3", "delete_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", loc, err)
	}
	return nil
}

// List pages through every object under the prefix.
func (m *S3Medium) List(ctx context.Context) ([]ObjectInfo, error) {
	start := time.Now()
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordMediumOperation("s3", "list_objects", time.Since(start), false)
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), m.prefix)
			if key == "" || strings.Contains(key, "/") {
				continue
			}
			objects = append(objects, ObjectInfo{Location: Location(key), Size: aws.ToInt64(obj.Size)})
		}
	}
	metrics.RecordMediumOperation("s3", "list_objects", time.Since(start), true)
	return objects, nil
}

// Type returns "s3".
func (m *S3Medium) Type() string { return "s3" }

// Close is a no-op for S3 media.
func (m *S3Medium) Close() error { return nil }
