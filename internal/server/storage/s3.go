package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/dsslabs/docservice/internal/common"
	"github.com/dsslabs/docservice/internal/logging"
	sc "github.com/dsslabs/docservice/internal/server/config"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}

	headBucket = func(c *s3.Client, ctx context.Context, in *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
		return c.HeadBucket(ctx, in)
	}
	createBucket = func(c *s3.Client, ctx context.Context, in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
		return c.CreateBucket(ctx, in)
	}
	deleteObject = func(c *s3.Client, ctx context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
		return c.DeleteObject(ctx, in)
	}
	listObjectsV2 = func(c *s3.Client, ctx context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
		return c.ListObjectsV2(ctx, in)
	}
)

// S3Store implements Store over an S3-compatible backend (MinIO in
// development).
type S3Store struct {
	config *sc.Config
	logger logging.Logger
	now    func() time.Time
}

func NewS3Store(config *sc.Config, logger logging.Logger) *S3Store {
	return &S3Store{
		config: config,
		logger: logger.With("module", "storage"),
		now:    time.Now,
	}
}

func (s *S3Store) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3AccessKey,
			s.config.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return client, nil
}

// ensureBucket creates the target bucket if absent. Safe to call on every
// grant: a bucket that already exists (owned or not) is not an error.
func (s *S3Store) ensureBucket(ctx context.Context, client *s3.Client) error {
	bucket := s.config.S3Bucket

	if _, err := headBucket(client, ctx, &s3.HeadBucketInput{Bucket: &bucket}); err == nil {
		return nil
	}

	_, err := createBucket(client, ctx, &s3.CreateBucketInput{Bucket: &bucket})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", bucket, err)
	}

	s.logger.Info(ctx, "bucket created", "bucket", bucket)
	return nil
}

// IssueUploadGrant implements Store. The grant is a presigned PUT scoped to
// the intent's object key, valid from now for the policy TTL (config default
// when policy is nil).
func (s *S3Store) IssueUploadGrant(ctx context.Context, correlationID uuid.UUID, fileName string, policy *GrantPolicy) (*AccessGrant, error) {
	if s.config.S3AccessKey == "" || s.config.S3SecretKey == "" {
		return nil, common.ErrGrantUnavailable
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.ensureBucket(ctx, client); err != nil {
		return nil, err
	}

	ttl := s.config.GrantTTL
	if policy != nil && policy.TTL > 0 {
		ttl = policy.TTL
	}

	bucket := s.config.S3Bucket
	key := ObjectKey(correlationID, fileName)

	req, err := presignPutObject(newS3PresignClient(client), ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &AccessGrant{URL: req.URL, Key: key, ExpiresAt: s.now().Add(ttl)}, nil
}

// PresignDownload implements Store.
func (s *S3Store) PresignDownload(ctx context.Context, key string) (string, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.config.GrantTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}

	return req.URL, nil
}

// DeleteObject implements Store.
func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}

	bucket := s.config.S3Bucket
	if _, err := deleteObject(client, ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// ListObjects implements Store. Lists the whole bucket; pagination is left to
// the SDK's continuation token loop.
func (s *S3Store) ListObjects(ctx context.Context) ([]ObjectInfo, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := s.config.S3Bucket
	var result []ObjectInfo
	var continuation *string

	for {
		out, err := listObjectsV2(client, ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range out.Contents {
			info := ObjectInfo{URL: s.ObjectURL(aws.ToString(obj.Key))}
			info.Key = aws.ToString(obj.Key)
			info.Size = aws.ToInt64(obj.Size)
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			result = append(result, info)
		}
		if out.NextContinuationToken == nil {
			break
		}
		continuation = out.NextContinuationToken
	}

	return result, nil
}

// ObjectURL implements Store. The result carries no credential material.
func (s *S3Store) ObjectURL(key string) string {
	base := strings.TrimRight(s.config.S3BaseEndpoint, "/")
	return base + "/" + s.config.S3Bucket + "/" + key
}
