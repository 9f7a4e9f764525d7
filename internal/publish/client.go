package publish

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client uploads objects to S3.
type Client interface {
	UploadBytes(ctx context.Context, bucket, key string, data []byte) error
	UploadFile(ctx context.Context, bucket, key, localPath string) error
}

// S3Client implements Client using the AWS SDK v2.
type S3Client struct {
	s3 *s3.Client
}

// NewS3Client creates a client with the given profile and region. Empty values
// fall back to the default credential chain.
func NewS3Client(ctx context.Context, profile, region string) (*S3Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Client{s3: s3.NewFromConfig(cfg)}, nil
}

// UploadBytes puts data at s3://bucket/key.
func (c *S3Client) UploadBytes(ctx context.Context, bucket, key string, data []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("uploading to s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// UploadFile puts a local file at s3://bucket/key.
func (c *S3Client) UploadFile(ctx context.Context, bucket, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("uploading file to s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
