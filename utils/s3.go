package utils

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive uploads restored images to a bucket.
type S3Archive struct {
	Bucket    string
	Client    ObjectPutter
	Presigner *s3.PresignClient
}

// NewS3Archive initializes the S3 client for the given region and bucket.
func NewS3Archive(ctx context.Context, region, bucket string) (*S3Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %v", err)
	}

	client := s3.NewFromConfig(cfg)
	Logger.Info("S3 Client Initialized", zap.String("bucket", bucket), zap.String("region", region))
	return &S3Archive{
		Bucket:    bucket,
		Client:    client,
		Presigner: s3.NewPresignClient(client),
	}, nil
}

// Upload stores an object and returns its key.
func (s *S3Archive) Upload(ctx context.Context, body io.Reader, objectKey, contentType string) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(objectKey),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return objectKey, nil
}

// PresignedURL returns a time-limited download link for an archived object.
func (s *S3Archive) PresignedURL(ctx context.Context, objectKey string) (string, error) {
	if s.Presigner == nil {
		return "", fmt.Errorf("presigning is not configured")
	}
	request, err := s.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(1*time.Hour))
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return request.URL, nil
}
