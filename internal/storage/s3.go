package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/imnoob59/grokpi/internal/transport"
)

// S3Config holds the configuration for S3-backed media storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Store uploads media to an S3 bucket and returns bucket URLs. Videos
// are streamed from the upstream CDN straight into the bucket.
type S3Store struct {
	client  *s3.Client
	session *transport.SessionBuilder
	bucket  string
	region  string
	logger  *slog.Logger
}

// NewS3Store creates an S3Store for the given bucket.
func NewS3Store(cfg S3Config, session *transport.SessionBuilder, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client:  s3.NewFromConfig(awsCfg, clientOpts...),
		session: session,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		logger:  logger,
	}, nil
}

// SaveImage uploads one image payload and returns its bucket URL.
func (s *S3Store) SaveImage(ctx context.Context, unitID string, data []byte, final bool) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}

	ext := imageExt(final)
	key := fmt.Sprintf("images/%s-%s.%s", unitID, uuid.NewString()[:8], ext)
	contentType := "image/png"
	if final {
		contentType = "image/jpeg"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload image: %w", err)
	}

	return s.objectURL(key), nil
}

// SaveVideo streams a generated video from the upstream CDN into the
// bucket and returns its bucket URL.
func (s *S3Store) SaveVideo(ctx context.Context, remoteURL, token string) (string, error) {
	body, err := fetchRemote(ctx, s.session, remoteURL, token)
	if err != nil {
		return "", err
	}
	defer body.Close()

	key := fmt.Sprintf("videos/%s.mp4", uuid.NewString())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload video: %w", err)
	}

	s.logger.Info("video uploaded",
		slog.String("key", key),
	)
	return s.objectURL(key), nil
}

func (s *S3Store) objectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
