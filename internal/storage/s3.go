// Package storage persists media bytes to S3-compatible object storage and
// hands back public, stable URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Config holds the bucket configuration.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	PublicURL string
}

// S3Store uploads objects to one bucket.
type S3Store struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Store builds the S3 client. Buckets with dots in their names are
// forced to path-style URLs to avoid SSL certificate issues.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not configured")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, HostnameImmutable: cfg.PathStyle}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}

	usePathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 store initialized")
	return &S3Store{client: client, cfg: cfg}, nil
}

// Upload puts the object and returns its public URL.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/") || contentType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		log.Error().Err(err).
			Str("key", key).
			Str("bucket", s.cfg.Bucket).
			Int("size", len(data)).
			Msg("Failed to upload object to S3")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	url := s.publicURL(key)
	log.Debug().Str("key", key).Str("url", url).Int("size", len(data)).Msg("Object uploaded to S3")
	return url, nil
}

// publicURL generates the stable URL for a key, honoring a custom public
// base (CDN front) when configured.
func (s *S3Store) publicURL(key string) string {
	if s.cfg.PublicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.PublicURL, "/"), s.cfg.Bucket, key)
	}

	usePathStyle := s.cfg.PathStyle || strings.Contains(s.cfg.Bucket, ".")
	endpoint := s.cfg.Endpoint

	switch {
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		if usePathStyle {
			return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.cfg.Region, s.cfg.Bucket, key)
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	case usePathStyle:
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), s.cfg.Bucket, key)
	default:
		endpointClean := strings.TrimPrefix(endpoint, "https://")
		endpointClean = strings.TrimPrefix(endpointClean, "http://")
		return fmt.Sprintf("https://%s.%s/%s", s.cfg.Bucket, endpointClean, key)
	}
}
