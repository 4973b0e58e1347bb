// Package s3store uploads payloads to S3-compatible object storage and
// issues presigned PUT URLs for drone imagery.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dronetm/upload-dispatcher/pkg/config"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// Scheme is the destination URL scheme handled by Store
const Scheme = "s3"

// Store wraps an S3 client and its presigner
type Store struct {
	api     *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
	logger  logger.Logger
}

// New creates a store from the S3 section of the service config
func New(cfg config.S3Config, logger logger.Logger) (*Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("S3 credentials are not configured")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		// the dispatcher owns the retry budget
		o.RetryMaxAttempts = 1
	})

	return &Store{
		api:     api,
		presign: s3.NewPresignClient(api),
		bucket:  cfg.Bucket,
		expiry:  cfg.PresignExpiry,
		logger:  logger,
	}, nil
}

// Bucket returns the default bucket
func (s *Store) Bucket() string {
	return s.bucket
}

// Put uploads one payload to an s3://bucket/key destination
func (s *Store) Put(ctx context.Context, destination string, payload models.Payload) (*models.Response, error) {
	bucket, key, err := s.parseDestination(destination)
	if err != nil {
		return nil, err
	}

	out, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload.Body),
		ContentLength: aws.Int64(int64(len(payload.Body))),
		ContentType:   aws.String(payload.MediaType()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}

	s.logger.Debug("Stored %s/%s (%d bytes)", bucket, key, len(payload.Body))
	return &models.Response{
		Destination: destination,
		StatusCode:  http.StatusOK,
		ETag:        aws.ToString(out.ETag),
	}, nil
}

// PresignPut returns presigned PUT URLs for the given keys in the default bucket
func (s *Store) PresignPut(ctx context.Context, keys []string) ([]models.PresignedUpload, error) {
	if s.bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for presigning")
	}

	uploads := make([]models.PresignedUpload, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimPrefix(key, "/")
		if key == "" {
			return nil, fmt.Errorf("empty object key")
		}
		req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.expiry))
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", key, err)
		}
		uploads = append(uploads, models.PresignedUpload{
			Key:       key,
			URL:       req.URL,
			Method:    req.Method,
			ExpiresAt: time.Now().Add(s.expiry).Unix(),
		})
	}
	return uploads, nil
}

// parseDestination splits s3://bucket/key; an empty bucket falls back to the default one
func (s *Store) parseDestination(destination string) (string, string, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", "", fmt.Errorf("invalid destination %q: %w", destination, err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("destination %q is not an s3:// URL", destination)
	}

	bucket := u.Host
	if bucket == "" {
		bucket = s.bucket
	}
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("destination %q needs both bucket and key", destination)
	}
	return bucket, key, nil
}
