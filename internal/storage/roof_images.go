package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStorageDisabled is returned when no roof image bucket is configured
	ErrStorageDisabled = errors.New("roof image storage is disabled")
	// ErrInvalidImage is returned for payloads that are not a base64 image
	ErrInvalidImage = errors.New("invalid roof image")
)

const maxImageBytes = 5 << 20

// PutObjectAPI is the part of the S3 client the store uses
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RoofImageStore uploads roof mapping snapshots to S3
type RoofImageStore struct {
	client PutObjectAPI
	bucket string
	logger *logrus.Entry
	now    func() time.Time
}

// NewS3Client builds an S3 client, honouring a custom S3-compatible endpoint
func NewS3Client(awsCfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// NewRoofImageStore creates a store. A nil client or empty bucket yields a
// disabled store whose uploads return ErrStorageDisabled.
func NewRoofImageStore(client PutObjectAPI, bucket string, logger *logrus.Logger) *RoofImageStore {
	return &RoofImageStore{
		client: client,
		bucket: bucket,
		logger: logger.WithField("component", "roof_images"),
		now:    time.Now,
	}
}

// Enabled reports whether uploads go anywhere
func (s *RoofImageStore) Enabled() bool {
	return s != nil && s.client != nil && s.bucket != ""
}

// Key returns the object key for a roof image
func (s *RoofImageStore) Key(partnerID, submissionID string) string {
	return fmt.Sprintf("roof/%s/%s/%d.png", partnerID, submissionID, s.now().UnixMilli())
}

// Upload stores a base64 image (optionally a data URL) and returns its key
func (s *RoofImageStore) Upload(ctx context.Context, partnerID, submissionID, encoded string) (string, error) {
	if !s.Enabled() {
		return "", ErrStorageDisabled
	}

	data, err := DecodeImage(encoded)
	if err != nil {
		return "", err
	}

	key := s.Key(partnerID, submissionID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
		Metadata: map[string]string{
			"partner-id":    partnerID,
			"submission-id": submissionID,
		},
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to upload roof image")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.WithField("key", key).Debug("Uploaded roof image")
	return key, nil
}

// DecodeImage decodes a base64 image, accepting a data URL prefix
func DecodeImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i > 0 {
		encoded = encoded[i+1:]
	}
	if encoded == "" {
		return nil, ErrInvalidImage
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, maxImageBytes)
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, fmt.Errorf("%w: not an image", ErrInvalidImage)
	}
	return data, nil
}
