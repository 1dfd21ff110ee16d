// Package storage writes retention archives to S3. Archived items are
// small JSON objects keyed by user and memory id so a deleted item can
// be inspected or restored later.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// S3Config holds configuration for the archive bucket. Endpoint and
// ForcePathStyle support LocalStack and other S3-compatible stores.
type S3Config struct {
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	KeyPrefix      string `mapstructure:"key_prefix"`
}

// S3API is the slice of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver writes memory items to the archive bucket before retention
// deletes them.
type Archiver struct {
	client S3API
	bucket string
	prefix string
	logger observability.Logger
}

// NewArchiver builds the S3 client from shared AWS config.
func NewArchiver(ctx context.Context, cfg S3Config, logger observability.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewArchiverWithClient(client, cfg.Bucket, cfg.KeyPrefix, logger), nil
}

// NewArchiverWithClient wires a prebuilt client, used by tests.
func NewArchiverWithClient(client S3API, bucket, prefix string, logger observability.Logger) *Archiver {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Bucket returns the configured bucket name.
func (a *Archiver) Bucket() string { return a.bucket }

// ArchiveMemory uploads one item as JSON and returns the object key.
func (a *Archiver) ArchiveMemory(ctx context.Context, item *models.MemoryItem) (string, error) {
	if item == nil || item.ID == "" {
		return "", errors.New("memory item with id is required")
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to marshal memory item: %w", err)
	}

	key := path.Join(a.prefix, "memories", item.UserID, item.ID+".json")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive object: %w", err)
	}

	a.logger.Debug("memory archived", map[string]interface{}{
		"memory_id": item.ID,
		"user_id":   item.UserID,
		"key":       key,
	})
	return key, nil
}

// FetchMemory downloads and decodes an archived item by object key.
func (a *Archiver) FetchMemory(ctx context.Context, key string) (*models.MemoryItem, error) {
	output, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archive object: %w", err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive object: %w", err)
	}

	var item models.MemoryItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode archive object: %w", err)
	}
	return &item, nil
}
