package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const ctxTimeout = 10 * time.Second

// S3Config holds the connection settings for an S3 compatible backend.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// S3Store implements Store against an S3 compatible backend using MinIO.
// Version tags are object ETags, and SaveSnapshot uses an If-Match condition
// so concurrent writers lose cleanly instead of overwriting each other.
type S3Store struct {
	client     *minio.Client
	bucketName string
	keyPrefix  string
}

// NewS3Store initializes a new S3Store, connecting to the configured endpoint
// and creating the bucket if it does not exist.
func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required for s3 store")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  strings.Trim(config.KeyPrefix, "/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return store, nil
}

func (s3s *S3Store) objectName(name string) (string, error) {
	if err := validateSnapshotName(name); err != nil {
		return "", err
	}
	key := name + snapshotExt
	if s3s.keyPrefix != "" {
		key = s3s.keyPrefix + "/" + key
	}
	return key, nil
}

func (s3s *S3Store) SnapshotExists(name string) (bool, error) {
	objectName, err := s3s.objectName(name)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err = s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if s3s.isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check snapshot %s: %w", name, err)
	}
	return true, nil
}

func (s3s *S3Store) SaveSnapshot(name string, data []byte, expectedVersion string) (string, error) {
	objectName, err := s3s.objectName(name)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	putOptions := minio.PutObjectOptions{
		UserMetadata: map[string]string{
			"Created-At": time.Now().Format(time.RFC3339),
		},
	}

	if expectedVersion != "" {
		putOptions.SetMatchETag(expectedVersion)
	} else {
		exists, err := s3s.SnapshotExists(name)
		if err != nil {
			return "", err
		}
		if exists {
			current, err := s3s.LoadSnapshot(name)
			if err != nil {
				return "", err
			}
			return "", ConcurrencyError{Name: name, ActualVersion: current.Version}
		}
	}

	uploadInfo, err := s3s.client.PutObject(ctx, s3s.bucketName, objectName,
		bytes.NewReader(data), int64(len(data)), putOptions)
	if err != nil {
		if s3s.isPreconditionFailedError(err) {
			current, _ := s3s.LoadSnapshot(name)
			actual := ""
			if current != nil {
				actual = current.Version
			}
			return "", ConcurrencyError{Name: name, ExpectedVersion: expectedVersion, ActualVersion: actual}
		}
		return "", fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}
	return s3s.cleanETag(uploadInfo.ETag), nil
}

func (s3s *S3Store) LoadSnapshot(name string) (*VersionedData, error) {
	objectName, err := s3s.objectName(name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, fmt.Errorf("snapshot %s not found", name)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}

	objectInfo, err := object.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot %s: %w", name, err)
	}
	return &VersionedData{
		Data:      data,
		Version:   s3s.cleanETag(objectInfo.ETag),
		Timestamp: objectInfo.LastModified,
	}, nil
}

func (s3s *S3Store) DeleteSnapshot(name string) error {
	objectName, err := s3s.objectName(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err = s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if s3s.isNotFoundError(err) {
			return fmt.Errorf("snapshot %s not found", name)
		}
		return fmt.Errorf("failed to check snapshot %s: %w", name, err)
	}

	if err = s3s.client.RemoveObject(ctx, s3s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	return nil
}

func (s3s *S3Store) ListSnapshots() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	prefix := ""
	if s3s.keyPrefix != "" {
		prefix = s3s.keyPrefix + "/"
	}

	var names []string
	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", object.Err)
		}
		if !strings.HasSuffix(object.Key, snapshotExt) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(object.Key, prefix), snapshotExt)
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s3s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", s3s.bucketName, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error { return nil }

func (s3s *S3Store) Type() string { return string(StoreTypeS3) }

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (s3s *S3Store) cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func (s3s *S3Store) isPreconditionFailedError(err error) bool {
	return minio.ToErrorResponse(err).Code == "PreconditionFailed"
}

func (s3s *S3Store) isNotFoundError(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
	}
	return false
}
