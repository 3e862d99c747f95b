// Package documents keeps sealed prescription documents in S3.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/clinic-queue/pkg/logging"
)

const keyPrefix = "prescriptions/v1/"

// ErrNotFound is returned when a referenced object does not exist.
var ErrNotFound = errors.New("documents: object not found")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store writes opaque blobs to one bucket and hands back s3:// references.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore returns a store, or nil when bucket is empty.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if bucket == "" || s3Client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Put stores blob under key and returns its reference.
func (s *Store) Put(ctx context.Context, key string, blob []byte) (string, error) {
	objectKey := keyPrefix + strings.TrimPrefix(key, "/")
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(blob),
		ContentType:          aws.String("application/octet-stream"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("documents: s3 put %s: %w", objectKey, err)
	}
	s.logger.Debug("stored document", "bucket", s.bucket, "key", objectKey, "bytes", len(blob))
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// Get reads the blob behind ref.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	if bucket != s.bucket {
		return nil, fmt.Errorf("documents: reference %q is outside bucket %q", ref, s.bucket)
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("documents: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("documents: read %s: %w", key, err)
	}
	return data, nil
}

func parseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		return "", "", fmt.Errorf("documents: malformed reference %q", ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("documents: malformed reference %q", ref)
	}
	return bucket, key, nil
}
