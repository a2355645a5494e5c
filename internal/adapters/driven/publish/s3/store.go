package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // S3 single part ETags are MD5 digests.
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
	"github.com/custodia-labs/invoice-etl/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.DocumentStore = (*Store)(nil)

const stagingSuffix = ".staging"

// transientCodes are S3 error codes worth retrying.
var transientCodes = map[string]bool{
	"SlowDown":           true,
	"RequestTimeout":     true,
	"InternalError":      true,
	"ServiceUnavailable": true,
	"OperationAborted":   true,
}

// objectAPI is the subset of *minio.Client the store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Config configures a Store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every object name, e.g. "facturas/".
	Prefix string
	UseSSL bool
}

// Store publishes documents as objects in an S3-compatible bucket.
type Store struct {
	client objectAPI
	bucket string
	prefix string
}

// New creates a store with static credentials.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return newStore(client, cfg.Bucket, cfg.Prefix), nil
}

func newStore(client objectAPI, bucket, prefix string) *Store {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Validate checks the bucket exists and is reachable.
func (s *Store) Validate(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", classify(err))
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// Exists lists the prefix once and reports which names are present.
func (s *Store) Exists(ctx context.Context, names []string) (map[string]bool, error) {
	result := make(map[string]bool, len(names))
	if len(names) == 0 {
		return result, nil
	}
	for _, name := range names {
		result[name] = false
	}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix})
	for obj := range objects {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", classify(obj.Err))
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if _, ok := result[name]; ok {
			result[name] = true
		}
	}
	return result, nil
}

// Upload puts content under a staging key, verifies it and copies it over
// the final key. The staging object is removed afterwards.
func (s *Store) Upload(ctx context.Context, name string, content []byte) (domain.StoredObject, error) {
	key := s.key(name)
	staging := key + stagingSuffix

	replaced, err := s.exists(ctx, key)
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, staging, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{
			ContentType:    domain.DocumentContentType,
			SendContentMd5: true,
		})
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("failed to upload %s: %w", staging, classify(err))
	}

	info, err := s.client.StatObject(ctx, s.bucket, staging, minio.StatObjectOptions{})
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("failed to stat %s: %w", staging, classify(err))
	}
	if err := verify(info, content); err != nil {
		s.remove(ctx, staging)
		return domain.StoredObject{}, err
	}

	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: key},
		minio.CopySrcOptions{Bucket: s.bucket, Object: staging, MatchETag: info.ETag})
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("failed to promote %s: %w", staging, classify(err))
	}
	s.remove(ctx, staging)

	return domain.StoredObject{
		Name:     name,
		Location: fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Size:     int64(len(content)),
		Replaced: replaced,
	}, nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify(err)
}

// remove deletes a staging object. A leftover is overwritten by the next upload.
func (s *Store) remove(ctx context.Context, key string) {
	if err := s.client.RemoveObject(context.WithoutCancel(ctx), s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		logger.Warn("staging object not removed", "key", key, "error", err)
	}
}

func verify(info minio.ObjectInfo, content []byte) error {
	if info.Size != int64(len(content)) {
		return domain.MarkTransient(fmt.Errorf("%w: size %d, expected %d",
			domain.ErrVerificationFailed, info.Size, len(content)))
	}
	etag := strings.Trim(info.ETag, `"`)
	if etag == "" || strings.Contains(etag, "-") {
		// Multipart ETags are not content digests.
		return nil
	}
	sum := md5.Sum(content) //nolint:gosec // compared with the ETag
	if !strings.EqualFold(etag, hex.EncodeToString(sum[:])) {
		return domain.MarkTransient(fmt.Errorf("%w: etag %s does not match content",
			domain.ErrVerificationFailed, etag))
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// IsTransient returns true if retrying the request may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return true
	}
	if transientCodes[resp.Code] {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// classify marks retryable errors with domain.MarkTransient.
func classify(err error) error {
	if IsTransient(err) {
		return domain.MarkTransient(err)
	}
	return err
}
