package s3

import (
	"context"
	"crypto/md5" //nolint:gosec // test mirror of S3 ETags
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

// fakeBucket is an in-memory objectAPI for one bucket.
type fakeBucket struct {
	mu      sync.Mutex
	name    string
	objects map[string][]byte
	calls   []string

	// badETag makes StatObject report a digest that does not match.
	badETag bool
	failOn  map[string]error
}

func newFakeBucket(name string) *fakeBucket {
	return &fakeBucket{name: name, objects: make(map[string][]byte), failOn: make(map[string]error)}
}

func noSuchKey(key string) error {
	return minio.ErrorResponse{Code: "NoSuchKey", Key: key, StatusCode: http.StatusNotFound}
}

func (f *fakeBucket) fail(op string) error {
	err, ok := f.failOn[op]
	if ok {
		delete(f.failOn, op)
	}
	return err
}

func (f *fakeBucket) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBucket) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists")
	if err := f.fail("exists"); err != nil {
		return false, err
	}
	return bucket == f.name, nil
}

func (f *fakeBucket) PutObject(_ context.Context, _, key string, r io.Reader, _ int64,
	_ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("put:" + key)
	if err := f.fail("put"); err != nil {
		return minio.UploadInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = data
	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeBucket) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stat:" + key)
	if err := f.fail("stat"); err != nil {
		return minio.ObjectInfo{}, err
	}
	data, ok := f.objects[key]
	if !ok {
		return minio.ObjectInfo{}, noSuchKey(key)
	}
	sum := md5.Sum(data) //nolint:gosec // test
	etag := hex.EncodeToString(sum[:])
	if f.badETag {
		etag = "ffffffffffffffffffffffffffffffff"
	}
	return minio.ObjectInfo{Key: key, Size: int64(len(data)), ETag: etag}, nil
}

func (f *fakeBucket) CopyObject(_ context.Context, dst minio.CopyDestOptions,
	src minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("copy:" + dst.Object)
	if err := f.fail("copy"); err != nil {
		return minio.UploadInfo{}, err
	}
	data, ok := f.objects[src.Object]
	if !ok {
		return minio.UploadInfo{}, noSuchKey(src.Object)
	}
	f.objects[dst.Object] = append([]byte(nil), data...)
	return minio.UploadInfo{Key: dst.Object}, nil
}

func (f *fakeBucket) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove:" + key)
	delete(f.objects, key)
	return nil
}

func (f *fakeBucket) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ch := make(chan minio.ObjectInfo, len(keys)+1)
	if err := f.fail("list"); err != nil {
		ch <- minio.ObjectInfo{Err: err}
	}
	for _, k := range keys {
		ch <- minio.ObjectInfo{Key: k}
	}
	close(ch)
	return ch
}

func (f *fakeBucket) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestNewStore_Prefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", ""},
		{"facturas", "facturas/"},
		{"/facturas/", "facturas/"},
		{"a/b", "a/b/"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			s := newStore(newFakeBucket("b"), "b", tt.prefix)
			assert.Equal(t, tt.want, s.prefix)
		})
	}
}

func TestStore_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("new object", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		store := newStore(fake, "invoices", "facturas")

		obj, err := store.Upload(ctx, "factura_7.json", []byte(`{"id":"7"}`))
		require.NoError(t, err)

		assert.Equal(t, "factura_7.json", obj.Name)
		assert.Equal(t, "s3://invoices/facturas/factura_7.json", obj.Location)
		assert.EqualValues(t, 10, obj.Size)
		assert.False(t, obj.Replaced)
		assert.Equal(t, []string{"facturas/factura_7.json"}, fake.keys())
		assert.Equal(t, `{"id":"7"}`, string(fake.objects["facturas/factura_7.json"]))
	})

	t.Run("overwrite reports replaced", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		store := newStore(fake, "invoices", "")

		_, err := store.Upload(ctx, "factura_7.json", []byte("v1"))
		require.NoError(t, err)
		obj, err := store.Upload(ctx, "factura_7.json", []byte("v2"))
		require.NoError(t, err)

		assert.True(t, obj.Replaced)
		assert.Equal(t, []string{"factura_7.json"}, fake.keys())
		assert.Equal(t, "v2", string(fake.objects["factura_7.json"]))
	})

	t.Run("etag mismatch leaves final key untouched", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		fake.objects["factura_7.json"] = []byte("old")
		fake.badETag = true
		store := newStore(fake, "invoices", "")

		_, err := store.Upload(ctx, "factura_7.json", []byte("new"))
		require.Error(t, err)

		assert.ErrorIs(t, err, domain.ErrVerificationFailed)
		assert.True(t, domain.IsTransientInfra(err))
		assert.Equal(t, "old", string(fake.objects["factura_7.json"]))
		assert.Equal(t, []string{"factura_7.json"}, fake.keys())
	})

	t.Run("slow down is transient", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		fake.failOn["put"] = minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}
		store := newStore(fake, "invoices", "")

		_, err := store.Upload(ctx, "factura_7.json", []byte("x"))
		require.Error(t, err)
		assert.True(t, domain.IsTransientInfra(err))
		assert.Empty(t, fake.keys())
	})

	t.Run("access denied is permanent", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		fake.failOn["stat"] = minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
		store := newStore(fake, "invoices", "")

		_, err := store.Upload(ctx, "factura_7.json", []byte("x"))
		require.Error(t, err)
		assert.False(t, domain.IsTransientInfra(err))
		assert.Equal(t, "AccessDenied", minio.ToErrorResponse(errors.Unwrap(err)).Code)
	})

	t.Run("copy failure keeps staging for the next attempt", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		fake.failOn["copy"] = minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}
		store := newStore(fake, "invoices", "")

		_, err := store.Upload(ctx, "factura_7.json", []byte("x"))
		require.Error(t, err)
		assert.True(t, domain.IsTransientInfra(err))

		obj, err := store.Upload(ctx, "factura_7.json", []byte("x"))
		require.NoError(t, err)
		assert.False(t, obj.Replaced)
		assert.Equal(t, []string{"factura_7.json"}, fake.keys())
	})
}

func TestStore_Exists(t *testing.T) {
	ctx := context.Background()

	t.Run("single listing", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		fake.objects["facturas/factura_1.json"] = []byte("x")
		fake.objects["facturas/factura_3.json"] = []byte("x")
		fake.objects["other/factura_2.json"] = []byte("x")
		store := newStore(fake, "invoices", "facturas")

		got, err := store.Exists(ctx, []string{"factura_1.json", "factura_2.json", "factura_3.json"})
		require.NoError(t, err)

		assert.Equal(t, map[string]bool{
			"factura_1.json": true,
			"factura_2.json": false,
			"factura_3.json": true,
		}, got)
		assert.Equal(t, []string{"list"}, fake.calls)
	})

	t.Run("listing error", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		fake.failOn["list"] = minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}
		store := newStore(fake, "invoices", "")

		_, err := store.Exists(ctx, []string{"a"})
		require.Error(t, err)
		assert.True(t, domain.IsTransientInfra(err))
	})

	t.Run("no names", func(t *testing.T) {
		fake := newFakeBucket("invoices")
		store := newStore(fake, "invoices", "")

		got, err := store.Exists(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Empty(t, fake.calls)
	})
}

func TestStore_Validate(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, newStore(newFakeBucket("invoices"), "invoices", "").Validate(ctx))
	assert.Error(t, newStore(newFakeBucket("invoices"), "missing", "").Validate(ctx))

	fake := newFakeBucket("invoices")
	fake.failOn["exists"] = minio.ErrorResponse{Code: "InvalidAccessKeyId", StatusCode: http.StatusForbidden}
	assert.Error(t, newStore(fake, "invoices", "").Validate(ctx))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"too many requests", minio.ErrorResponse{StatusCode: http.StatusTooManyRequests}, true},
		{"bad gateway", minio.ErrorResponse{StatusCode: http.StatusBadGateway}, true},
		{"request timeout", minio.ErrorResponse{Code: "RequestTimeout", StatusCode: http.StatusBadRequest}, true},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestNew(t *testing.T) {
	store, err := New(Config{Endpoint: "localhost:9000", Bucket: "invoices", Prefix: "facturas"})
	require.NoError(t, err)
	assert.Equal(t, "invoices", store.bucket)
	assert.Equal(t, "facturas/", store.prefix)
}
