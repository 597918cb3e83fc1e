package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/couchcryptid/heat-risk-etl/internal/config"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- File store ---

func TestFile_PutGet(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "heat_risk_analysis_Day 1_20240701.geoparquet", []byte("v1"), "application/vnd.apache.parquet"))
	require.NoError(t, s.Put(ctx, "heat_risk_analysis_Day 1_20240701.geoparquet", []byte("v2"), ""))

	got, err := s.Get(ctx, "heat_risk_analysis_Day 1_20240701.geoparquet")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got, "later puts overwrite")

	entries, err := os.ReadDir(s.Location())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFile_NestedKey(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "daily/a.geoparquet", []byte("x"), ""))
	_, err = os.Stat(filepath.Join(s.Location(), "daily", "a.geoparquet"))
	assert.NoError(t, err)
}

func TestFile_NotFound(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_RejectsEscapingKey(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../outside", []byte("x"), "")
	assert.Error(t, err)
}

// --- S3 store ---

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = b
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func TestS3_PutGetWithPrefix(t *testing.T) {
	fake := newFakeS3()
	s := &S3{client: fake, bucket: "heat", prefix: "daily"}
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.geoparquet", []byte("data"), "application/vnd.apache.parquet"))
	assert.Contains(t, fake.objects, "heat/daily/a.geoparquet")
	assert.Equal(t, "application/vnd.apache.parquet", fake.types["heat/daily/a.geoparquet"])

	got, err := s.Get(ctx, "a.geoparquet")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
	assert.Equal(t, "heat", s.Location())
}

func TestS3_NotFound(t *testing.T) {
	s := &S3{client: newFakeS3(), bucket: "heat"}
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3_PutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	s := &S3{client: fake, bucket: "heat"}

	err := s.Put(context.Background(), "k", []byte("x"), "")
	assert.EqualError(t, err, "access denied")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Options{Region: "us-east-1"})
	assert.Error(t, err)
}

// --- factory ---

func TestNew_FileBackend(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.BackendFile, DataDir: t.TempDir(), StorePrefix: "out"}

	s, err := New(context.Background(), cfg, observability.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.DataDir, "published", "out"), s.Location())
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), &config.Config{StoreBackend: "tape"}, observability.DiscardLogger())
	assert.Error(t, err)
}
