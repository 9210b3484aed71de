package series_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tonometer/internal/series"
)

func TestFileBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	backend := series.NewFileBackend(dir)
	ctx := context.Background()

	_, err := backend.Load(ctx, "1001")
	require.ErrorIs(t, err, series.ErrNotFound)

	require.NoError(t, backend.Save(ctx, "1001", []byte("2024-03-15 08:00:00,120/80\n")))

	data, err := backend.Load(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15 08:00:00,120/80\n", string(data))

	_, err = os.Stat(filepath.Join(dir, "1001.csv.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")
}

func TestFileBackend_UserIDCannotEscape(t *testing.T) {
	dir := t.TempDir()
	backend := series.NewFileBackend(filepath.Join(dir, "records"))

	require.NoError(t, backend.Save(context.Background(), "../evil", []byte("x")))

	_, err := os.Stat(filepath.Join(dir, "evil.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileBackend_SimilarUserIDsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	backend := series.NewFileBackend(dir)
	ctx := context.Background()

	ids := []string{"a/b", "a_b", "a..b", `a\b`, "a%2Fb"}
	for _, id := range ids {
		require.NoError(t, backend.Save(ctx, id, []byte(id)))
	}

	for _, id := range ids {
		data, err := backend.Load(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, id, string(data))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, len(ids))
}

func TestBoltBackend(t *testing.T) {
	backend, err := series.OpenBoltBackend(filepath.Join(t.TempDir(), "db", "series.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	ctx := context.Background()

	_, err = backend.Load(ctx, "1001")
	require.ErrorIs(t, err, series.ErrNotFound)

	require.NoError(t, backend.Save(ctx, "1001", []byte("first")))
	require.NoError(t, backend.Save(ctx, "1001", []byte("second")))

	data, err := backend.Load(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestBoltBackend_WithStore(t *testing.T) {
	backend, err := series.OpenBoltBackend(filepath.Join(t.TempDir(), "series.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	store := series.NewStore(backend)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "1001", at(2024, 3, 15, 20, 0), "130/85"))
	require.NoError(t, store.Upsert(ctx, "1001", at(2024, 3, 15, 8, 0), "118/76"))

	data, err := store.Export(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15 08:00:00,118/76\n2024-03-15 20:00:00,130/85\n", string(data))
}

// fakeS3 is an in-memory S3API.
type fakeS3 struct {
	objects map[string][]byte
	putErr  error
	mu      sync.Mutex
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Backend(t *testing.T) {
	client := newFakeS3()
	backend := series.NewS3BackendWithClient(client, "bp", "records")
	ctx := context.Background()

	_, err := backend.Load(ctx, "1001")
	require.ErrorIs(t, err, series.ErrNotFound)

	require.NoError(t, backend.Save(ctx, "1001", []byte("2024-03-15 08:00:00,120/80\n")))
	assert.Contains(t, client.objects, "bp/records/1001.csv")

	require.NoError(t, backend.Save(ctx, "a/b", []byte("x")))
	require.NoError(t, backend.Save(ctx, "a_b", []byte("y")))
	assert.Contains(t, client.objects, "bp/records/a%2Fb.csv")
	assert.Contains(t, client.objects, "bp/records/a_b.csv")

	data, err := backend.Load(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15 08:00:00,120/80\n", string(data))
}

func TestS3Backend_PutFailureSurfacesAsIOError(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("503 slow down")
	store := series.NewStore(series.NewS3BackendWithClient(client, "bp", ""))

	err := store.Upsert(context.Background(), "1001", at(2024, 3, 15, 8, 0), "120/80")

	var ioErr *series.StorageIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "save", ioErr.Op)
}

func TestNewS3Backend_RequiresBucket(t *testing.T) {
	_, err := series.NewS3Backend(context.Background(), series.S3Config{})
	require.Error(t, err)
}
