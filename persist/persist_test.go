package persist

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() []Record {
	return []Record{
		{Key: "acme:zones", Value: []byte(`["a","b"]`), StoredAt: 100, TTL: time.Minute, Deadline: 0},
		{Key: "beta:groups", Value: []byte{0x28, 0xb5}, StoredAt: 200, TTL: time.Hour, Deadline: 5_000, Compressed: true},
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(sample(), time.Unix(1, 0))
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sample(), got)
}

func TestDecode_EmptyAndCorrupt(t *testing.T) {
	got, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Decode([]byte("garbage"))
	assert.Error(t, err)
}

func TestLive_DropsExpired(t *testing.T) {
	live := Live(sample(), 6_000)
	require.Len(t, live, 1)
	assert.Equal(t, "acme:zones", live[0].Key)
}

func TestFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.snap")
	f := NewFile(path)

	got, err := f.Load(context.Background())
	require.NoError(t, err, "missing file is an empty snapshot")
	assert.Empty(t, got)

	require.NoError(t, f.Save(context.Background(), sample()))
	got, err = f.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
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
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestS3_SaveLoad(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{}}
	s, err := NewS3(api, "bucket", "snapshots/cache.snap")
	require.NoError(t, err)

	got, err := s.Load(context.Background())
	require.NoError(t, err, "missing object is an empty snapshot")
	assert.Empty(t, got)

	require.NoError(t, s.Save(context.Background(), sample()))
	got, err = s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample(), got)
}

func TestS3_PutErrorWrapped(t *testing.T) {
	boom := errors.New("access denied")
	s, err := NewS3(&fakeS3{objects: map[string][]byte{}, putErr: boom}, "b", "k")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Save(context.Background(), sample()), boom)
}

func TestNewS3_Validation(t *testing.T) {
	_, err := NewS3(nil, "b", "k")
	assert.Error(t, err)
	_, err = NewS3(&fakeS3{}, "", "k")
	assert.Error(t, err)
}
