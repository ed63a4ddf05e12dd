package artifact

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory object map keyed by bucket/key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]string)} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(c))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_KeyLayout(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s, err := NewS3Store(fake, "artifacts", "/qualityloop/")
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "prompts/billing", "v1"))
	assert.Contains(t, fake.objects, "artifacts/qualityloop/prompts/billing")

	snap, err := s.Snapshot(ctx, "prompts/billing")
	require.NoError(t, err)
	assert.Equal(t, "qualityloop/.snapshots/"+snap.ID, snap.Ref)
}

func TestS3Store_PutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	s, err := NewS3Store(fake, "b", "")
	require.NoError(t, err)

	err = s.Write(context.Background(), "a", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3Store_MissingBucket(t *testing.T) {
	_, err := NewS3Store(newFakeS3(), "", "p")
	assert.Error(t, err)
}
