package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	objects map[string][]byte
	buckets []string
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.buckets = append(m.buckets, *input.Bucket)
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestStorePutGet(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "clinic-docs", nil)

	ref, err := store.Put(context.Background(), "tenant/appt/doc", []byte("sealed"))
	require.NoError(t, err)
	assert.Equal(t, "s3://clinic-docs/prescriptions/v1/tenant/appt/doc", ref)
	assert.Equal(t, []string{"clinic-docs"}, mock.buckets)

	data, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), data)
}

func TestStoreGetErrors(t *testing.T) {
	store := NewStore(newMockS3(), "clinic-docs", nil)

	_, err := store.Get(context.Background(), "s3://clinic-docs/prescriptions/v1/missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Get(context.Background(), "s3://other/prescriptions/v1/x")
	assert.Error(t, err)

	_, err = store.Get(context.Background(), "https://example.com/x")
	assert.Error(t, err)
}

func TestNewStoreDisabledWithoutBucket(t *testing.T) {
	assert.Nil(t, NewStore(newMockS3(), "", nil))
}
