package upload

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type object struct {
	data        []byte
	contentType string
}

type mockClient struct {
	objects map[string]object
	err     error
}

func (m *mockClient) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string]object{}
	}
	m.objects[key] = object{data: data, contentType: contentType}
	return nil
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		prefix string
		err    bool
	}{
		{uri: "s3://bucket", bucket: "bucket"},
		{uri: "s3://bucket/", bucket: "bucket"},
		{uri: "s3://bucket/a/b/", bucket: "bucket", prefix: "a/b"},
		{uri: "s3://", err: true},
		{uri: "s3:///prefix", err: true},
		{uri: "gs://bucket/x", err: true},
		{uri: "bucket/x", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseURI(tt.uri)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestKeyLayout(t *testing.T) {
	m := &mockClient{}
	b := &Bucket{client: m, prefix: "evals"}
	run := b.WithPrefix("run-1")

	require.NoError(t, run.Publish(context.Background(), "1.png", []byte{1, 2}))
	require.NoError(t, run.PublishJSON(context.Background(), SummaryName, map[string]int{"samples": 1}))

	require.Contains(t, m.objects, "evals/run-1/1.png")
	assert.Equal(t, "image/png", m.objects["evals/run-1/1.png"].contentType)
	require.Contains(t, m.objects, "evals/run-1/summary.json")
	assert.Equal(t, "application/json", m.objects["evals/run-1/summary.json"].contentType)
	assert.JSONEq(t, `{"samples":1}`, string(m.objects["evals/run-1/summary.json"].data))

	assert.Equal(t, "x.png", (&Bucket{}).Key("x.png"))
}

func TestPublishError(t *testing.T) {
	boom := errors.New("boom")
	b := &Bucket{client: &mockClient{err: boom}}
	assert.ErrorIs(t, b.Publish(context.Background(), "1.png", nil), boom)
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "access denied", in: &smithy.GenericAPIError{Code: "AccessDenied"}, want: ErrAccessDenied},
		{name: "bad key", in: &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, want: ErrAccessDenied},
		{name: "no bucket", in: &smithy.GenericAPIError{Code: "NoSuchBucket"}, want: ErrBucketNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in)
		})
	}

	other := &smithy.GenericAPIError{Code: "SlowDown"}
	assert.Same(t, error(other), wrapError(other))
}
