package s3storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignNormalizedURL(t *testing.T) {
	s, err := New(Options{
		Endpoint:         "localhost:9000",
		AccessKey:        "access",
		SecretKey:        "secret-key",
		Region:           "us-east-1",
		RawBucket:        "raw",
		NormalizedBucket: "norm",
	})
	require.NoError(t, err)

	// With a fixed region presigning is computed locally.
	raw, err := s.PresignNormalizedURL(context.Background(), "normalized/enc-1/m-1.jpg", 5*time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/norm/normalized/enc-1/m-1.jpg", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New(Options{Endpoint: "http://has-a-scheme:9000"})
	assert.Error(t, err)
}
