package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte(`{"Revenue": 1000}`)
	enc, err := encryptGCM(plain, "secret-key")
	require.NoError(t, err)
	assert.Equal(t, gcmMagic, string(enc[:8]))
	assert.NotContains(t, string(enc), "Revenue")

	dec, err := decryptGCM(enc, "secret-key")
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestDecryptWrongPassword(t *testing.T) {
	enc, err := encryptGCM([]byte("payload"), "right")
	require.NoError(t, err)
	_, err = decryptGCM(enc, "wrong")
	assert.Error(t, err)
}

func TestDecryptRejectsUnknownFormat(t *testing.T) {
	data := make([]byte, 128)
	copy(data, "NOTMAGIC")
	_, err := decryptGCM(data, "pw")
	assert.Error(t, err)
}

func TestDecryptRejectsShortData(t *testing.T) {
	_, err := decryptGCM([]byte("short"), "pw")
	assert.Error(t, err)
}

func TestParseS3URL(t *testing.T) {
	bucket, key, ok := ParseS3URL("s3://my-bucket/docs/2024/report.pdf")
	require.True(t, ok)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "docs/2024/report.pdf", key)

	for _, raw := range []string{
		"/tmp/report.pdf",
		"https://example.com/report.pdf",
		"s3://bucket-only",
		"s3://bucket-only/",
		"s3:///no-bucket",
		"",
	} {
		_, _, ok := ParseS3URL(raw)
		assert.False(t, ok, "raw=%q", raw)
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "job-1", "result.json", "application/json", []byte("{}")))
	data, err := s.Load(ctx, "job-1", "result.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), data)

	_, err = s.Load(ctx, "job-2", "result.json")
	assert.Error(t, err)
}
