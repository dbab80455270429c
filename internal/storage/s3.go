// Package storage persists consolidated results: encrypted objects in S3, or
// plain files on local disk when S3 is disabled. Result payloads carry client
// financials, so everything leaving the process is AES-GCM encrypted with a
// key derived from the configured secret.
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/local/finextractor/internal/config"
)

// Encrypted object layout: magic(8) + salt(16) + nonce(12) + ciphertext+tag.
const gcmMagic = "GCM3NCR0"

const (
	saltLen   = 16
	nonceLen  = 12
	pbkdfIter = 100000
)

// S3Store uploads and downloads encrypted result objects, and fetches source
// documents referenced as s3:// paths at intake.
type S3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
	secret     string
}

// NewS3Store builds the store from configuration. Explicit static credentials
// take precedence; otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		secret:     cfg.EncryptionKey,
	}, nil
}

// IsS3URL reports whether a file path references an S3 object.
func IsS3URL(raw string) bool { return strings.HasPrefix(raw, "s3://") }

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(raw string) (bucket, key string, ok bool) {
	if !IsS3URL(raw) {
		return "", "", false
	}
	rest := strings.TrimPrefix(raw, "s3://")
	i := strings.Index(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// FetchSource downloads the object behind an s3:// reference to a file under
// dir and returns its path. Source documents are client uploads stored plain;
// only our result objects carry the GCM envelope.
func (s *S3Store) FetchSource(ctx context.Context, rawURL, dir string) (string, error) {
	bucket, key, ok := ParseS3URL(rawURL)
	if !ok {
		return "", fmt.Errorf("invalid s3 url: %s", rawURL)
	}

	f, err := os.CreateTemp(dir, "source-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer f.Close()

	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	log.Info().Str("url", rawURL).Int64("bytes", n).Str("path", f.Name()).Msg("downloaded source document")
	return f.Name(), nil
}

func (s *S3Store) key(jobID, name string) string {
	return path.Join(s.prefix, jobID, name)
}

// Save encrypts and uploads one result object for the job.
func (s *S3Store) Save(ctx context.Context, jobID, name, contentType string, data []byte) error {
	encrypted, err := encryptGCM(data, s.secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt result: %w", err)
	}

	key := s.key(jobID, name)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(encrypted),
		Metadata: map[string]string{
			"content-type":      contentType,
			"encrypted":         "true",
			"encryption-format": gcmMagic,
			"job-id":            jobID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", key).Int("plaintext_size", len(data)).Msg("uploaded encrypted result")
	return nil
}

// Load downloads and decrypts one result object for the job.
func (s *S3Store) Load(ctx context.Context, jobID, name string) ([]byte, error) {
	key := s.key(jobID, name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	encrypted, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	data, err := decryptGCM(encrypted, s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return data, nil
}

// Ping verifies the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func encryptGCM(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdfIter, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, data, nil)
	result := make([]byte, 0, len(gcmMagic)+saltLen+nonceLen+len(sealed))
	result = append(result, gcmMagic...)
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, sealed...)
	return result, nil
}

func decryptGCM(encrypted []byte, password string) ([]byte, error) {
	header := len(gcmMagic) + saltLen + nonceLen
	if len(encrypted) < header+16 {
		return nil, fmt.Errorf("encrypted data too short: %d bytes", len(encrypted))
	}
	if string(encrypted[:len(gcmMagic)]) != gcmMagic {
		return nil, fmt.Errorf("unknown encryption format")
	}

	salt := encrypted[len(gcmMagic) : len(gcmMagic)+saltLen]
	nonce := encrypted[len(gcmMagic)+saltLen : header]
	sealed := encrypted[header:]

	key := pbkdf2.Key([]byte(password), salt, pbkdfIter, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}
