// Package imagestore keeps the original receipt photos.
package imagestore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/davidrmellors/receipt-splitter/internal/receiptparser"
)

// Store saves a receipt image and returns a URL that identifies it.
type Store interface {
	Put(ctx context.Context, groupID string, img receiptparser.Image) (string, error)
}

// GCSStore writes images to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a GCS-backed store. Without a credentials file the
// client falls back to Application Default Credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put uploads the image and returns its gs:// URI.
func (s *GCSStore) Put(ctx context.Context, groupID string, img receiptparser.Image) (string, error) {
	name := objectName(groupID, img.MIMEType)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = img.MIMEType

	if _, err := w.Write(img.Data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write receipt image: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func objectName(groupID, mimeType string) string {
	ext := ".jpg"
	switch strings.ToLower(mimeType) {
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	case "image/heic":
		ext = ".heic"
	case "image/gif":
		ext = ".gif"
	}
	return path.Join("receipts", groupID, uuid.New().String()+ext)
}

// Discard is used when no bucket is configured. Images are dropped and
// receipts are created without an image URL.
type Discard struct{}

func (Discard) Put(context.Context, string, receiptparser.Image) (string, error) {
	return "", nil
}
