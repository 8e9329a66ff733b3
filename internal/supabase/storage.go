package supabase

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	storage "github.com/supabase-community/storage-go"
)

// listPageSize bounds one ListFiles page during a sweep.
const listPageSize = 1000

// StorageClient stores uploads in a public Supabase Storage bucket.
type StorageClient struct {
	// storage-go mutates shared request headers on upload, so calls are serialized.
	mu      sync.Mutex
	client  *storage.Client
	bucket  string
	baseURL string
	now     func() time.Time
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) (*StorageClient, error) {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
		now:     time.Now,
	}, nil
}

func (s *StorageClient) Put(ctx context.Context, name, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	upsert := false
	_, err := s.client.UploadFile(s.bucket, name, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

// URL returns the bucket's public object URL. The request origin is not
// involved because objects are served by Supabase.
func (s *StorageClient) URL(_ string, name string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, name)
}

// Sweep deletes bucket objects created more than maxAge ago.
func (s *StorageClient) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	var expired []string
	for offset := 0; ; offset += listPageSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		files, err := s.client.ListFiles(s.bucket, "", storage.FileSearchOptions{
			Limit:  listPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to list files: %w", err)
		}
		for _, file := range files {
			created, err := time.Parse(time.RFC3339, file.CreatedAt)
			if err != nil || created.After(cutoff) {
				continue
			}
			expired = append(expired, file.Name)
		}
		if len(files) < listPageSize {
			break
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}
	if _, err := s.client.RemoveFile(s.bucket, expired); err != nil {
		return 0, fmt.Errorf("failed to delete files: %w", err)
	}
	return len(expired), nil
}
