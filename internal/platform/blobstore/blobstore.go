// Package blobstore abstracts the object store that holds uploaded clinical
// document binaries. The portal only tracks metadata; bytes live behind this
// interface, and guest/document handlers resolve keys to whatever URL the
// store currently considers public.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrMissingName  = errors.New("file name is required")
)

// MaxFileSize is the maximum allowed upload size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes lists the MIME types patients may upload.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"application/pdf": true,
	"text/plain":      true,
}

// BlobMetadata describes one stored binary.
type BlobMetadata struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for blob storage backends.
type Store interface {
	Put(ctx context.Context, fileName, contentType string, content io.Reader) (*BlobMetadata, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, key string) error
	// PublicURL resolves a key to the URL currently served to clients. The
	// URL is a point-in-time answer; stores may rotate it.
	PublicURL(key string) string
}

type storedBlob struct {
	meta    BlobMetadata
	content []byte
}

// InMemoryStore is a thread-safe in-memory Store for development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	baseURL string
}

func NewInMemoryStore(baseURL string) *InMemoryStore {
	return &InMemoryStore{
		blobs:   make(map[string]*storedBlob),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *InMemoryStore) Put(_ context.Context, fileName, contentType string, content io.Reader) (*BlobMetadata, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, ErrMissingName
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	meta := BlobMetadata{
		Key:         uuid.NewString(),
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", sha256.Sum256(data)),
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[meta.Key] = &storedBlob{meta: meta, content: data}
	s.mu.Unlock()

	return &meta, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.meta
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

func (s *InMemoryStore) PublicURL(key string) string {
	return s.baseURL + "/blobs/" + key
}
