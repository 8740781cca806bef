// Package storage provides the object-store collaborator for attachment
// blobs: byte persistence keyed by opaque refs, and time-limited signed
// retrieval URLs.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStore accepts a byte blob and returns a retrievable storage ref.
type BlobStore interface {
	Put(ctx context.Context, ticketID, fileName string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// DiskStore stores blobs under a root directory, one subdirectory per
// ticket.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// Put writes the blob and returns its storage ref. The ref embeds a fresh
// UUID so uploads never collide.
func (s *DiskStore) Put(ctx context.Context, ticketID, fileName string, data []byte) (string, error) {
	ref := filepath.Join(ticketID, uuid.NewString()+sanitizedExt(fileName))
	path := filepath.Join(s.root, ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return ref, nil
}

// Get reads a blob by ref.
func (s *DiskStore) Get(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.safePath(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Delete removes a blob; missing blobs are not an error.
func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	path, err := s.safePath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// safePath rejects refs escaping the storage root.
func (s *DiskStore) safePath(ref string) (string, error) {
	cleaned := filepath.Clean(ref)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage ref %q", ref)
	}
	return filepath.Join(s.root, cleaned), nil
}

func sanitizedExt(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return ext
	}
	return ""
}
