// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectStore archives raw blobs: original file contents at ingestion time
// and exported evaluation reports.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// GCSObjectStore implements ObjectStore on a Google Cloud Storage bucket.
type GCSObjectStore struct {
	storageClient *storage.Client
	BucketName    string
}

// NewGCSObjectStore opens a GCS-backed store. saKeyPath may be empty to use
// ambient credentials.
func NewGCSObjectStore(ctx context.Context, bucketName, saKeyPath string) (*GCSObjectStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSObjectStore{
		storageClient: storageClient,
		BucketName:    bucketName,
	}, nil
}

// Put implements the ObjectStore interface
func (g *GCSObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	obj := g.storageClient.Bucket(g.BucketName).Object(key)
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write GCS object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	slog.Debug("Archived object", "bucket", g.BucketName, "key", key, "bytes", len(data))
	return nil
}

// Get implements the ObjectStore interface
func (g *GCSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := g.storageClient.Bucket(g.BucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	return data, nil
}

// Close releases the underlying client.
func (g *GCSObjectStore) Close() error {
	return g.storageClient.Close()
}

// MemoryObjectStore implements ObjectStore in process memory. Used in tests
// and when no bucket is configured.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryObjectStore returns an empty in-memory store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

// Put implements the ObjectStore interface
func (m *MemoryObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return nil
}

// Get implements the ObjectStore interface
func (m *MemoryObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}
