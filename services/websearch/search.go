// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package websearch wraps external web search engines behind one Provider
// interface and rotates across them to spread request quota.
package websearch

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Provider is one search engine. Search returns a plain-text digest of the
// top results, ready to drop into a prompt.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) (string, error)
}

// Rotator distributes searches round-robin over its providers. Safe for
// concurrent use.
type Rotator struct {
	providers []Provider
	next      atomic.Uint64
}

// NewRotator builds a rotator over providers.
func NewRotator(providers ...Provider) (*Rotator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one search provider is required")
	}
	return &Rotator{providers: providers}, nil
}

// Name implements the Provider interface
func (r *Rotator) Name() string {
	return "rotator"
}

// Search implements the Provider interface by delegating to the next
// provider in rotation.
func (r *Rotator) Search(ctx context.Context, query string) (string, error) {
	idx := r.next.Add(1) % uint64(len(r.providers))
	provider := r.providers[idx]
	result, err := provider.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("%s search failed: %w", provider.Name(), err)
	}
	return result, nil
}
