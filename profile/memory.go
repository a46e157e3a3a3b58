// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	nowFunc  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
//
// Supported options: WithNow
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getStoreOpts(opt...)
	return &MemoryStore{
		profiles: map[string]*Profile{},
		nowFunc:  opts.withNowFunc,
	}
}

// Upsert merges p into the record for id.
func (s *MemoryStore) Upsert(_ context.Context, id string, p *Profile) error {
	const op = "MemoryStore.Upsert"
	if err := validateID(op, id); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%s: profile is nil: %w", op, ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.profiles[id]
	if !ok {
		current = &Profile{}
	}
	current.Merge(p)
	current.UpdatedAt = s.nowFunc()
	s.profiles[id] = current
	return nil
}

// Get returns a copy of the record for id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Profile, error) {
	const op = "MemoryStore.Get"
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, id, ErrNotFound)
	}
	return p.Clone(), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
