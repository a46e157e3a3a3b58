// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/pkcebridge/oidc"
)

// PendingLogin is the state of one login attempt between Begin and the
// provider's redirect back.
type PendingLogin struct {
	Verifier  string    `json:"verifier"`
	State     string    `json:"state"`
	ReturnTo  string    `json:"returnTo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the attempt is no longer usable at now.
func (p *PendingLogin) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// String redacts the verifier and state.
func (p *PendingLogin) String() string {
	return fmt.Sprintf("PendingLogin{ReturnTo: %q, CreatedAt: %s, ExpiresAt: %s}", p.ReturnTo, p.CreatedAt, p.ExpiresAt)
}

// Store holds at most one PendingLogin.  Implementations should be scoped to
// one browser tab (or process) and must not outlive it.
type Store interface {
	// Save replaces any stored login.
	Save(ctx context.Context, p *PendingLogin) error

	// Load returns the stored login, or nil when there is none.
	Load(ctx context.Context) (*PendingLogin, error)

	// Clear removes the stored login.  Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	pending *PendingLogin
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces any stored login.
func (s *MemoryStore) Save(_ context.Context, p *PendingLogin) error {
	const op = "flow.(MemoryStore).Save"
	if p == nil {
		return fmt.Errorf("%s: pending login is nil: %w", op, oidc.ErrNilParameter)
	}
	c := *p
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &c
	return nil
}

// Load returns a copy of the stored login.
func (s *MemoryStore) Load(_ context.Context) (*PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil, nil
	}
	c := *s.pending
	return &c, nil
}

// Clear removes the stored login.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}
