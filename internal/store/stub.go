package store

import (
	"context"

	"sandboxnotify/internal/types"
)

// StubStore is the in-memory backend for local runs and tests. Populate the
// maps before use; lookups never fail.
type StubStore struct {
	Leases   map[types.LeaseKey]*types.LeaseRecord
	Accounts map[string]*types.AccountRecord
	Profiles map[string]*types.UserProfile
}

// NewStubStore returns an empty StubStore.
func NewStubStore() *StubStore {
	return &StubStore{
		Leases:   make(map[types.LeaseKey]*types.LeaseRecord),
		Accounts: make(map[string]*types.AccountRecord),
		Profiles: make(map[string]*types.UserProfile),
	}
}

func (s *StubStore) GetLease(_ context.Context, key types.LeaseKey) (*types.LeaseRecord, error) {
	return s.Leases[key], nil
}

func (s *StubStore) GetAccount(_ context.Context, accountID string) (*types.AccountRecord, error) {
	return s.Accounts[accountID], nil
}

func (s *StubStore) GetProfile(_ context.Context, email string) (*types.UserProfile, error) {
	return s.Profiles[email], nil
}

var (
	_ types.LeaseStore   = (*StubStore)(nil)
	_ types.AccountStore = (*StubStore)(nil)
	_ types.ProfileStore = (*StubStore)(nil)
)
