package storage

import (
	"context"
	"time"
)

// splitStore keeps credentials and principals in one backend and pending
// authorizations in another, typically Redis.
type splitStore struct {
	Storage
	pending PendingAuthorizationStore
	closers []func() error
}

// WithPendingStore returns base with its pending authorization methods served by pending.
// Close closes base and then every extra closer.
func WithPendingStore(base Storage, pending PendingAuthorizationStore, closers ...func() error) Storage {
	return &splitStore{Storage: base, pending: pending, closers: closers}
}

func (s *splitStore) CreatePendingAuthorization(ctx context.Context, p *PendingAuthorization, seal StateFunc) error {
	return s.pending.CreatePendingAuthorization(ctx, p, seal)
}

func (s *splitStore) GetPendingAuthorization(ctx context.Context, id int64) (*PendingAuthorization, error) {
	return s.pending.GetPendingAuthorization(ctx, id)
}

func (s *splitStore) GetPendingAuthorizationByState(ctx context.Context, state string) (*PendingAuthorization, error) {
	return s.pending.GetPendingAuthorizationByState(ctx, state)
}

func (s *splitStore) ConsumePendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error) {
	return s.pending.ConsumePendingAuthorization(ctx, state)
}

func (s *splitStore) DeletePendingAuthorization(ctx context.Context, id int64) error {
	return s.pending.DeletePendingAuthorization(ctx, id)
}

func (s *splitStore) ListExpiredPendingAuthorizations(ctx context.Context, cutoff time.Time) ([]*PendingAuthorization, error) {
	return s.pending.ListExpiredPendingAuthorizations(ctx, cutoff)
}

func (s *splitStore) Close() error {
	err := s.Storage.Close()
	for _, closer := range s.closers {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
