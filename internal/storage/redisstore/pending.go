// Package redisstore keeps pending authorizations in Redis so several broker
// instances can share them without a SQL round trip.
//
// Layout under the key prefix:
//
//	seq            INCR counter for ids
//	id:<id>        JSON record
//	state:<state>  id, consumed with GETDEL
//	expiry         sorted set of ids scored by expiry in unix milliseconds
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"token-broker/internal/redis"
	"token-broker/internal/storage"
)

const DefaultPrefix = "tokenbroker:pending:"

// Compile-time interface assertion.
var _ storage.PendingAuthorizationStore = (*PendingStore)(nil)

type PendingStore struct {
	client *redis.Client
	prefix string
}

func NewPendingStore(client *redis.Client, prefix string) *PendingStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &PendingStore{client: client, prefix: prefix}
}

func (s *PendingStore) seqKey() string { return s.prefix + "seq" }
func (s *PendingStore) expiryKey() string { return s.prefix + "expiry" }
func (s *PendingStore) recordKey(id int64) string { return s.prefix + "id:" + strconv.FormatInt(id, 10) }
func (s *PendingStore) stateKey(state string) string { return s.prefix + "state:" + state }

func (s *PendingStore) CreatePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization, seal storage.StateFunc) error {
	id, err := s.client.Incr(ctx, s.seqKey())
	if err != nil {
		return fmt.Errorf("failed to allocate pending authorization id: %w", err)
	}

	state, err := seal(id)
	if err != nil {
		return err
	}

	claimed, err := s.client.SetNX(ctx, s.stateKey(state), id, 0)
	if err != nil {
		return fmt.Errorf("failed to index pending authorization state: %w", err)
	}
	if !claimed {
		return fmt.Errorf("state key collision for pending authorization %d", id)
	}

	record := *p
	record.ID = id
	record.StateKey = state
	err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.recordKey(id), data, 0)
		pipe.ZAdd(ctx, s.expiryKey(), &goredis.Z{Score: float64(record.ExpiresAt.UnixMilli()), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		_ = s.client.Delete(ctx, s.stateKey(state))
		return fmt.Errorf("failed to store pending authorization: %w", err)
	}

	p.ID = id
	p.StateKey = state
	return nil
}

func (s *PendingStore) GetPendingAuthorization(ctx context.Context, id int64) (*storage.PendingAuthorization, error) {
	var p storage.PendingAuthorization
	err := s.client.GetJSON(ctx, s.recordKey(id), &p)
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending authorization: %w", err)
	}
	return &p, nil
}

func (s *PendingStore) GetPendingAuthorizationByState(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	raw, err := s.client.Get(ctx, s.stateKey(state))
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pending authorization state: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt state index for %s: %w", state, err)
	}
	return s.GetPendingAuthorization(ctx, id)
}

// ConsumePendingAuthorization relies on GETDEL of the state index: only one caller can win it.
func (s *PendingStore) ConsumePendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	id, err := s.client.GetDelInt64(ctx, s.stateKey(state))
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}

	p, err := s.GetPendingAuthorization(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.removeRecord(ctx, id); err != nil {
		return nil, err
	}
	// a concurrent delete by id may have removed the record already
	return p, nil
}

func (s *PendingStore) DeletePendingAuthorization(ctx context.Context, id int64) error {
	p, err := s.GetPendingAuthorization(ctx, id)
	if err != nil {
		return err
	}
	if p != nil {
		if err := s.client.Delete(ctx, s.stateKey(p.StateKey)); err != nil {
			return fmt.Errorf("failed to delete pending authorization state: %w", err)
		}
	}
	return s.removeRecord(ctx, id)
}

func (s *PendingStore) removeRecord(ctx context.Context, id int64) error {
	err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.ZRem(ctx, s.expiryKey(), strconv.FormatInt(id, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete pending authorization: %w", err)
	}
	return nil
}

func (s *PendingStore) ListExpiredPendingAuthorizations(ctx context.Context, cutoff time.Time) ([]*storage.PendingAuthorization, error) {
	members, err := s.client.ZRangeByMaxScore(ctx, s.expiryKey(), float64(cutoff.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired pending authorizations: %w", err)
	}

	var out []*storage.PendingAuthorization
	var dangling []string
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			dangling = append(dangling, member)
			continue
		}
		p, err := s.GetPendingAuthorization(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			dangling = append(dangling, member)
			continue
		}
		out = append(out, p)
	}

	if err := s.client.ZRem(ctx, s.expiryKey(), dangling...); err != nil {
		return nil, fmt.Errorf("failed to prune expiry index: %w", err)
	}
	return out, nil
}
