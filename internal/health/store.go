package health

import (
	"context"
	"fmt"
	"sync"
)

// StateStore persists the monitor state. The monitor serializes access; a
// store shared by several processes sees last-writer-wins updates.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
}

// MemoryStore keeps the state in process.
type MemoryStore struct {
	mu sync.Mutex
	st *State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: NewState()}
}

func (s *MemoryStore) Load(context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.st), nil
}

func (s *MemoryStore) Save(_ context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = clone(st)
	return nil
}

func clone(st *State) *State {
	cp := *st
	cp.Samples = st.History()
	if st.UnhealthySince != nil {
		at := *st.UnhealthySince
		cp.UnhealthySince = &at
	}
	return &cp
}

// KV is a JSON key-value store. *redis.PubSub satisfies it.
type KV interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// KVStore keeps the state under one key of a shared store, so that every
// instance behind a load balancer reports the same health.
type KVStore struct {
	kv  KV
	key string
}

func NewKVStore(kv KV, key string) *KVStore {
	return &KVStore{kv: kv, key: key}
}

func (s *KVStore) Load(ctx context.Context) (*State, error) {
	st := NewState()
	found, err := s.kv.GetJSON(ctx, s.key, st)
	if err != nil {
		return nil, fmt.Errorf("health.KVStore.Load: %w", err)
	}
	if !found {
		return NewState(), nil
	}
	if st.Samples == nil {
		st.Samples = make([]Sample, 0, HistorySize)
	}
	return st, nil
}

func (s *KVStore) Save(ctx context.Context, st *State) error {
	if err := s.kv.SetJSON(ctx, s.key, st); err != nil {
		return fmt.Errorf("health.KVStore.Save: %w", err)
	}
	return nil
}
