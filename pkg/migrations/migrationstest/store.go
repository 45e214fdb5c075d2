// Package migrationstest provides an in-memory state store for tests.
package migrationstest

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/bootkeep/bootkeep/pkg/migrations"
)

// ErrScopeClosed is returned when a closed scope is used.
var ErrScopeClosed = errors.New("scope is closed")

// Store is an in-memory key/value store that hands out scopes with
// transaction semantics: writes become visible in the store only when the
// scope completes, and Atomic blocks roll back on error.
type Store struct {
	mu        sync.Mutex
	values    map[string]string
	writes    int
	scopes    int
	completed int

	// BeginErr, when set, is returned by BeginScope.
	BeginErr error

	// CompleteErr, when set, is returned by Scope.Complete.
	CompleteErr error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

// GetValue implements migrations.StateStore on the committed values.
func (s *Store) GetValue(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// SetValue implements migrations.StateStore on the committed values.
func (s *Store) SetValue(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.writes++
	return nil
}

// State returns the committed state of the named plan.
func (s *Store) State(plan string) (string, bool) {
	v, ok, _ := s.GetValue(context.Background(), migrations.StateKey(plan))
	return v, ok
}

// SetState seeds the committed state of the named plan.
func (s *Store) SetState(plan, state string) {
	_ = s.SetValue(context.Background(), migrations.StateKey(plan), state)
}

// Writes returns the number of state writes made through any scope or
// SetValue, including writes that were later rolled back.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Scopes returns the number of scopes opened.
func (s *Store) Scopes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopes
}

// Completed returns the number of scopes completed.
func (s *Store) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// BeginScope implements migrations.ScopeProvider.
func (s *Store) BeginScope(_ context.Context) (migrations.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	s.scopes++
	return &scope{store: s, working: maps.Clone(s.values)}, nil
}

type scope struct {
	store   *Store
	working map[string]string
	done    bool
}

func (sc *scope) DB() migrations.Database {
	return nil
}

func (sc *scope) States() migrations.StateStore {
	return (*scopeStates)(sc)
}

func (sc *scope) Atomic(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if sc.done {
		return ErrScopeClosed
	}
	snapshot := maps.Clone(sc.working)
	if err := fn(ctx); err != nil {
		sc.working = snapshot
		return err
	}
	return nil
}

func (sc *scope) Complete(_ context.Context) error {
	if sc.done {
		return ErrScopeClosed
	}
	sc.store.mu.Lock()
	defer sc.store.mu.Unlock()
	if sc.store.CompleteErr != nil {
		return sc.store.CompleteErr
	}
	sc.store.values = maps.Clone(sc.working)
	sc.store.completed++
	sc.done = true
	return nil
}

func (sc *scope) Close() error {
	sc.done = true
	return nil
}

type scopeStates scope

func (st *scopeStates) GetValue(_ context.Context, key string) (string, bool, error) {
	if st.done {
		return "", false, ErrScopeClosed
	}
	v, ok := st.working[key]
	return v, ok, nil
}

func (st *scopeStates) SetValue(_ context.Context, key, value string) error {
	if st.done {
		return ErrScopeClosed
	}
	st.working[key] = value
	st.store.mu.Lock()
	st.store.writes++
	st.store.mu.Unlock()
	return nil
}
