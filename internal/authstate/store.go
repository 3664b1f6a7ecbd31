// Package authstate holds the authentication state of one console session:
// whether the initialization check is still running, whether the session
// is signed in, and who the user is.
package authstate

import (
	"context"
	"errors"
	"sync"

	"panel/internal/model"
)

// State is an immutable snapshot of a Store.
type State struct {
	IsAuthenticated bool
	IsLoading       bool
	User            *model.User
}

// IsAdmin reports whether the state is signed in with the admin role.
func IsAdmin(s State) bool {
	return s.IsAuthenticated && s.User.IsAdmin()
}

// HasRole returns a selector matching signed-in states with role.
func HasRole(role model.Role) func(State) bool {
	return func(s State) bool {
		return s.IsAuthenticated && s.User != nil && s.User.Role == role
	}
}

// Loading is the state of a session whose initialization check has not
// finished.
func Loading() State { return State{IsLoading: true} }

// Anonymous is the state of a session known to be signed out.
func Anonymous() State { return State{} }

// Authenticated is the state of a session signed in as u.
func Authenticated(u *model.User) State {
	return State{IsAuthenticated: true, User: u}
}

// Store is a concurrency-safe observable holder of State. Listeners run
// synchronously after each change, outside the store's lock.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

func NewStore(initial State) *Store {
	return &Store{state: initial, listeners: map[int]func(State){}}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Select applies fn to the current snapshot.
func (s *Store) Select(fn func(State) bool) bool {
	return fn(s.Snapshot())
}

// Update replaces the state with fn(current) and notifies listeners.
func (s *Store) Update(fn func(State) State) {
	s.mu.Lock()
	s.state = fn(s.state)
	next := s.state
	listeners := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
}

func (s *Store) Set(st State) {
	s.Update(func(State) State { return st })
}

// SetUser marks the session signed in as u.
func (s *Store) SetUser(u *model.User) { s.Set(Authenticated(u)) }

// Clear marks the session signed out.
func (s *Store) Clear() { s.Set(Anonymous()) }

// BeginLoading marks the initialization check as running.
func (s *Store) BeginLoading() {
	s.Update(func(st State) State {
		st.IsLoading = true
		return st
	})
}

// Subscribe registers fn for every subsequent change. The returned function
// removes it.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// ErrNoUser is returned by a fetch that succeeded without a user.
var ErrNoUser = errors.New("authstate: no user")

// Initialize runs the initialization check. The store reports loading
// until fetch returns, then settles signed in with the fetched user or
// signed out. The fetch error is returned for logging; the state is
// already settled when Initialize returns.
func (s *Store) Initialize(ctx context.Context, fetch func(context.Context) (*model.User, error)) error {
	s.BeginLoading()

	u, err := fetch(ctx)
	if err == nil && u == nil {
		err = ErrNoUser
	}
	if err != nil {
		s.Clear()
		return err
	}
	s.SetUser(u)
	return nil
}
