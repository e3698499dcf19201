// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session stores conversation sessions: their scoped state and the
// event history agents read back on every turn.
//
// State keys are scoped by prefix:
//   - "app:" keys are shared by every user of the application
//   - "user:" keys are shared by every session of one user
//   - "temp:" keys live for a single invocation and are never persisted
//   - anything else belongs to the session
package session

import (
	"context"
	"errors"
	"iter"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/concierge/pkg/agent"
)

// Session represents a conversation session between a user and agents.
type Session interface {
	agent.Session

	// LastUpdateTime returns when the session was last modified.
	LastUpdateTime() time.Time
}

// Service manages session lifecycle and persistence.
type Service interface {
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// AppendEvent adds a complete event to the session history and applies
	// its state delta. Partial events are ignored.
	AppendEvent(ctx context.Context, session Session, event *agent.Event) error

	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) error
}

// GetRequest contains parameters for retrieving a session.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string

	// NumRecentEvents limits the history to the N most recent events.
	NumRecentEvents int

	// After limits the history to events at or after the given time.
	After time.Time
}

// GetResponse contains the retrieved session.
type GetResponse struct {
	Session Session
}

// CreateRequest contains parameters for creating a session.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string // generated if empty
	State     map[string]any
}

// CreateResponse contains the created session.
type CreateResponse struct {
	Session Session
}

// ListRequest contains parameters for listing sessions.
type ListRequest struct {
	AppName string
	UserID  string
}

// ListResponse contains the list of sessions.
type ListResponse struct {
	Sessions []Session
}

// DeleteRequest contains parameters for deleting a session.
type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// State key prefixes.
const (
	KeyPrefixApp  = "app:"
	KeyPrefixUser = "user:"
	KeyPrefixTemp = "temp:"
)

var (
	// ErrStateKeyNotExist is returned when a state key doesn't exist.
	ErrStateKeyNotExist = errors.New("state key does not exist")

	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStaleSession is returned when appending to a session that was
	// modified elsewhere after it was loaded.
	ErrStaleSession = errors.New("stale session: session has been modified since it was loaded")
)

// memorySession is the Session handed out by both services.
type memorySession struct {
	id      string
	appName string
	userID  string
	state   *memoryState
	events  *memoryEvents

	mu             sync.RWMutex
	lastUpdateTime time.Time
}

func newMemorySession(appName, userID, id string, state map[string]any, updated time.Time) *memorySession {
	return &memorySession{
		id:             id,
		appName:        appName,
		userID:         userID,
		state:          newMemoryState(state),
		events:         &memoryEvents{},
		lastUpdateTime: updated,
	}
}

func (s *memorySession) ID() string           { return s.id }
func (s *memorySession) AppName() string      { return s.appName }
func (s *memorySession) UserID() string       { return s.userID }
func (s *memorySession) State() agent.State   { return s.state }
func (s *memorySession) Events() agent.Events { return s.events }

func (s *memorySession) LastUpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateTime
}

func (s *memorySession) apply(event *agent.Event, at time.Time) {
	s.state.applyDelta(event.Actions.StateDelta)
	s.events.append(event)
	s.mu.Lock()
	s.lastUpdateTime = at
	s.mu.Unlock()
}

type memoryState struct {
	mu   sync.RWMutex
	data map[string]any
}

func newMemoryState(initial map[string]any) *memoryState {
	data := make(map[string]any, len(initial))
	maps.Copy(data, initial)
	return &memoryState{data: data}
}

func (s *memoryState) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, ErrStateKeyNotExist
	}
	return val, nil
}

func (s *memoryState) Set(key string, val any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
	return nil
}

func (s *memoryState) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// All iterates over a snapshot, so callers may mutate state while ranging.
func (s *memoryState) All() iter.Seq2[string, any] {
	s.mu.RLock()
	snapshot := maps.Clone(s.data)
	s.mu.RUnlock()
	return func(yield func(string, any) bool) {
		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}

// ClearTempKeys removes all keys with the temp: prefix.
func (s *memoryState) ClearTempKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if strings.HasPrefix(key, KeyPrefixTemp) {
			delete(s.data, key)
		}
	}
}

func (s *memoryState) applyDelta(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	applyDelta(s.data, delta)
}

func (s *memoryState) merge(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.data, values)
}

type memoryEvents struct {
	mu     sync.RWMutex
	events []*agent.Event
}

func (e *memoryEvents) All() iter.Seq[*agent.Event] {
	e.mu.RLock()
	snapshot := append([]*agent.Event(nil), e.events...)
	e.mu.RUnlock()
	return func(yield func(*agent.Event) bool) {
		for _, ev := range snapshot {
			if !yield(ev) {
				return
			}
		}
	}
}

func (e *memoryEvents) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events)
}

func (e *memoryEvents) At(i int) *agent.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i < 0 || i >= len(e.events) {
		return nil
	}
	return e.events[i]
}

func (e *memoryEvents) append(event *agent.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

// applyDelta writes delta into dst. Nil values delete keys.
func applyDelta(dst, delta map[string]any) {
	for k, v := range delta {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// splitState separates a state map by scope. App and user keys are returned
// with their prefix stripped; temp keys are dropped.
func splitState(state map[string]any) (app, user, sess map[string]any) {
	app = make(map[string]any)
	user = make(map[string]any)
	sess = make(map[string]any)
	for key, value := range state {
		switch {
		case strings.HasPrefix(key, KeyPrefixApp):
			app[strings.TrimPrefix(key, KeyPrefixApp)] = value
		case strings.HasPrefix(key, KeyPrefixUser):
			user[strings.TrimPrefix(key, KeyPrefixUser)] = value
		case strings.HasPrefix(key, KeyPrefixTemp):
		default:
			sess[key] = value
		}
	}
	return app, user, sess
}

// mergeState is the inverse of splitState.
func mergeState(app, user, sess map[string]any) map[string]any {
	merged := make(map[string]any, len(app)+len(user)+len(sess))
	maps.Copy(merged, sess)
	for k, v := range app {
		merged[KeyPrefixApp+k] = v
	}
	for k, v := range user {
		merged[KeyPrefixUser+k] = v
	}
	return merged
}

var (
	_ Session             = (*memorySession)(nil)
	_ agent.State         = (*memoryState)(nil)
	_ agent.TempClearable = (*memoryState)(nil)
	_ agent.Events        = (*memoryEvents)(nil)
)
