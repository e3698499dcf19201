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

package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/concierge/pkg/agent"
)

// InMemoryService returns a session service that keeps everything in
// process memory. App and user scoped state is shared between sessions.
func InMemoryService() Service {
	return &inMemoryService{
		sessions:  make(map[string]*memorySession),
		appState:  make(map[string]map[string]any),
		userState: make(map[string]map[string]any),
	}
}

type inMemoryService struct {
	mu        sync.RWMutex
	sessions  map[string]*memorySession
	appState  map[string]map[string]any
	userState map[string]map[string]any
}

func sessionKey(appName, userID, sessionID string) string {
	return appName + ":" + userID + ":" + sessionID
}

func (s *inMemoryService) Get(_ context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionKey(req.AppName, req.UserID, req.SessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.state.merge(mergeState(s.appState[req.AppName], s.userState[req.AppName+":"+req.UserID], nil))
	return &GetResponse{Session: sess}, nil
}

func (s *inMemoryService) Create(_ context.Context, req *CreateRequest) (*CreateResponse, error) {
	if req.AppName == "" || req.UserID == "" {
		return nil, errors.New("app name and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	key := sessionKey(req.AppName, req.UserID, id)
	if _, exists := s.sessions[key]; exists {
		return nil, errors.New("session already exists: " + id)
	}

	app, user, sess := splitState(req.State)
	s.updateScopes(req.AppName, req.UserID, app, user)
	merged := mergeState(s.appState[req.AppName], s.userState[req.AppName+":"+req.UserID], sess)

	session := newMemorySession(req.AppName, req.UserID, id, merged, time.Now())
	s.sessions[key] = session
	return &CreateResponse{Session: session}, nil
}

func (s *inMemoryService) AppendEvent(_ context.Context, session Session, event *agent.Event) error {
	if session == nil || event == nil {
		return errors.New("session and event are required")
	}
	if event.Partial {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(session.AppName(), session.UserID(), session.ID())]
	if !ok {
		return ErrSessionNotFound
	}

	app, user, _ := splitState(event.Actions.StateDelta)
	s.updateScopes(session.AppName(), session.UserID(), app, user)

	now := time.Now()
	stored.apply(event, now)
	if ms, ok := session.(*memorySession); ok && ms != stored {
		ms.apply(event, now)
	}
	return nil
}

func (s *inMemoryService) updateScopes(appName, userID string, app, user map[string]any) {
	if len(app) > 0 {
		if s.appState[appName] == nil {
			s.appState[appName] = make(map[string]any)
		}
		applyDelta(s.appState[appName], app)
	}
	if len(user) > 0 {
		key := appName + ":" + userID
		if s.userState[key] == nil {
			s.userState[key] = make(map[string]any)
		}
		applyDelta(s.userState[key], user)
	}
}

func (s *inMemoryService) List(_ context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []Session
	for _, sess := range s.sessions {
		if sess.appName != req.AppName {
			continue
		}
		if req.UserID != "" && sess.userID != req.UserID {
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID() < sessions[j].ID() })
	return &ListResponse{Sessions: sessions}, nil
}

func (s *inMemoryService) Delete(_ context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey(req.AppName, req.UserID, req.SessionID))
	return nil
}

var _ Service = (*inMemoryService)(nil)
