// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the per-model message logs of a session.
//
// Each model owns an ordered log. A turn appends the user message and a
// pending assistant placeholder, and finalizes the placeholder once the
// stream ends. Finalizing is the only in-place edit a log ever sees.
package conversation

import (
	"fmt"
	"sync"

	"github.com/jeranaias/manthan/internal/model"
)

// StateError reports a conversation operation that would break the log's
// user/assistant alternation. It is fatal to the turn.
type StateError struct {
	Model  string
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("conversation %s: %s: %s", e.Model, e.Op, e.Reason)
}

type modelLog struct {
	mu       sync.Mutex
	messages []model.Message
}

// State is the set of per-model logs. Each log has its own lock, so models
// finishing at the same time never contend.
type State struct {
	mu    sync.RWMutex
	logs  map[string]*modelLog
	order []string
}

// New creates an empty conversation state.
func New() *State {
	return &State{logs: make(map[string]*modelLog)}
}

func (s *State) log(key string) *modelLog {
	s.mu.RLock()
	l, ok := s.logs[key]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[key]; !ok {
		l = &modelLog{}
		s.logs[key] = l
		s.order = append(s.order, key)
	}
	return l
}

// AppendUser appends a user message. It fails while an assistant reply is pending.
func (s *State) AppendUser(key, text string) (model.Message, error) {
	l := s.log(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.messages); n > 0 && l.messages[n-1].Pending {
		return model.Message{}, &StateError{Model: key, Op: "append user", Reason: "assistant reply still pending"}
	}
	msg := model.NewUserMessage(text)
	l.messages = append(l.messages, msg)
	return msg, nil
}

// AppendPlaceholderAssistant appends a pending assistant message. The last
// message must be a user message.
func (s *State) AppendPlaceholderAssistant(key string) (model.Message, error) {
	l := s.log(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.messages)
	if n == 0 || l.messages[n-1].Role != model.RoleUser {
		return model.Message{}, &StateError{Model: key, Op: "append placeholder", Reason: "last message is not a user message"}
	}
	msg := model.NewPlaceholder()
	l.messages = append(l.messages, msg)
	return msg, nil
}

// FinalizeAssistant sets the content of the pending placeholder and seals it.
func (s *State) FinalizeAssistant(key, text string) error {
	l := s.log(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.messages)
	if n == 0 || !l.messages[n-1].Pending || l.messages[n-1].Role != model.RoleAssistant {
		return &StateError{Model: key, Op: "finalize", Reason: "no pending assistant message"}
	}
	l.messages[n-1].Content = text
	l.messages[n-1].Pending = false
	return nil
}

// Log returns a copy of the model's messages.
func (s *State) Log(key string) []model.Message {
	s.mu.RLock()
	l, ok := s.logs[key]
	s.mu.RUnlock()
	if !ok {
		return []model.Message{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return model.CloneMessages(l.messages)
}

// Clear empties the model's log.
func (s *State) Clear(key string) {
	s.mu.RLock()
	l, ok := s.logs[key]
	s.mu.RUnlock()
	if !ok {
		return
	}
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()
}

// ClearAll empties every log.
func (s *State) ClearAll() {
	for _, key := range s.Keys() {
		s.Clear(key)
	}
}

// Keys returns the model keys in first-use order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Balanced reports whether the model's log has as many assistant messages
// as user messages.
func (s *State) Balanced(key string) bool {
	users, assistants := 0, 0
	for _, m := range s.Log(key) {
		switch m.Role {
		case model.RoleUser:
			users++
		case model.RoleAssistant:
			assistants++
		}
	}
	return users == assistants
}
