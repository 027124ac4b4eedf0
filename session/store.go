// store.go - Session store and wipe policy.
// Copyright (C) 2025  The ComLock Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package session

import (
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/ElMoorish/ComLock/log"
)

// Status is the store's operating mode.
type Status int

const (
	// StatusActive is normal operation.
	StatusActive Status = iota

	// StatusDecoy is the post-wipe mode: the store presents as empty
	// and stays that way.
	StatusDecoy
)

func (s Status) String() string {
	if s == StatusDecoy {
		return "decoy"
	}
	return "active"
}

// Store owns every session.  Sessions never hold a pointer back to the
// store; the wipe path iterates the arena from above.
type Store struct {
	mu sync.RWMutex

	logger   *logging.Logger
	sessions map[ContactID]*Session
	status   Status
}

// NewStore creates an empty session store.
func NewStore(logBackend *log.Backend) *Store {
	return &Store{
		logger:   logBackend.GetLogger("session/store"),
		sessions: make(map[ContactID]*Session),
	}
}

// Add inserts a session for a contact.
func (st *Store) Add(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status == StatusDecoy {
		return ErrSessionGone
	}
	if _, ok := st.sessions[s.Contact()]; ok {
		return ErrDuplicateContact
	}
	st.sessions[s.Contact()] = s
	return nil
}

// Get returns the session for a contact.
func (st *Store) Get(contact ContactID) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.status == StatusDecoy {
		return nil, ErrSessionGone
	}
	s, ok := st.sessions[contact]
	if !ok {
		return nil, ErrNoSuchContact
	}
	return s, nil
}

// Delete wipes and removes a single contact's session.
func (st *Store) Delete(contact ContactID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status == StatusDecoy {
		return ErrSessionGone
	}
	s, ok := st.sessions[contact]
	if !ok {
		return ErrNoSuchContact
	}
	s.Wipe()
	delete(st.sessions, contact)
	return nil
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Status returns the store's operating mode.
func (st *Store) Status() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}

// Sweep runs periodic expiry over every session.
func (st *Store) Sweep(now time.Time) {
	st.mu.RLock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Sweep(now); err != nil && err != ErrSessionGone {
			st.logger.Warningf("session sweep: %v", err)
		}
	}
}

// Wipe zeroizes every session and flips the store into decoy mode.
// Idempotent; a second wipe is a no-op.  This is the single sink for
// duress PIN, dead-man expiry, and manual panic.
func (st *Store) Wipe() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		s.Wipe()
		delete(st.sessions, id)
	}
	if st.status != StatusDecoy {
		st.status = StatusDecoy
		st.logger.Notice("store wiped, entering decoy mode")
	}
}
