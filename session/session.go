// session.go - Per-contact session state.
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

// Package session holds the in-memory per-contact session state and the
// store that owns every session's lifecycle, including the duress and
// dead-man wipe paths.
package session

import (
	"sync"
	"time"

	"github.com/ElMoorish/ComLock/ratchet"
)

// ContactID identifies a contact.
type ContactID [32]byte

// Session is the per-contact protocol state: the braid plus send side
// bookkeeping.  All mutation flows through the owning Store's single
// writer discipline; the step functions are not reentrant.
type Session struct {
	mu sync.Mutex

	contact ContactID
	braid   *ratchet.Braid

	createdAt time.Time
	gone      bool
}

// NewSession wraps a freshly handshaked braid.
func NewSession(contact ContactID, braid *ratchet.Braid) *Session {
	return &Session{
		contact:   contact,
		braid:     braid,
		createdAt: time.Now(),
	}
}

// Contact returns the session's contact ID.
func (s *Session) Contact() ContactID {
	return s.contact
}

// Send advances the braid and returns the wire blob for the plaintext.
func (s *Session) Send(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return nil, ErrSessionGone
	}
	return s.braid.StepSend(plaintext)
}

// Recv processes an inbound wire blob, returning zero or more decrypted
// messages.
func (s *Session) Recv(now time.Time, wire []byte) ([]ratchet.Received, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return nil, ErrSessionGone
	}
	return s.braid.StepRecv(now, wire)
}

// PendingFragments reports whether the braid has outbound KEM fragments
// awaiting flush.
func (s *Session) PendingFragments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return false
	}
	return s.braid.PendingFragments()
}

// Sweep expires reassembly groups and stale skipped keys.
func (s *Session) Sweep(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return ErrSessionGone
	}
	return s.braid.Sweep(now)
}

// Wipe zeroizes all session secrets.  Idempotent.
func (s *Session) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return
	}
	s.gone = true
	s.braid.Wipe()
}
