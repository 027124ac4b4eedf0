// errors.go - Braid error taxonomy.
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

package ratchet

import "errors"

var (
	// ErrHandshake is returned when a classical DH produces a
	// non-contributory (all zero) output.  The step does not advance.
	ErrHandshake = errors.New("ratchet: handshake failure")

	// ErrAEADFailure is returned when envelope authentication fails.
	// Non-fatal for the session; the message is discarded.
	ErrAEADFailure = errors.New("ratchet: AEAD authentication failure")

	// ErrMessageTooOld is returned for counters below the skipped key
	// window.  Dropped silently by callers.
	ErrMessageTooOld = errors.New("ratchet: message below skipped key window")

	// ErrKemReassembly is returned when a fragment group times out or
	// its decapsulation fails.  Non-fatal; subsequent traffic continues
	// on the previous post-quantum secret.
	ErrKemReassembly = errors.New("ratchet: KEM reassembly failure")

	// ErrInvalidHeader is returned for malformed wire headers.
	ErrInvalidHeader = errors.New("ratchet: invalid header")

	// ErrStateDesynced is returned for messages whose keys depend on a
	// KEM fold this side abandoned.  Recovery requires a new handshake.
	ErrStateDesynced = errors.New("ratchet: braid state desynchronized")

	// ErrBufferFull is returned when too many undecryptable messages
	// are held waiting for a fragment group to complete.
	ErrBufferFull = errors.New("ratchet: pending message buffer full")
)
