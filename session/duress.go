// duress.go - Duress PIN and dead-man wipe policy.
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
	"crypto/subtle"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/hash"
)

// PINResult classifies a PIN attempt.
type PINResult int

const (
	// PINWrong is a failed attempt.
	PINWrong PINResult = iota

	// PINUnlock is the normal unlock PIN.
	PINUnlock

	// PINDuress is the distinguished duress PIN; the caller observes
	// an ordinary unlock while the store is wiped underneath.
	PINDuress
)

// Guard evaluates the panic-layer policy: duress PIN, dead-man expiry,
// and the failed attempt ceiling.  Every trigger routes to the same
// Store.Wipe sink.
type Guard struct {
	mu sync.Mutex

	store *Store

	pinHash       []byte
	duressPinHash []byte

	deadMan    time.Duration
	lastAccess time.Time
	failed     int
	failedCeil int
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// PIN is the normal unlock PIN.
	PIN string

	// DuressPIN triggers a silent wipe.
	DuressPIN string

	// DeadMan is the inactivity window before auto-wipe; zero disables.
	DeadMan time.Duration

	// MaxFailedAttempts wipes after this many wrong PINs; zero
	// disables.
	MaxFailedAttempts int
}

// NewGuard creates a Guard bound to a store.
func NewGuard(store *Store, cfg *GuardConfig) *Guard {
	g := &Guard{
		store:      store,
		deadMan:    cfg.DeadMan,
		lastAccess: time.Now(),
		failedCeil: cfg.MaxFailedAttempts,
	}
	if cfg.PIN != "" {
		h := hash.Sum256([]byte(cfg.PIN))
		g.pinHash = h[:]
	}
	if cfg.DuressPIN != "" {
		h := hash.Sum256([]byte(cfg.DuressPIN))
		g.duressPinHash = h[:]
	}
	return g
}

// CheckPIN classifies a PIN attempt, wiping on duress or on hitting the
// failed attempt ceiling.  Duress is never surfaced as an error.
func (g *Guard) CheckPIN(pin string) PINResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := hash.Sum256([]byte(pin))
	if g.duressPinHash != nil && subtle.ConstantTimeCompare(h[:], g.duressPinHash) == 1 {
		g.store.Wipe()
		return PINDuress
	}
	if g.pinHash != nil && subtle.ConstantTimeCompare(h[:], g.pinHash) == 1 {
		g.failed = 0
		g.lastAccess = time.Now()
		return PINUnlock
	}

	g.failed++
	if g.failedCeil > 0 && g.failed >= g.failedCeil {
		g.store.Wipe()
	}
	return PINWrong
}

// CheckDeadMan wipes the store if the inactivity window has elapsed.
// Returns true if the wipe fired.
func (g *Guard) CheckDeadMan(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deadMan == 0 {
		return false
	}
	if now.Sub(g.lastAccess) < g.deadMan {
		return false
	}
	g.store.Wipe()
	return true
}

// Panic is the manual wipe trigger.
func (g *Guard) Panic() {
	g.store.Wipe()
}

// Touch records user activity for the dead-man timer.
func (g *Guard) Touch(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastAccess = now
}
