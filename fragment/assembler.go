// assembler.go - Fragment group reassembly.
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

package fragment

import (
	"time"

	"github.com/katzenpost/hpqc/util"
)

// GroupTTL is how long an incomplete group is retained, measured from
// the first fragment's arrival.
const GroupTTL = 60 * time.Second

type group struct {
	frags     []*Descriptor
	total     uint16
	received  int
	firstSeen time.Time
}

func (g *group) wipe() {
	for _, f := range g.frags {
		if f != nil {
			util.ExplicitBzero(f.Payload)
		}
	}
}

// Assembler buffers fragments per group until the group is complete.
// It is not safe for concurrent use; a session's single writer owns it.
type Assembler struct {
	groups map[uint64]*group
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		groups: make(map[uint64]*group),
	}
}

// Add buffers the descriptor.  It returns the reassembled ciphertext
// once the final missing fragment arrives, or nil while incomplete.
// Duplicates are ignored.  Arrival order is arbitrary.
func (a *Assembler) Add(d *Descriptor, now time.Time) ([]byte, error) {
	g, ok := a.groups[d.GroupID]
	if !ok {
		g = &group{
			frags:     make([]*Descriptor, d.Total),
			total:     d.Total,
			firstSeen: now,
		}
		a.groups[d.GroupID] = g
	}
	if d.Total != g.total || int(d.Index) >= len(g.frags) {
		return nil, ErrMismatchedGroup
	}
	if g.frags[d.Index] != nil {
		return nil, nil // Duplicate.
	}
	g.frags[d.Index] = &Descriptor{GroupID: d.GroupID, Index: d.Index, Total: d.Total, Payload: append([]byte(nil), d.Payload...)}
	g.received++

	if g.received < int(g.total) {
		return nil, nil
	}

	ct := make([]byte, 0, int(g.total)*len(g.frags[0].Payload))
	for _, f := range g.frags {
		ct = append(ct, f.Payload...)
	}
	g.wipe()
	delete(a.groups, d.GroupID)
	return ct, nil
}

// Pending returns the number of incomplete groups.
func (a *Assembler) Pending() int {
	return len(a.groups)
}

// Sweep discards groups older than GroupTTL, zeroizing their partial
// material, and returns the IDs of the expired groups.
func (a *Assembler) Sweep(now time.Time) []uint64 {
	var expired []uint64
	for id, g := range a.groups {
		if now.Sub(g.firstSeen) >= GroupTTL {
			g.wipe()
			delete(a.groups, id)
			expired = append(expired, id)
		}
	}
	return expired
}

// Wipe zeroizes and discards all buffered fragments.
func (a *Assembler) Wipe() {
	for id, g := range a.groups {
		g.wipe()
		delete(a.groups, id)
	}
}
