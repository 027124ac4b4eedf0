// replay.go - Replay detection.
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

package sphinx

import (
	"sync"

	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
)

// ReplayFilter tracks observed replay tags.  Replayed packets are
// dropped silently.
type ReplayFilter struct {
	sync.Mutex

	f *bloom.Filter
}

// NewReplayFilter constructs a ReplayFilter.  The filter is sized for
// roughly one epoch's worth of traffic at the maximum cover rate.
func NewReplayFilter() (*ReplayFilter, error) {
	// 1 MiB, ~500k entries at p = 0.001.
	f, err := bloom.New(rand.Reader, 23, 0.001)
	if err != nil {
		return nil, err
	}
	return &ReplayFilter{f: f}, nil
}

// IsReplay marks the tag as seen, returning true if it was seen before.
func (r *ReplayFilter) IsReplay(rawTag []byte) bool {
	r.Lock()
	defer r.Unlock()

	if r.f.Entries() >= r.f.MaxEntries() {
		// A full filter fails closed: everything is a replay until the
		// filter is rotated.
		return true
	}
	return r.f.TestAndSet(rawTag)
}
