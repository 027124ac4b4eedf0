// skipped.go - Bounded skipped message key cache.
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

import (
	"container/list"
	"time"

	"github.com/awnumar/memguard"
)

const (
	// SkippedKeyCapacity bounds the number of cached skipped message
	// keys; the least recently inserted entry is evicted beyond this.
	SkippedKeyCapacity = 1024

	// SkippedKeyTTL is the retention limit for a cached skipped key.
	SkippedKeyTTL = 7 * 24 * time.Hour
)

type skippedKeyID struct {
	epoch   uint32
	counter uint64
}

type skippedKey struct {
	id      skippedKeyID
	key     *memguard.LockedBuffer
	created time.Time
}

// skippedKeys is an LRU+TTL bounded map of message keys derived for
// counters that were skipped over during out-of-order receipt.  A key is
// removed the moment it is used.
type skippedKeys struct {
	entries map[skippedKeyID]*list.Element
	order   *list.List // Front is oldest.
}

func newSkippedKeys() *skippedKeys {
	return &skippedKeys{
		entries: make(map[skippedKeyID]*list.Element),
		order:   list.New(),
	}
}

func (s *skippedKeys) put(epoch uint32, counter uint64, key []byte, now time.Time) {
	id := skippedKeyID{epoch: epoch, counter: counter}
	if _, ok := s.entries[id]; ok {
		return
	}
	for len(s.entries) >= SkippedKeyCapacity {
		s.evict(s.order.Front())
	}
	e := &skippedKey{
		id:      id,
		key:     memguard.NewBufferFromBytes(key),
		created: now,
	}
	s.entries[id] = s.order.PushBack(e)
}

// take removes and returns the key for (epoch, counter), or nil.
func (s *skippedKeys) take(epoch uint32, counter uint64, now time.Time) []byte {
	id := skippedKeyID{epoch: epoch, counter: counter}
	el, ok := s.entries[id]
	if !ok {
		return nil
	}
	e := el.Value.(*skippedKey)
	if now.Sub(e.created) > SkippedKeyTTL {
		s.evict(el)
		return nil
	}
	key := make([]byte, e.key.Size())
	copy(key, e.key.Bytes())
	s.evict(el)
	return key
}

func (s *skippedKeys) prune(now time.Time) {
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if now.Sub(el.Value.(*skippedKey).created) > SkippedKeyTTL {
			s.evict(el)
		}
		el = next
	}
}

func (s *skippedKeys) evict(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*skippedKey)
	e.key.Destroy()
	s.order.Remove(el)
	delete(s.entries, e.id)
}

func (s *skippedKeys) len() int {
	return len(s.entries)
}

func (s *skippedKeys) wipe() {
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		s.evict(el)
		el = next
	}
}
