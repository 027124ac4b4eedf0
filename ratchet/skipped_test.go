// skipped_test.go - Skipped key cache tests.
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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/crypto"
)

func testKey(fill byte) []byte {
	k := make([]byte, crypto.KeySize)
	for i := range k {
		k[i] = fill
	}
	return k
}

func TestSkippedKeysTakeOnce(t *testing.T) {
	require := require.New(t)

	s := newSkippedKeys()
	now := time.Now()
	s.put(0, 5, testKey(5), now)
	require.Equal(1, s.len())

	got := s.take(0, 5, now)
	require.Equal(testKey(5), got)
	require.Equal(0, s.len())

	// A key is removed the moment it is used.
	require.Nil(s.take(0, 5, now))
}

func TestSkippedKeysEpochSeparation(t *testing.T) {
	require := require.New(t)

	s := newSkippedKeys()
	now := time.Now()
	s.put(0, 5, testKey(1), now)
	s.put(1, 5, testKey(2), now)

	require.Equal(testKey(2), s.take(1, 5, now))
	require.Equal(testKey(1), s.take(0, 5, now))
}

func TestSkippedKeysEviction(t *testing.T) {
	require := require.New(t)

	s := newSkippedKeys()
	now := time.Now()
	for i := 0; i < SkippedKeyCapacity+10; i++ {
		s.put(0, uint64(i), testKey(byte(i)), now)
	}
	require.Equal(SkippedKeyCapacity, s.len())

	// The oldest entries were evicted.
	require.Nil(s.take(0, 0, now))
	require.NotNil(s.take(0, uint64(SkippedKeyCapacity+9), now))
}

func TestSkippedKeysTTL(t *testing.T) {
	require := require.New(t)

	s := newSkippedKeys()
	now := time.Now()
	s.put(0, 1, testKey(1), now)

	// Expired on lookup.
	require.Nil(s.take(0, 1, now.Add(SkippedKeyTTL+time.Second)))
	require.Equal(0, s.len())

	// Expired by prune.
	s.put(0, 2, testKey(2), now)
	s.put(0, 3, testKey(3), now.Add(SkippedKeyTTL))
	s.prune(now.Add(SkippedKeyTTL + time.Second))
	require.Equal(1, s.len())
}

func TestSkippedKeysWipe(t *testing.T) {
	require := require.New(t)

	s := newSkippedKeys()
	now := time.Now()
	for i := 0; i < 8; i++ {
		s.put(0, uint64(i), testKey(byte(i)), now)
	}
	s.wipe()
	require.Equal(0, s.len())
}
