// priority_queue_test.go - Tests for priority queue.
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

package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrdering(t *testing.T) {
	require := require.New(t)

	q := New()
	q.Enqueue(30, "c")
	q.Enqueue(10, "a")
	q.Enqueue(20, "b")
	require.Equal(3, q.Len())

	require.Equal(uint64(10), q.Peek().Priority)
	require.Equal("a", q.Pop().Value.(string))
	require.Equal("b", q.Pop().Value.(string))
	require.Equal("c", q.Pop().Value.(string))
	require.Nil(q.Pop())
}

func TestPriorityQueueFilterOnce(t *testing.T) {
	require := require.New(t)

	q := New()
	q.Enqueue(1, "a")
	q.Enqueue(2, "b")
	q.Enqueue(3, "b")
	q.FilterOnce(func(v interface{}) bool { return v.(string) == "b" })
	require.Equal(2, q.Len())
	require.Equal("a", q.Pop().Value.(string))
	require.Equal("b", q.Pop().Value.(string))
}
