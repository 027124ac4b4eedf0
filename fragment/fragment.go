// fragment.go - KEM ciphertext fragmentation.
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

// Package fragment splits oversized KEM ciphertexts across fixed size
// message headers and reassembles them on receipt.  ML-KEM-1024
// ciphertexts do not fit in a single onion packet once the routing
// overhead is paid, so one logical ciphertext rides as a fragment group
// spread over consecutive messages.
package fragment

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// DefaultSize is the default fragment payload size in bytes.
	DefaultSize = 512

	// MaxFragments bounds the total count a descriptor may claim.
	MaxFragments = 64

	// DescriptorOverhead is the serialized size of a Descriptor less its
	// payload bytes.
	DescriptorOverhead = 8 + 2 + 2 + 2
)

var (
	// ErrInvalidDescriptor is returned when a fragment descriptor is
	// malformed.
	ErrInvalidDescriptor = errors.New("fragment: invalid descriptor")

	// ErrMismatchedGroup is returned when a fragment contradicts the
	// group it claims membership of.
	ErrMismatchedGroup = errors.New("fragment: descriptor contradicts group")
)

// Descriptor identifies one fragment of a fragment group.  It rides in
// the message header, network byte order.
type Descriptor struct {
	// GroupID is the random identifier shared by the whole group.
	GroupID uint64

	// Index is this fragment's 0-indexed position.
	Index uint16

	// Total is the number of fragments in the group.
	Total uint16

	// Payload is the fragment bytes.
	Payload []byte
}

// ToBytes appends the serialized descriptor to b.
func (d *Descriptor) ToBytes(b []byte) []byte {
	var tmp [DescriptorOverhead]byte
	binary.BigEndian.PutUint64(tmp[0:8], d.GroupID)
	binary.BigEndian.PutUint16(tmp[8:10], d.Index)
	binary.BigEndian.PutUint16(tmp[10:12], d.Total)
	binary.BigEndian.PutUint16(tmp[12:14], uint16(len(d.Payload)))
	b = append(b, tmp[:]...)
	return append(b, d.Payload...)
}

// FromBytes parses a Descriptor from b, returning the descriptor and the
// number of bytes consumed.
func FromBytes(b []byte) (*Descriptor, int, error) {
	if len(b) < DescriptorOverhead {
		return nil, 0, ErrInvalidDescriptor
	}
	d := &Descriptor{
		GroupID: binary.BigEndian.Uint64(b[0:8]),
		Index:   binary.BigEndian.Uint16(b[8:10]),
		Total:   binary.BigEndian.Uint16(b[10:12]),
	}
	fragLen := int(binary.BigEndian.Uint16(b[12:14]))
	if d.Total == 0 || d.Total > MaxFragments || d.Index >= d.Total {
		return nil, 0, ErrInvalidDescriptor
	}
	if len(b) < DescriptorOverhead+fragLen {
		return nil, 0, ErrInvalidDescriptor
	}
	d.Payload = make([]byte, fragLen)
	copy(d.Payload, b[DescriptorOverhead:DescriptorOverhead+fragLen])
	return d, DescriptorOverhead + fragLen, nil
}

// Split cuts ct into fragments of at most size bytes, under a fresh
// random group ID drawn from rng.
func Split(rng io.Reader, ct []byte, size int) ([]*Descriptor, error) {
	if size <= 0 || len(ct) == 0 {
		return nil, ErrInvalidDescriptor
	}
	total := (len(ct) + size - 1) / size
	if total > MaxFragments {
		return nil, ErrInvalidDescriptor
	}

	var idBytes [8]byte
	if _, err := io.ReadFull(rng, idBytes[:]); err != nil {
		return nil, err
	}
	groupID := binary.BigEndian.Uint64(idBytes[:])

	frags := make([]*Descriptor, 0, total)
	for i := 0; i < total; i++ {
		lo := i * size
		hi := lo + size
		if hi > len(ct) {
			hi = len(ct)
		}
		payload := make([]byte, hi-lo)
		copy(payload, ct[lo:hi])
		frags = append(frags, &Descriptor{
			GroupID: groupID,
			Index:   uint16(i),
			Total:   uint16(total),
			Payload: payload,
		})
	}
	return frags, nil
}
