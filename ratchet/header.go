// header.go - On-wire message header.
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
	"encoding/binary"

	"github.com/ElMoorish/ComLock/fragment"
)

const (
	// Version is the wire format version.
	Version = 1

	// FlagKEMFragment marks a header carrying a KEM ciphertext fragment.
	FlagKEMFragment = 1 << 0

	// FlagHandshakeInit marks the first message of a session.
	FlagHandshakeInit = 1 << 1

	// FlagKEMPublicKey marks a header advertising a fresh KEM public key.
	FlagKEMPublicKey = 1 << 2

	// ClassicalPublicKeySize is the size of an X25519 public key.
	ClassicalPublicKeySize = 32

	// KEMPublicKeySize is the size of an ML-KEM-1024 public key.
	KEMPublicKeySize = 1568

	// KEMCiphertextSize is the size of an ML-KEM-1024 ciphertext.
	KEMCiphertextSize = 1568

	// headerBaseSize is version + flags + classical pub + counter +
	// previous chain length.
	headerBaseSize = 1 + 1 + ClassicalPublicKeySize + 8 + 4
)

// Header is the plaintext message header, bound to the envelope as AEAD
// associated data.  All integers are network byte order.
type Header struct {
	// Flags is the bitfield of Flag values.
	Flags uint8

	// ClassicalPublicKey is the sender's current X25519 ratchet public.
	ClassicalPublicKey [ClassicalPublicKeySize]byte

	// Counter is the per-chain send counter.
	Counter uint64

	// PrevChainLength is the length of the sender's previous sending
	// chain, used for catch up across DH ratchet boundaries.
	PrevChainLength uint32

	// KEMPublicKey is the advertised ML-KEM-1024 public key, present
	// iff FlagKEMPublicKey is set.
	KEMPublicKey []byte

	// Fragment is the KEM ciphertext fragment, present iff
	// FlagKEMFragment is set.
	Fragment *fragment.Descriptor
}

// ToBytes serializes the header.
func (h *Header) ToBytes() []byte {
	size := headerBaseSize
	if h.KEMPublicKey != nil {
		size += KEMPublicKeySize
	}
	if h.Fragment != nil {
		size += fragment.DescriptorOverhead + len(h.Fragment.Payload)
	}

	b := make([]byte, 0, size)
	b = append(b, Version)
	flags := h.Flags &^ (FlagKEMFragment | FlagKEMPublicKey)
	if h.Fragment != nil {
		flags |= FlagKEMFragment
	}
	if h.KEMPublicKey != nil {
		flags |= FlagKEMPublicKey
	}
	b = append(b, flags)
	b = append(b, h.ClassicalPublicKey[:]...)
	b = binary.BigEndian.AppendUint64(b, h.Counter)
	b = binary.BigEndian.AppendUint32(b, h.PrevChainLength)
	if h.KEMPublicKey != nil {
		b = append(b, h.KEMPublicKey...)
	}
	if h.Fragment != nil {
		b = h.Fragment.ToBytes(b)
	}
	return b
}

// ParseHeader parses a header from the front of b, returning the header
// and the number of bytes consumed.
func ParseHeader(b []byte) (*Header, int, error) {
	if len(b) < headerBaseSize {
		return nil, 0, ErrInvalidHeader
	}
	if b[0] != Version {
		return nil, 0, ErrInvalidHeader
	}
	h := &Header{Flags: b[1]}
	off := 2
	copy(h.ClassicalPublicKey[:], b[off:off+ClassicalPublicKeySize])
	off += ClassicalPublicKeySize
	h.Counter = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	h.PrevChainLength = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	if h.Flags&FlagKEMPublicKey != 0 {
		if len(b) < off+KEMPublicKeySize {
			return nil, 0, ErrInvalidHeader
		}
		h.KEMPublicKey = make([]byte, KEMPublicKeySize)
		copy(h.KEMPublicKey, b[off:off+KEMPublicKeySize])
		off += KEMPublicKeySize
	}
	if h.Flags&FlagKEMFragment != 0 {
		d, n, err := fragment.FromBytes(b[off:])
		if err != nil {
			return nil, 0, ErrInvalidHeader
		}
		h.Fragment = d
		off += n
	}
	return h, off, nil
}
