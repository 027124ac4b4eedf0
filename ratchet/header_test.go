// header_test.go - Wire header tests.
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

	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/fragment"
)

func TestHeaderMinimal(t *testing.T) {
	require := require.New(t)

	h := &Header{Counter: 7, PrevChainLength: 3}
	copy(h.ClassicalPublicKey[:], []byte("classical public key 32 bytes..."))

	b := h.ToBytes()
	require.Len(b, headerBaseSize)

	parsed, n, err := ParseHeader(b)
	require.NoError(err)
	require.Equal(len(b), n)
	require.Equal(h.ClassicalPublicKey, parsed.ClassicalPublicKey)
	require.Equal(uint64(7), parsed.Counter)
	require.Equal(uint32(3), parsed.PrevChainLength)
	require.Nil(parsed.KEMPublicKey)
	require.Nil(parsed.Fragment)
}

func TestHeaderFull(t *testing.T) {
	require := require.New(t)

	h := &Header{
		Flags:        FlagHandshakeInit,
		Counter:      1,
		KEMPublicKey: make([]byte, KEMPublicKeySize),
		Fragment: &fragment.Descriptor{
			GroupID: 99,
			Index:   1,
			Total:   4,
			Payload: []byte("fragment bytes"),
		},
	}
	b := h.ToBytes()

	parsed, n, err := ParseHeader(b)
	require.NoError(err)
	require.Equal(len(b), n)
	require.NotZero(parsed.Flags & FlagHandshakeInit)
	require.NotZero(parsed.Flags & FlagKEMPublicKey)
	require.NotZero(parsed.Flags & FlagKEMFragment)
	require.Len(parsed.KEMPublicKey, KEMPublicKeySize)
	require.Equal(uint64(99), parsed.Fragment.GroupID)
	require.Equal([]byte("fragment bytes"), parsed.Fragment.Payload)

	// Trailing envelope bytes are not consumed.
	withEnvelope := append(b, []byte("envelope")...)
	_, n2, err := ParseHeader(withEnvelope)
	require.NoError(err)
	require.Equal(len(b), n2)
}

func TestHeaderMalformed(t *testing.T) {
	require := require.New(t)

	// Too short.
	_, _, err := ParseHeader(make([]byte, headerBaseSize-1))
	require.ErrorIs(err, ErrInvalidHeader)

	// Bad version.
	b := (&Header{}).ToBytes()
	b[0] = 99
	_, _, err = ParseHeader(b)
	require.ErrorIs(err, ErrInvalidHeader)

	// KEM public key flag without the bytes.
	b = (&Header{}).ToBytes()
	b[1] |= FlagKEMPublicKey
	_, _, err = ParseHeader(b)
	require.ErrorIs(err, ErrInvalidHeader)

	// Fragment flag without a descriptor.
	b = (&Header{}).ToBytes()
	b[1] |= FlagKEMFragment
	_, _, err = ParseHeader(b)
	require.ErrorIs(err, ErrInvalidHeader)
}
