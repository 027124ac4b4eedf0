// aead.go - Envelope seal/open.
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

package crypto

import (
	"encoding/binary"
	"errors"
)

// ErrAEAD is the error returned when envelope authentication fails.
var ErrAEAD = errors.New("crypto: AEAD authentication failure")

// Message keys are derived exactly once per counter value, so the nonce
// is simply the counter.  The associated data is always the full
// serialized header bytes.
func nonceFromCounter(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], counter)
	return nonce
}

// Seal encrypts plaintext under the per-message key, binding the
// serialized header as associated data.
func (s *Suite) Seal(messageKey []byte, counter uint64, header, plaintext []byte) ([]byte, error) {
	aead, err := s.NewAEAD(messageKey)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonceFromCounter(counter), plaintext, header), nil
}

// Open decrypts and authenticates an envelope produced by Seal.
func (s *Suite) Open(messageKey []byte, counter uint64, header, ciphertext []byte) ([]byte, error) {
	aead, err := s.NewAEAD(messageKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonceFromCounter(counter), ciphertext, header)
	if err != nil {
		return nil, ErrAEAD
	}
	return plaintext, nil
}
