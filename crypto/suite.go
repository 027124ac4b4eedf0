// suite.go - Cryptographic capability set.
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

// Package crypto provides the ComLock parameterization of the braid
// cryptographic operations.
package crypto

import (
	"crypto/cipher"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/katzenpost/chacha20poly1305"
	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
)

const (
	// KeySize is the size in bytes of every symmetric key in the braid.
	KeySize = 32

	// NonceSize is the size in bytes of the AEAD nonce.
	NonceSize = chacha20poly1305.NonceSize

	// AEADOverhead is the size in bytes of the AEAD tag.
	AEADOverhead = chacha20poly1305.Overhead
)

// Suite is the capability set used by a session.  Selection is fixed at
// session creation, there is no mid-session renegotiation.  The RNG is an
// explicit member so that tests can substitute a deterministic reader.
type Suite struct {
	// NIKE is the classical non-interactive key exchange.
	NIKE nike.Scheme

	// KEM is the post-quantum key encapsulation mechanism.
	KEM kem.Scheme

	// Rand is the entropy source used for all key generation.
	Rand io.Reader
}

// NewAEAD constructs the envelope AEAD for the given message key.
func (s *Suite) NewAEAD(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.New(key)
}

// GenerateKEMKeyPair derives a fresh KEM key pair from the suite's
// entropy source.  DeriveKeyPair is used rather than GenerateKeyPair so
// that the suite RNG remains the single entropy source.
func (s *Suite) GenerateKEMKeyPair() (kem.PublicKey, kem.PrivateKey, error) {
	seed := make([]byte, s.KEM.SeedSize())
	if _, err := io.ReadFull(s.Rand, seed); err != nil {
		return nil, nil, err
	}
	pk, sk := s.KEM.DeriveKeyPair(seed)
	return pk, sk, nil
}

// NewSuite returns the default ComLock suite: X25519, ML-KEM-1024,
// ChaCha20-Poly1305, with the provided entropy source.
func NewSuite(rng io.Reader) *Suite {
	if rng == nil {
		rng = rand.Reader
	}
	return &Suite{
		NIKE: x25519.Scheme(rng),
		KEM:  mlkem1024.Scheme(),
		Rand: rng,
	}
}
