// identity.go - Long-term identity key material.
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

package handshake

import (
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/sign"
	"github.com/katzenpost/hpqc/sign/ed25519"

	"github.com/ElMoorish/ComLock/crypto"
)

// Identity is the long-term key material created at onboarding and
// destroyed on wipe: an Ed25519 signing pair, an X25519 identity pair
// for the classical handshake legs, and an ML-KEM-1024 pair used only
// for the initial handshake.
type Identity struct {
	SigningPub  sign.PublicKey
	signingPriv sign.PrivateKey

	NIKEPub  nike.PublicKey
	nikePriv nike.PrivateKey

	KEMPub  kem.PublicKey
	kemPriv kem.PrivateKey
}

// NewIdentity creates a fresh identity from the suite's entropy source.
func NewIdentity(suite *crypto.Suite) (*Identity, error) {
	sigScheme := ed25519.Scheme()
	seed := make([]byte, sigScheme.SeedSize())
	if _, err := io.ReadFull(suite.Rand, seed); err != nil {
		return nil, err
	}
	sigPub, sigPriv := sigScheme.DeriveKey(seed)

	nikePub, nikePriv, err := suite.NIKE.GenerateKeyPairFromEntropy(suite.Rand)
	if err != nil {
		return nil, err
	}
	kemPub, kemPriv, err := suite.GenerateKEMKeyPair()
	if err != nil {
		return nil, err
	}

	return &Identity{
		SigningPub:  sigPub,
		signingPriv: sigPriv,
		NIKEPub:     nikePub,
		nikePriv:    nikePriv,
		KEMPub:      kemPub,
		kemPriv:     kemPriv,
	}, nil
}

// Sign signs msg with the identity signing key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Scheme().Sign(id.signingPriv, msg, nil)
}

// SigningPublicBytes returns the serialized Ed25519 public key.
func (id *Identity) SigningPublicBytes() []byte {
	blob, err := id.SigningPub.MarshalBinary()
	if err != nil {
		panic("handshake: identity key marshal failure: " + err.Error())
	}
	return blob
}

// Wipe destroys the identity secrets.
func (id *Identity) Wipe() {
	id.nikePriv.Reset()
	id.kemPriv = nil
	id.signingPriv = nil
}
