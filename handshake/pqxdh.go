// pqxdh.go - PQXDH style initial key agreement.
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

// Package handshake implements the PQXDH style session handshake: a
// classical X25519 agreement against a signed prekey bundle, bound to
// an ML-KEM-1024 encapsulation against the peer's long-term KEM key,
// with an optional one-time KEM.  Its output seeds the braid.
package handshake

import (
	"errors"

	"github.com/cloudflare/circl/kem"
	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/sign/ed25519"
	"github.com/katzenpost/hpqc/util"

	"github.com/ElMoorish/ComLock/crypto"
)

var (
	// ErrAuthFailure is returned when a signature or binding check
	// fails.  Fatal for the session attempt.
	ErrAuthFailure = errors.New("handshake: verification failed")

	// ErrPrekeyReuse is returned when a one-time prekey is replayed.
	ErrPrekeyReuse = errors.New("handshake: one-time prekey reuse")

	// ErrInvalidBundle is returned for malformed bundles or offers.
	ErrInvalidBundle = errors.New("handshake: invalid bundle")
)

// PrekeyBundle is the publishable half of a responder's prekey state.
type PrekeyBundle struct {
	// IdentityPub is the responder's Ed25519 identity public key.
	IdentityPub []byte

	// IdentityNIKEPub is the responder's X25519 identity public key.
	IdentityNIKEPub []byte

	// LongTermKEMPub is the responder's ML-KEM-1024 public key.
	LongTermKEMPub []byte

	// SignedPrekeyPub is the X25519 signed prekey public key.
	SignedPrekeyPub []byte

	// PrekeySig is the Ed25519 signature over SignedPrekeyPub
	// concatenated with LongTermKEMPub.
	PrekeySig []byte

	// OneTimeKEMPub is an optional single-use ML-KEM-1024 public key.
	OneTimeKEMPub []byte `cbor:",omitempty"`
}

// Marshal serializes the bundle.
func (b *PrekeyBundle) Marshal() ([]byte, error) {
	return cbor.Marshal(b)
}

// UnmarshalPrekeyBundle parses a serialized bundle.
func UnmarshalPrekeyBundle(blob []byte) (*PrekeyBundle, error) {
	b := new(PrekeyBundle)
	if err := cbor.Unmarshal(blob, b); err != nil {
		return nil, ErrInvalidBundle
	}
	return b, nil
}

// signedBlob is the byte string covered by PrekeySig.
func (b *PrekeyBundle) signedBlob() []byte {
	blob := make([]byte, 0, len(b.SignedPrekeyPub)+len(b.LongTermKEMPub))
	blob = append(blob, b.SignedPrekeyPub...)
	blob = append(blob, b.LongTermKEMPub...)
	return blob
}

// Verify checks the bundle's prekey signature.
func (b *PrekeyBundle) Verify() error {
	scheme := ed25519.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(b.IdentityPub)
	if err != nil {
		return ErrInvalidBundle
	}
	if !scheme.Verify(pub, b.signedBlob(), b.PrekeySig, nil) {
		return ErrAuthFailure
	}
	return nil
}

// PrekeyState is the responder-side secret half of a bundle.
type PrekeyState struct {
	identity *Identity

	SignedPrekeyPriv nike.PrivateKey

	oneTimeKEMPriv kem.PrivateKey
	oneTimeUsed    bool

	bundle *PrekeyBundle
}

// Bundle returns the publishable bundle.
func (s *PrekeyState) Bundle() *PrekeyBundle {
	return s.bundle
}

// NewPrekeyState generates a signed prekey and, when withOneTime is set,
// a one-time KEM key for the given identity, and the bundle advertising
// them.
func NewPrekeyState(suite *crypto.Suite, id *Identity, withOneTime bool) (*PrekeyState, error) {
	spkPub, spkPriv, err := suite.NIKE.GenerateKeyPairFromEntropy(suite.Rand)
	if err != nil {
		return nil, err
	}

	kemPubBlob, err := id.KEMPub.MarshalBinary()
	if err != nil {
		return nil, err
	}

	s := &PrekeyState{
		identity:         id,
		SignedPrekeyPriv: spkPriv,
	}
	bundle := &PrekeyBundle{
		IdentityPub:     id.SigningPublicBytes(),
		IdentityNIKEPub: id.NIKEPub.Bytes(),
		LongTermKEMPub:  kemPubBlob,
		SignedPrekeyPub: spkPub.Bytes(),
	}
	if withOneTime {
		otkPub, otkPriv, err := suite.GenerateKEMKeyPair()
		if err != nil {
			return nil, err
		}
		bundle.OneTimeKEMPub, err = otkPub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		s.oneTimeKEMPriv = otkPriv
	}
	bundle.PrekeySig = id.Sign(bundle.signedBlob())
	s.bundle = bundle
	return s, nil
}

// Offer is the initiator's first-flight handshake material, serialized
// with Marshal.  Nothing in this module attaches an Offer to a braid
// message or fragments its KEM ciphertexts.
type Offer struct {
	// IdentityPub is the initiator's Ed25519 identity public key.
	IdentityPub []byte

	// IdentityNIKEPub is the initiator's X25519 identity public key.
	IdentityNIKEPub []byte

	// EphemeralPub is the initiator's handshake ephemeral X25519
	// public key; it seeds the braid's classical ratchet.
	EphemeralPub []byte

	// KEMCiphertext encapsulates to the responder's long-term KEM key.
	KEMCiphertext []byte

	// OneTimeKEMCiphertext encapsulates to the bundle's one-time KEM
	// key, when one was offered.
	OneTimeKEMCiphertext []byte `cbor:",omitempty"`

	// Sig is the initiator's Ed25519 signature over the transcript.
	Sig []byte
}

// Marshal serializes the offer.
func (o *Offer) Marshal() ([]byte, error) {
	return cbor.Marshal(o)
}

// UnmarshalOffer parses a serialized offer.
func UnmarshalOffer(blob []byte) (*Offer, error) {
	o := new(Offer)
	if err := cbor.Unmarshal(blob, o); err != nil {
		return nil, ErrInvalidBundle
	}
	return o, nil
}

func (o *Offer) transcript(bundle *PrekeyBundle) []byte {
	blob := make([]byte, 0, 4096)
	blob = append(blob, o.IdentityPub...)
	blob = append(blob, o.IdentityNIKEPub...)
	blob = append(blob, o.EphemeralPub...)
	blob = append(blob, o.KEMCiphertext...)
	blob = append(blob, o.OneTimeKEMCiphertext...)
	blob = append(blob, bundle.SignedPrekeyPub...)
	return blob
}

// Result is the agreed session seed.
type Result struct {
	// RootKey seeds the braid.
	RootKey []byte

	// SAS is the short authentication string for out-of-band
	// verification.
	SAS []string
}

// Initiate runs the initiator side of the handshake against a verified
// bundle.  It returns the offer to transmit, the handshake ephemeral
// private key (the braid's initial classical ratchet key), and the
// result.
func Initiate(suite *crypto.Suite, id *Identity, bundle *PrekeyBundle) (*Offer, nike.PrivateKey, *Result, error) {
	if err := bundle.Verify(); err != nil {
		return nil, nil, nil, err
	}

	spkPub, err := suite.NIKE.UnmarshalBinaryPublicKey(bundle.SignedPrekeyPub)
	if err != nil {
		return nil, nil, nil, ErrInvalidBundle
	}
	ltKEMPub, err := suite.KEM.UnmarshalBinaryPublicKey(bundle.LongTermKEMPub)
	if err != nil {
		return nil, nil, nil, ErrInvalidBundle
	}

	ephPub, ephPriv, err := suite.NIKE.GenerateKeyPairFromEntropy(suite.Rand)
	if err != nil {
		return nil, nil, nil, err
	}

	dh1 := suite.NIKE.DeriveSecret(ephPriv, spkPub)
	defer util.ExplicitBzero(dh1)
	dh2 := suite.NIKE.DeriveSecret(id.nikePriv, spkPub)
	defer util.ExplicitBzero(dh2)
	if util.CtIsZero(dh1) || util.CtIsZero(dh2) {
		return nil, nil, nil, ErrAuthFailure
	}

	kemCT, kemSS, err := suite.KEM.Encapsulate(ltKEMPub)
	if err != nil {
		return nil, nil, nil, err
	}
	defer util.ExplicitBzero(kemSS)

	offer := &Offer{
		IdentityPub:     id.SigningPublicBytes(),
		IdentityNIKEPub: id.NIKEPub.Bytes(),
		EphemeralPub:    ephPub.Bytes(),
		KEMCiphertext:   kemCT,
	}

	ikm := make([]byte, 0, 4*crypto.KeySize)
	ikm = append(ikm, dh1...)
	ikm = append(ikm, dh2...)
	ikm = append(ikm, kemSS...)

	if bundle.OneTimeKEMPub != nil {
		otkPub, err := suite.KEM.UnmarshalBinaryPublicKey(bundle.OneTimeKEMPub)
		if err != nil {
			return nil, nil, nil, ErrInvalidBundle
		}
		otkCT, otkSS, err := suite.KEM.Encapsulate(otkPub)
		if err != nil {
			return nil, nil, nil, err
		}
		defer util.ExplicitBzero(otkSS)
		offer.OneTimeKEMCiphertext = otkCT
		ikm = append(ikm, otkSS...)
	}
	defer util.ExplicitBzero(ikm)

	offer.Sig = id.Sign(offer.transcript(bundle))

	rootKey := crypto.HandshakeRoot(ikm)
	res := &Result{
		RootKey: rootKey,
		SAS:     ComputeSAS(offer.IdentityPub, bundle.IdentityPub, rootKey),
	}
	return offer, ephPriv, res, nil
}

// Respond runs the responder side of the handshake.  It returns the
// initiator's ephemeral public key (the braid's initial remote
// classical key) and the result.  A replayed one-time prekey is
// rejected.
func Respond(suite *crypto.Suite, id *Identity, state *PrekeyState, offer *Offer) (nike.PublicKey, *Result, error) {
	sigScheme := ed25519.Scheme()
	peerSigPub, err := sigScheme.UnmarshalBinaryPublicKey(offer.IdentityPub)
	if err != nil {
		return nil, nil, ErrInvalidBundle
	}
	if !sigScheme.Verify(peerSigPub, offer.transcript(state.bundle), offer.Sig, nil) {
		return nil, nil, ErrAuthFailure
	}

	if offer.OneTimeKEMCiphertext != nil {
		if state.oneTimeKEMPriv == nil {
			return nil, nil, ErrInvalidBundle
		}
		if state.oneTimeUsed {
			return nil, nil, ErrPrekeyReuse
		}
	}

	ephPub, err := suite.NIKE.UnmarshalBinaryPublicKey(offer.EphemeralPub)
	if err != nil {
		return nil, nil, ErrInvalidBundle
	}
	peerNIKEPub, err := suite.NIKE.UnmarshalBinaryPublicKey(offer.IdentityNIKEPub)
	if err != nil {
		return nil, nil, ErrInvalidBundle
	}

	dh1 := suite.NIKE.DeriveSecret(state.SignedPrekeyPriv, ephPub)
	defer util.ExplicitBzero(dh1)
	dh2 := suite.NIKE.DeriveSecret(state.SignedPrekeyPriv, peerNIKEPub)
	defer util.ExplicitBzero(dh2)
	if util.CtIsZero(dh1) || util.CtIsZero(dh2) {
		return nil, nil, ErrAuthFailure
	}

	kemSS, err := suite.KEM.Decapsulate(id.kemPriv, offer.KEMCiphertext)
	if err != nil {
		return nil, nil, ErrAuthFailure
	}
	defer util.ExplicitBzero(kemSS)

	ikm := make([]byte, 0, 4*crypto.KeySize)
	ikm = append(ikm, dh1...)
	ikm = append(ikm, dh2...)
	ikm = append(ikm, kemSS...)

	if offer.OneTimeKEMCiphertext != nil {
		otkSS, err := suite.KEM.Decapsulate(state.oneTimeKEMPriv, offer.OneTimeKEMCiphertext)
		if err != nil {
			return nil, nil, ErrAuthFailure
		}
		defer util.ExplicitBzero(otkSS)
		ikm = append(ikm, otkSS...)
		state.oneTimeUsed = true
	}
	defer util.ExplicitBzero(ikm)

	rootKey := crypto.HandshakeRoot(ikm)
	res := &Result{
		RootKey: rootKey,
		SAS:     ComputeSAS(offer.IdentityPub, state.bundle.IdentityPub, rootKey),
	}
	return ephPub, res, nil
}
