// qr.go - QR payloads for in-person key exchange.
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

package contact

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/katzenpost/hpqc/sign/ed25519"

	"github.com/ElMoorish/ComLock/handshake"
	"github.com/ElMoorish/ComLock/ratchet"
)

// QRTTL is how long a generated QR payload remains scannable.
const QRTTL = 300 * time.Second

var (
	// ErrQRInvalid is returned for malformed or badly signed QR
	// payloads.
	ErrQRInvalid = errors.New("contact: invalid QR payload")

	// ErrQRExpired is returned for expired QR payloads.
	ErrQRExpired = errors.New("contact: QR payload expired")
)

// qrWire is the JSON QR payload.
type qrWire struct {
	V   int    `json:"v"`
	PK  string `json:"pk"`
	KPK string `json:"kpk"`
	Sig string `json:"sig"`
}

// QRPayload is a parsed in-person key exchange payload.
type QRPayload struct {
	// ClassicalPub is the X25519 signed prekey public key.
	ClassicalPub []byte

	// KEMPub is the ML-KEM-1024 public key.
	KEMPub []byte

	createdAt time.Time
}

// NewQRPayload renders the signed JSON QR payload for a prekey bundle.
func NewQRPayload(id *handshake.Identity, bundle *handshake.PrekeyBundle) (string, error) {
	if len(bundle.SignedPrekeyPub) != ratchet.ClassicalPublicKeySize ||
		len(bundle.LongTermKEMPub) != ratchet.KEMPublicKeySize {
		return "", ErrQRInvalid
	}

	signed := make([]byte, 0, len(bundle.SignedPrekeyPub)+len(bundle.LongTermKEMPub))
	signed = append(signed, bundle.SignedPrekeyPub...)
	signed = append(signed, bundle.LongTermKEMPub...)
	sig := id.Sign(signed)

	w := &qrWire{
		V:   1,
		PK:  base64.StdEncoding.EncodeToString(bundle.SignedPrekeyPub),
		KPK: base64.StdEncoding.EncodeToString(bundle.LongTermKEMPub),
		Sig: base64.StdEncoding.EncodeToString(sig),
	}
	blob, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// ParseQRPayload parses and signature-checks a scanned QR payload
// against the expected identity key.  createdAt is when the QR was
// generated (exchanged out of band with the scan); payloads older than
// QRTTL are rejected.
func ParseQRPayload(payload string, identityPub []byte, createdAt, now time.Time) (*QRPayload, error) {
	w := new(qrWire)
	if err := json.Unmarshal([]byte(payload), w); err != nil {
		return nil, ErrQRInvalid
	}
	if w.V != 1 {
		return nil, ErrQRInvalid
	}

	pk, err := base64.StdEncoding.DecodeString(w.PK)
	if err != nil || len(pk) != ratchet.ClassicalPublicKeySize {
		return nil, ErrQRInvalid
	}
	kpk, err := base64.StdEncoding.DecodeString(w.KPK)
	if err != nil || len(kpk) != ratchet.KEMPublicKeySize {
		return nil, ErrQRInvalid
	}
	sig, err := base64.StdEncoding.DecodeString(w.Sig)
	if err != nil {
		return nil, ErrQRInvalid
	}

	scheme := ed25519.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(identityPub)
	if err != nil {
		return nil, ErrQRInvalid
	}
	signed := make([]byte, 0, len(pk)+len(kpk))
	signed = append(signed, pk...)
	signed = append(signed, kpk...)
	if !scheme.Verify(pub, signed, sig, nil) {
		return nil, ErrQRInvalid
	}

	if now.Sub(createdAt) > QRTTL {
		return nil, ErrQRExpired
	}

	return &QRPayload{
		ClassicalPub: pk,
		KEMPub:       kpk,
		createdAt:    createdAt,
	}, nil
}
