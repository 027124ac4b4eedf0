// invite.go - One-time invite blobs.
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

// Package contact implements the onboarding interfaces: one-time invite
// blobs for remote contact exchange, and QR payloads for in-person key
// exchange.
package contact

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/katzenpost/hpqc/sign/ed25519"

	"github.com/ElMoorish/ComLock/handshake"
	"github.com/ElMoorish/ComLock/ratchet"
)

const (
	// InviteVersion is the invite blob wire version.
	InviteVersion = 1

	identityPKSize = 32
	prekeySigSize  = 64
	inviteSigSize  = 64
	nonceSize      = 16

	inviteBodySize = 1 + identityPKSize + ratchet.KEMPublicKeySize +
		ratchet.ClassicalPublicKeySize + prekeySigSize + 8 + nonceSize
)

// Invite TTL presets offered to the caller.
const (
	InviteTTLHour = time.Hour
	InviteTTLDay  = 24 * time.Hour
	InviteTTLWeek = 7 * 24 * time.Hour
)

var (
	// ErrInviteInvalid is returned for malformed or badly signed
	// invites.
	ErrInviteInvalid = errors.New("contact: invalid invite")

	// ErrInviteExpired is returned for expired invites.
	ErrInviteExpired = errors.New("contact: invite expired")
)

// Invite is a parsed one-time invite blob.
type Invite struct {
	// IdentityPub is the inviter's Ed25519 identity public key.
	IdentityPub []byte

	// LongTermKEMPub is the inviter's ML-KEM-1024 public key.
	LongTermKEMPub []byte

	// SignedPrekeyPub is the inviter's X25519 signed prekey.
	SignedPrekeyPub []byte

	// PrekeySig is the inviter's signature over the signed prekey
	// concatenated with the long-term KEM key.
	PrekeySig []byte

	// Expiry is the expiration time.
	Expiry time.Time

	// Nonce makes each invite unique.
	Nonce [nonceSize]byte
}

// NewInvite builds a signed, base64 encoded invite blob for the given
// identity and prekey bundle, valid for ttl.
func NewInvite(rng io.Reader, id *handshake.Identity, bundle *handshake.PrekeyBundle, ttl time.Duration, now time.Time) (string, error) {
	if len(bundle.LongTermKEMPub) != ratchet.KEMPublicKeySize ||
		len(bundle.SignedPrekeyPub) != ratchet.ClassicalPublicKeySize {
		return "", ErrInviteInvalid
	}

	body := make([]byte, 0, inviteBodySize)
	body = append(body, InviteVersion)
	body = append(body, bundle.IdentityPub...)
	body = append(body, bundle.LongTermKEMPub...)
	body = append(body, bundle.SignedPrekeyPub...)
	body = append(body, bundle.PrekeySig...)
	body = binary.BigEndian.AppendUint64(body, uint64(now.Add(ttl).Unix()))

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rng, nonce[:]); err != nil {
		return "", err
	}
	body = append(body, nonce[:]...)

	sig := id.Sign(body)
	blob := append(body, sig...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// ParseInvite decodes, verifies, and expiry-checks an invite blob.
func ParseInvite(encoded string, now time.Time) (*Invite, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInviteInvalid
	}
	if len(blob) != inviteBodySize+inviteSigSize {
		return nil, ErrInviteInvalid
	}
	body := blob[:inviteBodySize]
	sig := blob[inviteBodySize:]

	if body[0] != InviteVersion {
		return nil, ErrInviteInvalid
	}

	inv := new(Invite)
	off := 1
	inv.IdentityPub = append([]byte{}, body[off:off+identityPKSize]...)
	off += identityPKSize
	inv.LongTermKEMPub = append([]byte{}, body[off:off+ratchet.KEMPublicKeySize]...)
	off += ratchet.KEMPublicKeySize
	inv.SignedPrekeyPub = append([]byte{}, body[off:off+ratchet.ClassicalPublicKeySize]...)
	off += ratchet.ClassicalPublicKeySize
	inv.PrekeySig = append([]byte{}, body[off:off+prekeySigSize]...)
	off += prekeySigSize
	inv.Expiry = time.Unix(int64(binary.BigEndian.Uint64(body[off:off+8])), 0)
	off += 8
	copy(inv.Nonce[:], body[off:off+nonceSize])

	scheme := ed25519.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(inv.IdentityPub)
	if err != nil {
		return nil, ErrInviteInvalid
	}
	if !scheme.Verify(pub, body, sig, nil) {
		return nil, ErrInviteInvalid
	}
	if now.After(inv.Expiry) {
		return nil, ErrInviteExpired
	}
	return inv, nil
}

// Bundle converts a verified invite into a prekey bundle suitable for
// handshake.Initiate.
func (inv *Invite) Bundle() *handshake.PrekeyBundle {
	return &handshake.PrekeyBundle{
		IdentityPub:     inv.IdentityPub,
		LongTermKEMPub:  inv.LongTermKEMPub,
		SignedPrekeyPub: inv.SignedPrekeyPub,
		PrekeySig:       inv.PrekeySig,
	}
}
