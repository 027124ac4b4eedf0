// kdf.go - HKDF-SHA256 key derivation chains.
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
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// These constants are the domain separation labels for the braid KDF
// chains.  Changing any of them is a wire protocol break.
const (
	braidInfo = "comlock-braid-v1"
	chainInfo = "comlock-chain"
	msgInfo   = "comlock-msg"

	handshakeSalt = "comlock-pqxdh-v1"

	initLineAInfo = "comlock-line-a"
	initLineBInfo = "comlock-line-b"
	initPQInfo    = "comlock-pq0"
)

func hkdfExpand(prk []byte, info string, size int) []byte {
	out := make([]byte, size)
	r := hkdf.Expand(sha256.New, prk, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		panic("crypto: hkdf expand failure: " + err.Error())
	}
	return out
}

// BraidStep advances a braid line.  The old root is the HKDF salt, the
// input key material is the cached classical DH output concatenated with
// the post-quantum contribution.  It returns the replacement root and the
// chain key for this step.  The caller owns zeroization of all four
// buffers.
func BraidStep(root, dhShared, contribution []byte) (newRoot, chainKey []byte) {
	ikm := make([]byte, 0, len(dhShared)+len(contribution))
	ikm = append(ikm, dhShared...)
	ikm = append(ikm, contribution...)
	defer zero(ikm)

	okm := make([]byte, 2*KeySize)
	r := hkdf.New(sha256.New, ikm, root, []byte(braidInfo))
	if _, err := io.ReadFull(r, okm); err != nil {
		panic("crypto: braid step hkdf failure: " + err.Error())
	}
	return okm[:KeySize], okm[KeySize:]
}

// ChainStep advances a message chain key, returning the next chain key
// and the message key for the current index.
func ChainStep(chainKey []byte) (next, messageKey []byte) {
	next = hkdfExpand(chainKey, chainInfo, KeySize)
	messageKey = hkdfExpand(chainKey, msgInfo, KeySize)
	return
}

// HandshakeRoot derives the session root key from the PQXDH transcript
// secrets.
func HandshakeRoot(ikm []byte) []byte {
	out := make([]byte, KeySize)
	r := hkdf.New(sha256.New, ikm, []byte(handshakeSalt), nil)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("crypto: handshake hkdf failure: " + err.Error())
	}
	return out
}

// SplitRoot expands the handshake root key into the two braid line seeds
// and the initial post-quantum secret.  The initiator's sending line is
// lineA, the responder's sending line is lineB.
func SplitRoot(rootKey []byte) (lineA, lineB, pq0 []byte) {
	lineA = hkdfExpand(rootKey, initLineAInfo, KeySize)
	lineB = hkdfExpand(rootKey, initLineBInfo, KeySize)
	pq0 = hkdfExpand(rootKey, initPQInfo, KeySize)
	return
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
