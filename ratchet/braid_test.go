// braid_test.go - Braid state machine tests.
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
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/crypto"
	"github.com/ElMoorish/ComLock/fragment"
)

// newPair wires up a braid pair the way the handshake would: the
// initiator's ephemeral against the responder's signed prekey, with a
// shared root key.
func newPair(t *testing.T, fragmentSize int) (alice, bob *Braid) {
	require := require.New(t)

	suite := crypto.NewSuite(rand.Reader)
	rootKey := make([]byte, crypto.KeySize)
	copy(rootKey, []byte("comlock test root key 32 bytes!!"))

	ephPub, ephPriv, err := suite.NIKE.GenerateKeyPairFromEntropy(suite.Rand)
	require.NoError(err)
	spkPub, spkPriv, err := suite.NIKE.GenerateKeyPairFromEntropy(suite.Rand)
	require.NoError(err)

	cfgA := &Config{Suite: suite, FragmentSize: fragmentSize}
	cfgB := &Config{Suite: suite, FragmentSize: fragmentSize}

	alice, err = NewInitiator(cfgA, rootKey, ephPriv, spkPub)
	require.NoError(err)
	rootKey2 := make([]byte, crypto.KeySize)
	copy(rootKey2, []byte("comlock test root key 32 bytes!!"))
	bob, err = NewResponder(cfgB, rootKey2, spkPriv, ephPub)
	require.NoError(err)
	return
}

func recvOne(t *testing.T, b *Braid, wire []byte) []byte {
	t.Helper()
	got, err := b.StepRecv(time.Now(), wire)
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0].Plaintext
}

func TestBraidInOrder(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, KEMCiphertextSize)

	// A few round trips; both KEM advertisements and the responder's
	// bootstrap DH rotation happen along the way.
	for i := 0; i < 4; i++ {
		wire, err := alice.StepSend([]byte("hello bob"))
		require.NoError(err)
		require.Equal([]byte("hello bob"), recvOne(t, bob, wire))

		wire, err = bob.StepSend([]byte("hello alice"))
		require.NoError(err)
		require.Equal([]byte("hello alice"), recvOne(t, alice, wire))
	}
}

func TestBraidFirstMessage(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, KEMCiphertextSize)

	wire, err := alice.StepSend([]byte("hello"))
	require.NoError(err)

	hdr, _, err := ParseHeader(wire)
	require.NoError(err)
	require.Equal(uint64(0), hdr.Counter)
	require.NotZero(hdr.Flags & FlagHandshakeInit)
	require.NotNil(hdr.KEMPublicKey) // Initial advertisement.

	require.Equal([]byte("hello"), recvOne(t, bob, wire))
}

func TestBraidOutOfOrder(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, KEMCiphertextSize)

	m1, err := alice.StepSend([]byte("M1"))
	require.NoError(err)
	m2, err := alice.StepSend([]byte("M2"))
	require.NoError(err)
	m3, err := alice.StepSend([]byte("M3"))
	require.NoError(err)

	// Network reorders delivery as M3, M1, M2.
	require.Equal([]byte("M3"), recvOne(t, bob, m3))
	require.Equal(2, bob.SkippedKeyCount()) // Counters {0, 1}.

	require.Equal([]byte("M1"), recvOne(t, bob, m1))
	require.Equal(1, bob.SkippedKeyCount())

	require.Equal([]byte("M2"), recvOne(t, bob, m2))
	require.Equal(0, bob.SkippedKeyCount())
}

func TestBraidDuplicateMessage(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, KEMCiphertextSize)

	m1, err := alice.StepSend([]byte("M1"))
	require.NoError(err)
	recvOne(t, bob, m1)

	// A key is derived exactly once; replaying the message fails.
	_, err = bob.StepRecv(time.Now(), m1)
	require.ErrorIs(err, ErrMessageTooOld)
}

func TestBraidAEADTamper(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, KEMCiphertextSize)

	m1, err := alice.StepSend([]byte("M1"))
	require.NoError(err)
	m2, err := alice.StepSend([]byte("M2"))
	require.NoError(err)
	m3, err := alice.StepSend([]byte("M3"))
	require.NoError(err)

	require.Equal([]byte("M1"), recvOne(t, bob, m1))

	// Flip one byte in M2's AEAD tag.
	m2[len(m2)-1] ^= 0x01
	_, err = bob.StepRecv(time.Now(), m2)
	require.ErrorIs(err, ErrAEADFailure)

	// M3 is unaffected.
	require.Equal([]byte("M3"), recvOne(t, bob, m3))
}

// TestBraidFragmentedKEM exercises the spec's delayed fragment scenario:
// the KEM ciphertext splits into 4 fragments at F=400, the second
// fragment (index 1) arrives last, after two subsequent messages.
func TestBraidFragmentedKEM(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, 400)

	// Alice's first message advertises her KEM public key.
	w, err := alice.StepSend([]byte("A0"))
	require.NoError(err)
	recvOne(t, bob, w)

	// Bob now encapsulates; the ciphertext rides as 4 fragments in
	// B0..B3, then two post-fold messages follow.
	var bw [6][]byte
	for i := range bw {
		bw[i], err = bob.StepSend([]byte{byte('0' + i)})
		require.NoError(err)
	}
	for i := 0; i < 4; i++ {
		hdr, _, err := ParseHeader(bw[i])
		require.NoError(err)
		require.NotNil(hdr.Fragment, "B%d should carry a fragment", i)
		require.Equal(uint16(i), hdr.Fragment.Index)
		require.Equal(uint16(4), hdr.Fragment.Total)
	}

	now := time.Now()

	// B0 decrypts normally (pre-fold).
	got, err := alice.StepRecv(now, bw[0])
	require.NoError(err)
	require.Len(got, 1)

	// B2 decrypts normally (still pre-fold), caching B1's key.
	got, err = alice.StepRecv(now, bw[2])
	require.NoError(err)
	require.Len(got, 1)

	// B3 carries the final fragment but the group is incomplete
	// (fragment 1 missing): parked.
	got, err = alice.StepRecv(now, bw[3])
	require.NoError(err)
	require.Empty(got)

	// B4, B5 are past the fold position: parked as well.
	got, err = alice.StepRecv(now, bw[4])
	require.NoError(err)
	require.Empty(got)
	got, err = alice.StepRecv(now, bw[5])
	require.NoError(err)
	require.Empty(got)

	// Fragment 1 arrives: the group completes, the fold is absorbed at
	// its original position, and everything parked drains.
	got, err = alice.StepRecv(now, bw[1])
	require.NoError(err)
	require.Len(got, 4)
	require.Equal(uint64(1), got[0].Counter)
	require.Equal([]byte("1"), got[0].Plaintext)
	require.Equal([]byte("3"), got[1].Plaintext)
	require.Equal([]byte("4"), got[2].Plaintext)
	require.Equal([]byte("5"), got[3].Plaintext)

	// Both sides continue in lockstep after the fold.
	w, err = alice.StepSend([]byte("post-fold"))
	require.NoError(err)
	require.Equal([]byte("post-fold"), recvOne(t, bob, w))
}

func TestBraidReassemblyTimeout(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, 400)

	w, err := alice.StepSend([]byte("A0"))
	require.NoError(err)
	recvOne(t, bob, w)

	var bw [5][]byte
	for i := range bw {
		bw[i], err = bob.StepSend([]byte{byte('0' + i)})
		require.NoError(err)
	}

	now := time.Now()
	_, err = alice.StepRecv(now, bw[0])
	require.NoError(err)

	// The fold closer arrives with the group incomplete; parked.
	got, err := alice.StepRecv(now, bw[3])
	require.NoError(err)
	require.Empty(got)

	// The group times out.
	err = alice.Sweep(now.Add(fragment.GroupTTL + time.Second))
	require.ErrorIs(err, ErrKemReassembly)

	// Messages at or beyond the abandoned fold are unrecoverable.
	_, err = alice.StepRecv(now, bw[4])
	require.ErrorIs(err, ErrStateDesynced)

	// Earlier messages are still fine.
	got, err = alice.StepRecv(now, bw[1])
	require.NoError(err)
	require.Len(got, 1)
	require.Equal([]byte("1"), got[0].Plaintext)
}

func TestBraidSkippedWindow(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, KEMCiphertextSize)

	first, err := alice.StepSend([]byte("first"))
	require.NoError(err)

	// Skip far ahead; the window bounds the catch-up.
	for i := 0; i < 8; i++ {
		_, err = alice.StepSend([]byte("skipped"))
		require.NoError(err)
	}
	last, err := alice.StepSend([]byte("last"))
	require.NoError(err)

	require.Equal([]byte("last"), recvOne(t, bob, last))
	require.Equal(9, bob.SkippedKeyCount())
	require.Equal([]byte("first"), recvOne(t, bob, first))
	require.Equal(8, bob.SkippedKeyCount())
}

func TestBraidWipe(t *testing.T) {
	require := require.New(t)
	alice, bob := newPair(t, KEMCiphertextSize)

	w, err := alice.StepSend([]byte("hello"))
	require.NoError(err)
	recvOne(t, bob, w)

	bob.Wipe()
	bob.Wipe() // Idempotent.

	_, err = bob.StepRecv(time.Now(), w)
	require.ErrorIs(err, ErrStateDesynced)
	_, err = bob.StepSend([]byte("x"))
	require.ErrorIs(err, ErrStateDesynced)
}
