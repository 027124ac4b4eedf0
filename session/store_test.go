// store_test.go - Session store and wipe tests.
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

package session

import (
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/crypto"
	"github.com/ElMoorish/ComLock/log"
	"github.com/ElMoorish/ComLock/ratchet"
)

func testBackend(t *testing.T) *log.Backend {
	b, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return b
}

func testSessionPair(t *testing.T, a, b ContactID) (*Session, *Session) {
	require := require.New(t)

	suite := crypto.NewSuite(rand.Reader)
	rootKey := make([]byte, crypto.KeySize)
	copy(rootKey, []byte("store test root key 32 bytes...."))
	rootKey2 := make([]byte, crypto.KeySize)
	copy(rootKey2, rootKey)

	ephPub, ephPriv, err := suite.NIKE.GenerateKeyPairFromEntropy(suite.Rand)
	require.NoError(err)
	spkPub, spkPriv, err := suite.NIKE.GenerateKeyPairFromEntropy(suite.Rand)
	require.NoError(err)

	alice, err := ratchet.NewInitiator(&ratchet.Config{Suite: suite}, rootKey, ephPriv, spkPub)
	require.NoError(err)
	bob, err := ratchet.NewResponder(&ratchet.Config{Suite: suite}, rootKey2, spkPriv, ephPub)
	require.NoError(err)

	return NewSession(a, alice), NewSession(b, bob)
}

func TestStoreRoundTrip(t *testing.T) {
	require := require.New(t)

	st := NewStore(testBackend(t))
	var idA, idB ContactID
	idA[0], idB[0] = 1, 2
	sa, sb := testSessionPair(t, idA, idB)

	require.NoError(st.Add(sa))
	require.ErrorIs(st.Add(sa), ErrDuplicateContact)
	require.NoError(st.Add(sb))
	require.Equal(2, st.Len())

	got, err := st.Get(idA)
	require.NoError(err)

	wire, err := got.Send([]byte("over the store"))
	require.NoError(err)
	rx, err := sb.Recv(time.Now(), wire)
	require.NoError(err)
	require.Len(rx, 1)
	require.Equal([]byte("over the store"), rx[0].Plaintext)

	require.NoError(st.Delete(idA))
	_, err = st.Get(idA)
	require.ErrorIs(err, ErrNoSuchContact)
	_, err = sa.Send([]byte("dead"))
	require.ErrorIs(err, ErrSessionGone)
}

func TestStoreWipeIdempotent(t *testing.T) {
	require := require.New(t)

	st := NewStore(testBackend(t))
	var idA, idB ContactID
	idA[0], idB[0] = 1, 2
	sa, _ := testSessionPair(t, idA, idB)
	require.NoError(st.Add(sa))

	require.Equal(StatusActive, st.Status())
	st.Wipe()
	st.Wipe() // Idempotent.
	require.Equal(StatusDecoy, st.Status())
	require.Equal(0, st.Len())

	// Post-wipe, every operation reports the session as gone.
	_, err := st.Get(idA)
	require.ErrorIs(err, ErrSessionGone)
	require.ErrorIs(st.Add(sa), ErrSessionGone)
	_, err = sa.Send([]byte("x"))
	require.ErrorIs(err, ErrSessionGone)
}

func TestWipeDeadline(t *testing.T) {
	require := require.New(t)

	// The wipe must complete within the 100ms budget even with many
	// live sessions.
	st := NewStore(testBackend(t))
	for i := 0; i < 16; i++ {
		var idA, idB ContactID
		idA[0], idB[0] = byte(2*i), byte(2*i+1)
		idA[1], idB[1] = 1, 1
		sa, sb := testSessionPair(t, idA, idB)
		require.NoError(st.Add(sa))
		require.NoError(st.Add(sb))
	}

	start := time.Now()
	st.Wipe()
	require.Less(time.Since(start), 100*time.Millisecond)
	require.Equal(StatusDecoy, st.Status())
}

func TestGuardDuressPIN(t *testing.T) {
	require := require.New(t)

	st := NewStore(testBackend(t))
	var idA, idB ContactID
	idA[0], idB[0] = 1, 2
	sa, _ := testSessionPair(t, idA, idB)
	require.NoError(st.Add(sa))

	g := NewGuard(st, &GuardConfig{PIN: "123456", DuressPIN: "654321"})

	require.Equal(PINUnlock, g.CheckPIN("123456"))
	require.Equal(StatusActive, st.Status())

	require.Equal(PINDuress, g.CheckPIN("654321"))
	require.Equal(StatusDecoy, st.Status())
	require.Equal(0, st.Len())
}

func TestGuardFailedAttempts(t *testing.T) {
	require := require.New(t)

	st := NewStore(testBackend(t))
	g := NewGuard(st, &GuardConfig{PIN: "123456", MaxFailedAttempts: 3})

	require.Equal(PINWrong, g.CheckPIN("000000"))
	require.Equal(PINWrong, g.CheckPIN("000001"))
	require.Equal(StatusActive, st.Status())
	require.Equal(PINWrong, g.CheckPIN("000002"))
	require.Equal(StatusDecoy, st.Status())
}

func TestGuardDeadMan(t *testing.T) {
	require := require.New(t)

	st := NewStore(testBackend(t))
	g := NewGuard(st, &GuardConfig{DeadMan: 24 * time.Hour})

	now := time.Now()
	require.False(g.CheckDeadMan(now.Add(23 * time.Hour)))
	require.Equal(StatusActive, st.Status())

	require.True(g.CheckDeadMan(now.Add(25 * time.Hour)))
	require.Equal(StatusDecoy, st.Status())
}

func TestGuardPanic(t *testing.T) {
	require := require.New(t)

	st := NewStore(testBackend(t))
	g := NewGuard(st, &GuardConfig{})
	g.Panic()
	require.Equal(StatusDecoy, st.Status())
}
