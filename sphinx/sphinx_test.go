// sphinx_test.go - Sphinx packet format tests.
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

package sphinx

import (
	"testing"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/sphinx/commands"
)

type nodeParams struct {
	id   [commands.NodeIDLength]byte
	pub  nike.PublicKey
	priv nike.PrivateKey
}

func newNodes(t *testing.T, scheme nike.Scheme, n int) []*nodeParams {
	nodes := make([]*nodeParams, n)
	for i := range nodes {
		pub, priv, err := scheme.GenerateKeyPairFromEntropy(rand.Reader)
		require.NoError(t, err)
		nodes[i] = &nodeParams{pub: pub, priv: priv}
		_, err = rand.Reader.Read(nodes[i].id[:])
		require.NoError(t, err)
	}
	return nodes
}

func newPath(nodes []*nodeParams, recipient [commands.RecipientIDLength]byte) []*PathHop {
	path := make([]*PathHop, len(nodes))
	for i, n := range nodes {
		path[i] = &PathHop{ID: n.id, PublicKey: n.pub}
		if i == len(nodes)-1 {
			path[i].Commands = []commands.RoutingCommand{&commands.Recipient{ID: recipient}}
		}
	}
	return path
}

func testForwardPacket(t *testing.T, nrHops int) {
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	geo := DefaultGeometry()
	s := NewSphinx(scheme, geo)

	nodes := newNodes(t, scheme, nrHops)
	var recipient [commands.RecipientIDLength]byte
	copy(recipient[:], []byte("test recipient"))
	path := newPath(nodes, recipient)

	payload := make([]byte, geo.ForwardPayloadLength)
	copy(payload, []byte{PayloadTagDeliver})
	copy(payload[1:], []byte("it was a bright cold day in april"))

	pkt, err := s.NewPacket(rand.Reader, path, payload)
	require.NoError(err)
	require.Len(pkt, geo.PacketLength)

	// Peel the onion, hop by hop.
	for i, n := range nodes {
		b, tag, cmds, err := s.Unwrap(n.priv, pkt)
		require.NoErrorf(err, "hop %d", i)
		require.Len(tag, 32)

		if i == len(nodes)-1 {
			require.Len(cmds, 1)
			rcpt, ok := cmds[0].(*commands.Recipient)
			require.True(ok)
			require.Equal(recipient, rcpt.ID)
			require.Equal(payload, b)
		} else {
			require.Nil(b)
			require.Len(cmds, 1)
			next, ok := cmds[0].(*commands.NextNodeHop)
			require.True(ok)
			require.Equal(nodes[i+1].id, next.ID)
			// The packet size is preserved at every hop.
			require.Len(pkt, geo.PacketLength)
		}
	}
}

func TestForwardPacket(t *testing.T) {
	geo := DefaultGeometry()
	for nrHops := 1; nrHops <= geo.NrHops; nrHops++ {
		testForwardPacket(t, nrHops)
	}
}

func TestUnwrapMACTamper(t *testing.T) {
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	geo := DefaultGeometry()
	s := NewSphinx(scheme, geo)

	nodes := newNodes(t, scheme, 3)
	var recipient [commands.RecipientIDLength]byte
	path := newPath(nodes, recipient)

	payload := make([]byte, geo.ForwardPayloadLength)
	pkt, err := s.NewPacket(rand.Reader, path, payload)
	require.NoError(err)

	// Flip a bit in the routing info; the hop MAC check must fail and
	// still yield a replay tag for accounting.
	pkt[64] ^= 0x01
	b, tag, _, err := s.Unwrap(nodes[0].priv, pkt)
	require.ErrorIs(err, ErrInvalidPacket)
	require.Nil(b)
	require.NotNil(tag)
}

func TestUnwrapWrongKey(t *testing.T) {
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	geo := DefaultGeometry()
	s := NewSphinx(scheme, geo)

	nodes := newNodes(t, scheme, 2)
	var recipient [commands.RecipientIDLength]byte
	path := newPath(nodes, recipient)

	payload := make([]byte, geo.ForwardPayloadLength)
	pkt, err := s.NewPacket(rand.Reader, path, payload)
	require.NoError(err)

	// Unwrapping with the wrong hop key fails the MAC.
	_, _, _, err = s.Unwrap(nodes[1].priv, pkt)
	require.ErrorIs(err, ErrInvalidPacket)
}

func TestPacketSizeInvariance(t *testing.T) {
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	geo := DefaultGeometry()
	s := NewSphinx(scheme, geo)

	var recipient [commands.RecipientIDLength]byte

	// Cover and real packets at every path length are the same size.
	for nrHops := 1; nrHops <= geo.NrHops; nrHops++ {
		nodes := newNodes(t, scheme, nrHops)
		path := newPath(nodes, recipient)

		payload := make([]byte, geo.ForwardPayloadLength)
		payload[0] = PayloadTagCover
		pkt, err := s.NewPacket(rand.Reader, path, payload)
		require.NoError(err)
		require.Len(pkt, PacketLength)
	}
}

func TestReplayFilter(t *testing.T) {
	require := require.New(t)

	f, err := NewReplayFilter()
	require.NoError(err)

	tag := make([]byte, 32)
	_, err = rand.Reader.Read(tag)
	require.NoError(err)

	require.False(f.IsReplay(tag))
	require.True(f.IsReplay(tag))
}

func TestGeometry(t *testing.T) {
	require := require.New(t)

	geo := DefaultGeometry()
	// The fixed on-wire layout: version byte, 1024 byte header, the
	// rest payload.
	require.Equal(32768, geo.PacketLength)
	require.Equal(1024, geo.HeaderLength)
	require.Equal(geo.PacketLength-1-geo.HeaderLength-geo.PayloadTagLength, geo.ForwardPayloadLength)
	require.Equal(geo.RoutingInfoLength, geo.NrHops*geo.PerHopRoutingInfoLength)
	require.NotEmpty(geo.String())
}
