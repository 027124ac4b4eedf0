// sphinx.go - Sphinx packet format.
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

// Package sphinx implements the ComLock Sphinx packet format: a fixed
// size onion packet whose header and payload are peeled layer by layer
// with per-hop ephemeral Diffie-Hellman.  Cover packets and real
// packets are byte-indistinguishable to an observer without hop keys.
package sphinx

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/util"

	"github.com/ElMoorish/ComLock/sphinx/commands"
	"github.com/ElMoorish/ComLock/sphinx/internal/crypto"
)

const (
	// Version is the wire version of the packet format.
	Version = 0x01

	// PayloadTagCover marks a terminal payload as cover traffic, to be
	// dropped without delivery.
	PayloadTagCover = 0x00

	// PayloadTagDeliver marks a terminal payload carrying an end to end
	// envelope.
	PayloadTagDeliver = 0x01
)

var (
	errTruncatedPayload = errors.New("sphinx: truncated payload")
	errInvalidTag       = errors.New("sphinx: payload auth failed")

	// ErrInvalidPacket is returned for any packet that fails structural
	// or MAC validation.  Callers drop such packets silently; there is
	// no error channel back to the wire.
	ErrInvalidPacket = errors.New("sphinx: invalid packet")
)

// PathHop describes a hop that a Sphinx packet will traverse, along
// with all of the per-hop commands (excluding NextNodeHop).
type PathHop struct {
	ID        [commands.NodeIDLength]byte
	PublicKey nike.PublicKey
	Commands  []commands.RoutingCommand
}

type sprpKey struct {
	key [crypto.SPRPKeyLength]byte
	iv  [crypto.SPRPIVLength]byte
}

func (k *sprpKey) Reset() {
	util.ExplicitBzero(k.key[:])
	util.ExplicitBzero(k.iv[:])
}

// Sphinx is an instance of the ComLock Sphinx packet factory.
type Sphinx struct {
	nike nike.Scheme
	geo  *Geometry
}

// NewSphinx creates a new instance of Sphinx.
func NewSphinx(n nike.Scheme, geo *Geometry) *Sphinx {
	return &Sphinx{nike: n, geo: geo}
}

// Geometry returns the Sphinx packet geometry.
func (s *Sphinx) Geometry() *Geometry {
	return s.geo
}

func (s *Sphinx) commandsToBytes(cmds []commands.RoutingCommand, isTerminal bool) ([]byte, error) {
	b := make([]byte, 0, s.geo.PerHopRoutingInfoLength)
	for _, v := range cmds {
		// NextNodeHop is generated by the header creation process.
		if _, isNextNodeHop := v.(*commands.NextNodeHop); isNextNodeHop {
			return nil, errors.New("sphinx: invalid commands, NextNodeHop")
		}
		b = v.ToBytes(b)
	}
	if len(b) > s.geo.PerHopRoutingInfoLength {
		return nil, errors.New("sphinx: invalid commands, oversized serialized block")
	}
	if !isTerminal && len(b)+commands.NextNodeHopLength > s.geo.PerHopRoutingInfoLength {
		return nil, errors.New("sphinx: invalid commands, insufficient remaining capacity")
	}
	return b, nil
}

func (s *Sphinx) createHeader(r io.Reader, path []*PathHop) ([]byte, []*sprpKey, error) {
	nrHops := len(path)
	if nrHops == 0 || nrHops > s.geo.NrHops {
		return nil, nil, errors.New("sphinx: invalid path")
	}

	// Derive the key material for each hop.
	clientPublicKey, clientPrivateKey, err := s.nike.GenerateKeyPairFromEntropy(r)
	if err != nil {
		return nil, nil, err
	}
	defer clientPrivateKey.Reset()
	defer clientPublicKey.Reset()

	groupElements := make([]nike.PublicKey, nrHops)
	keys := make([]*crypto.PacketKeys, nrHops)

	sharedSecret := s.nike.DeriveSecret(clientPrivateKey, path[0].PublicKey)
	defer util.ExplicitBzero(sharedSecret)

	keys[0] = crypto.KDF(sharedSecret, s.nike)
	defer keys[0].Reset()

	groupElements[0], err = s.nike.UnmarshalBinaryPublicKey(clientPublicKey.Bytes())
	if err != nil {
		return nil, nil, err
	}

	for i := 1; i < nrHops; i++ {
		sharedSecret = s.nike.DeriveSecret(clientPrivateKey, path[i].PublicKey)
		for j := 0; j < i; j++ {
			pubkey := s.nike.NewEmptyPublicKey()
			if err = pubkey.FromBytes(sharedSecret); err != nil {
				return nil, nil, err
			}
			blinded := s.nike.Blind(pubkey, keys[j].BlindingFactor)
			sharedSecret = blinded.Bytes()
		}
		keys[i] = crypto.KDF(sharedSecret, s.nike)
		defer keys[i].Reset()

		if err := clientPublicKey.Blind(keys[i-1].BlindingFactor); err != nil {
			return nil, nil, err
		}
		groupElements[i], err = s.nike.UnmarshalBinaryPublicKey(clientPublicKey.Bytes())
		if err != nil {
			return nil, nil, err
		}
	}

	// Derive the routing_information keystream and encrypted padding
	// for each hop.
	riKeyStream := make([][]byte, nrHops)
	riPadding := make([][]byte, nrHops)

	for i := 0; i < nrHops; i++ {
		keyStream := make([]byte, s.geo.RoutingInfoLength+s.geo.PerHopRoutingInfoLength)
		defer util.ExplicitBzero(keyStream)

		streamCipher := crypto.NewStream(&keys[i].HeaderEncryption, &keys[i].HeaderEncryptionIV)
		streamCipher.KeyStream(keyStream)
		streamCipher.Reset()

		ksLen := len(keyStream) - (i+1)*s.geo.PerHopRoutingInfoLength
		riKeyStream[i] = keyStream[:ksLen]
		riPadding[i] = keyStream[ksLen:]
		if i > 0 {
			prevPadLen := len(riPadding[i-1])
			xorBytes(riPadding[i][:prevPadLen], riPadding[i][:prevPadLen], riPadding[i-1])
		}
	}

	// Create the routing_information block.
	var mac []byte
	var routingInfo []byte
	if skippedHops := s.geo.NrHops - nrHops; skippedHops > 0 {
		routingInfo = make([]byte, skippedHops*s.geo.PerHopRoutingInfoLength)
		if _, err := io.ReadFull(r, routingInfo); err != nil {
			return nil, nil, err
		}
	}
	zeroBytes := make([]byte, s.geo.PerHopRoutingInfoLength)
	for i := nrHops - 1; i >= 0; i-- {
		isTerminal := i == nrHops-1

		riFragment, err := s.commandsToBytes(path[i].Commands, isTerminal)
		if err != nil {
			return nil, nil, err
		}
		if !isTerminal {
			nextCmd := &commands.NextNodeHop{}
			copy(nextCmd.ID[:], path[i+1].ID[:])
			copy(nextCmd.MAC[:], mac)
			riFragment = nextCmd.ToBytes(riFragment)
		}
		if padLen := s.geo.PerHopRoutingInfoLength - len(riFragment); padLen > 0 {
			riFragment = append(riFragment, zeroBytes[:padLen]...)
		}

		routingInfo = append(riFragment, routingInfo...) // Prepend.
		xorBytes(routingInfo, routingInfo, riKeyStream[i])

		m := crypto.NewMAC(&keys[i].HeaderMAC)
		defer m.Reset()
		m.Write([]byte{Version})
		m.Write(groupElements[i].Bytes())
		m.Write(routingInfo)
		if i > 0 {
			m.Write(riPadding[i-1])
		}
		mac = m.Sum(nil)
	}

	// Assemble the completed Sphinx Packet Header and SPRP key vector.
	hdr := make([]byte, 0, s.geo.HeaderLength)
	hdr = append(hdr, groupElements[0].Bytes()...)
	hdr = append(hdr, routingInfo...)
	hdr = append(hdr, mac...)

	sprpKeys := make([]*sprpKey, 0, nrHops)
	for i := 0; i < nrHops; i++ {
		v := keys[i]

		// The header encryption IV is reused for the SPRP because the
		// keys *and* more importantly the primitives are different.
		k := new(sprpKey)
		copy(k.key[:], v.PayloadEncryption[:])
		copy(k.iv[:], v.HeaderEncryptionIV[:])
		sprpKeys = append(sprpKeys, k)
	}

	return hdr, sprpKeys, nil
}

// NewPacket creates a forward Sphinx packet with the provided path and
// payload, using the provided entropy source.
func (s *Sphinx) NewPacket(r io.Reader, path []*PathHop, payload []byte) ([]byte, error) {
	if len(payload) != s.geo.ForwardPayloadLength {
		return nil, fmt.Errorf("sphinx: invalid payload length: %d, expected %d", len(payload), s.geo.ForwardPayloadLength)
	}

	hdr, sprpKeys, err := s.createHeader(r, path)
	if err != nil {
		return nil, err
	}
	for _, v := range sprpKeys {
		defer v.Reset()
	}

	// Assemble the packet.
	pkt := make([]byte, 0, s.geo.PacketLength)
	pkt = append(pkt, Version)
	pkt = append(pkt, hdr...)
	pkt = append(pkt, make([]byte, s.geo.PayloadTagLength)...)
	pkt = append(pkt, payload...)

	// Encrypt the payload.
	b := pkt[adLength+len(hdr):]
	for i := len(path) - 1; i >= 0; i-- {
		k := sprpKeys[i]
		b = crypto.SPRPEncrypt(&k.key, &k.iv, b)
	}
	copy(pkt[adLength+len(hdr):], b)

	return pkt, nil
}

// Unwrap unwraps the provided Sphinx packet pkt in-place, using the
// provided NIKE private key, and returns the payload (if terminal), the
// replay tag, and the routing command vector.
func (s *Sphinx) Unwrap(privKey nike.PrivateKey, pkt []byte) ([]byte, []byte, []commands.RoutingCommand, error) {
	var (
		geOff      = adLength
		riOff      = geOff + GroupElementLength
		macOff     = riOff + s.geo.RoutingInfoLength
		payloadOff = macOff + crypto.MACLength
	)

	if len(pkt) != s.geo.PacketLength {
		return nil, nil, nil, ErrInvalidPacket
	}
	if pkt[0] != Version {
		return nil, nil, nil, ErrInvalidPacket
	}

	// Calculate the hop's shared secret, and replay tag.
	groupElement, err := s.nike.UnmarshalBinaryPublicKey(pkt[geOff:riOff])
	if err != nil {
		return nil, nil, nil, ErrInvalidPacket
	}
	sharedSecret := s.nike.DeriveSecret(privKey, groupElement)
	defer util.ExplicitBzero(sharedSecret)

	replayTag := hash.Sum256(groupElement.Bytes())

	// Derive the various keys required for packet processing.
	keys := crypto.KDF(sharedSecret, s.nike)
	defer keys.Reset()

	// Validate the Sphinx packet header.
	m := crypto.NewMAC(&keys.HeaderMAC)
	defer m.Reset()
	m.Write(pkt[0:macOff])
	mac := m.Sum(nil)

	if subtle.ConstantTimeCompare(pkt[macOff:macOff+crypto.MACLength], mac) != 1 {
		return nil, replayTag[:], nil, ErrInvalidPacket
	}

	// Append padding to preserve length invariance, decrypt the
	// (padded) routing_info block, and extract the section for the
	// current hop.
	b := make([]byte, s.geo.RoutingInfoLength+s.geo.PerHopRoutingInfoLength)
	copy(b[:s.geo.RoutingInfoLength], pkt[riOff:riOff+s.geo.RoutingInfoLength])
	stream := crypto.NewStream(&keys.HeaderEncryption, &keys.HeaderEncryptionIV)
	defer stream.Reset()
	stream.XORKeyStream(b[:], b[:])

	newRoutingInfo := b[s.geo.PerHopRoutingInfoLength:]
	cmdBuf := b[:s.geo.PerHopRoutingInfoLength]

	// Parse the per-hop routing commands.
	var nextNode *commands.NextNodeHop
	cmds := make([]commands.RoutingCommand, 0, 2)
	for {
		cmd, rest, err := commands.FromBytes(cmdBuf)
		if err != nil {
			return nil, replayTag[:], nil, err
		} else if cmd == nil {
			break
		}

		if c, isNextNodeHop := cmd.(*commands.NextNodeHop); isNextNodeHop {
			if nextNode != nil {
				return nil, replayTag[:], nil, ErrInvalidPacket
			}
			nextNode = c
		}

		cmds = append(cmds, cmd)
		cmdBuf = rest
	}

	// Decrypt the Sphinx packet payload.
	payload := pkt[payloadOff:]
	payload = crypto.SPRPDecrypt(&keys.PayloadEncryption, &keys.HeaderEncryptionIV, payload)

	// Transform the packet for forwarding to the next mix, iff the
	// routing commands vector included a NextNodeHop.
	if nextNode != nil {
		if err := groupElement.Blind(keys.BlindingFactor); err != nil {
			return nil, replayTag[:], nil, ErrInvalidPacket
		}
		copy(pkt[geOff:riOff], groupElement.Bytes())
		copy(pkt[riOff:macOff], newRoutingInfo)
		copy(pkt[macOff:payloadOff], nextNode.MAC[:])
		copy(pkt[payloadOff:], payload)
		return nil, replayTag[:], cmds, nil
	}

	if len(payload) < s.geo.PayloadTagLength {
		return nil, replayTag[:], nil, errTruncatedPayload
	}
	if !util.CtIsZero(payload[:s.geo.PayloadTagLength]) {
		return nil, replayTag[:], nil, errInvalidTag
	}
	payload = payload[s.geo.PayloadTagLength:]

	return payload, replayTag[:], cmds, nil
}

func xorBytes(dst, a, b []byte) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic(fmt.Sprintf("sphinx: BUG: xorBytes called with mismatched buffer sizes, got 'len(a)' %d and 'len(b)' %d", len(a), len(b)))
	}
	for i, v := range a {
		dst[i] = v ^ b[i]
	}
}
