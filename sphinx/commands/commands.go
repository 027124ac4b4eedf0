// commands.go - Per-hop routing commands.
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

// Package commands implements the Sphinx per-hop routing commands.
package commands

import (
	"errors"
)

const (
	// NodeIDLength is the node identifier length in bytes.
	NodeIDLength = 32

	// RecipientIDLength is the recipient identifier length in bytes.
	RecipientIDLength = 32

	// MACLength mirrors the header MAC tag length.
	MACLength = 16

	// NextNodeHopLength is the serialized size of a NextNodeHop command.
	NextNodeHopLength = 1 + NodeIDLength + MACLength

	// RecipientLength is the serialized size of a Recipient command.
	RecipientLength = 1 + RecipientIDLength
)

// commandID is the wire identifier prefixing each serialized command.
type commandID byte

const (
	null        commandID = 0x00
	nextNodeHop commandID = 0x01
	recipient   commandID = 0x02
)

// ErrInvalidCommand is returned on malformed routing command blocks.
var ErrInvalidCommand = errors.New("sphinx/commands: invalid command")

// RoutingCommand is the common interface exposed by all per-hop routing
// commands.
type RoutingCommand interface {
	// ToBytes appends the serialized command to b and returns the
	// resulting slice.
	ToBytes(b []byte) []byte
}

// NextNodeHop directs a mix to forward the packet to another node.
type NextNodeHop struct {
	ID  [NodeIDLength]byte
	MAC [MACLength]byte
}

// ToBytes appends the serialized NextNodeHop to b.
func (cmd *NextNodeHop) ToBytes(b []byte) []byte {
	b = append(b, byte(nextNodeHop))
	b = append(b, cmd.ID[:]...)
	b = append(b, cmd.MAC[:]...)
	return b
}

// Recipient directs the terminal hop to deliver the payload to a local
// recipient queue.
type Recipient struct {
	ID [RecipientIDLength]byte
}

// ToBytes appends the serialized Recipient to b.
func (cmd *Recipient) ToBytes(b []byte) []byte {
	b = append(b, byte(recipient))
	b = append(b, cmd.ID[:]...)
	return b
}

// FromBytes deserializes the first per-hop routing command in b,
// returning the command (nil for the terminal null command) and the
// remainder of the buffer.
func FromBytes(b []byte) (RoutingCommand, []byte, error) {
	if len(b) == 0 {
		return nil, nil, ErrInvalidCommand
	}
	switch commandID(b[0]) {
	case null:
		// The remainder must be all null padding.
		for _, v := range b[1:] {
			if v != 0 {
				return nil, nil, ErrInvalidCommand
			}
		}
		return nil, nil, nil
	case nextNodeHop:
		if len(b) < NextNodeHopLength {
			return nil, nil, ErrInvalidCommand
		}
		cmd := new(NextNodeHop)
		copy(cmd.ID[:], b[1:1+NodeIDLength])
		copy(cmd.MAC[:], b[1+NodeIDLength:NextNodeHopLength])
		return cmd, b[NextNodeHopLength:], nil
	case recipient:
		if len(b) < RecipientLength {
			return nil, nil, ErrInvalidCommand
		}
		cmd := new(Recipient)
		copy(cmd.ID[:], b[1:RecipientLength])
		return cmd, b[RecipientLength:], nil
	default:
		return nil, nil, ErrInvalidCommand
	}
}
