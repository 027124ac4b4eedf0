// geometry.go - Sphinx packet geometry.
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
	"fmt"
	"strings"

	"github.com/ElMoorish/ComLock/sphinx/internal/crypto"
)

const (
	// PacketLength is the length of a ComLock Sphinx packet in bytes.
	// Every packet on the wire, cover or real, is exactly this size.
	PacketLength = 32768

	// GroupElementLength is the length of an X25519 group element.
	GroupElementLength = 32

	// adLength is the length of the version prefix.
	adLength = 1

	// payloadTagLength is the length of the Sphinx packet payload SPRP
	// tag.
	payloadTagLength = 32
)

// Geometry describes the geometry of a Sphinx packet.  The ComLock wire
// format pins every field; the struct exists so that the values are
// computed in one place and printable for diagnostics.
type Geometry struct {
	// PacketLength is the length of a packet.
	PacketLength int

	// NrHops is the number of hops the header accommodates.
	NrHops int

	// HeaderLength is the length of the Sphinx packet header in bytes,
	// excluding the version prefix.
	HeaderLength int

	// RoutingInfoLength is the length of the routing info portion of
	// the header.
	RoutingInfoLength int

	// PerHopRoutingInfoLength is the length of the per hop routing
	// info.
	PerHopRoutingInfoLength int

	// PayloadTagLength is the length of the payload tag.
	PayloadTagLength int

	// ForwardPayloadLength is the size of the usable payload.
	ForwardPayloadLength int
}

func (g *Geometry) String() string {
	var b strings.Builder
	b.WriteString("sphinx_packet_geometry:\n")
	fmt.Fprintf(&b, "packet size: %d\n", g.PacketLength)
	fmt.Fprintf(&b, "number of hops: %d\n", g.NrHops)
	fmt.Fprintf(&b, "header size: %d\n", g.HeaderLength)
	fmt.Fprintf(&b, "routing info size: %d\n", g.RoutingInfoLength)
	fmt.Fprintf(&b, "per hop routing info size: %d\n", g.PerHopRoutingInfoLength)
	fmt.Fprintf(&b, "payload tag size: %d\n", g.PayloadTagLength)
	fmt.Fprintf(&b, "forward payload size: %d\n", g.ForwardPayloadLength)
	return b.String()
}

// DefaultGeometry returns the fixed ComLock geometry: 32 KiB packets, a
// 1024 byte header accommodating 4 hops.
func DefaultGeometry() *Geometry {
	const (
		headerLength = 1024
		nrHops       = 4
	)
	routingInfoLength := headerLength - GroupElementLength - crypto.MACLength
	return &Geometry{
		PacketLength:            PacketLength,
		NrHops:                  nrHops,
		HeaderLength:            headerLength,
		RoutingInfoLength:       routingInfoLength,
		PerHopRoutingInfoLength: routingInfoLength / nrHops,
		PayloadTagLength:        payloadTagLength,
		ForwardPayloadLength:    PacketLength - adLength - headerLength - payloadTagLength,
	}
}
