// sas.go - Short authentication string.
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

package handshake

import (
	"bytes"
	"crypto/subtle"
	"strings"

	"lukechampine.com/blake3"
)

const (
	sasDomain = "COMLOCK_SAS_V1"

	// sasWords is the number of words rendered; 3 words of 11 bits
	// each is 33 bits of comparison strength.
	sasWords = 3

	wordBits = 11
)

// sasPrefixes and sasSuffixes span a fixed 2048 entry wordlist of
// pronounceable compounds: word i is sasPrefixes[i>>5] + sasSuffixes[i&31].
var sasPrefixes = []string{
	"amber", "anchor", "apple", "arrow", "autumn", "badger", "bamboo", "basil",
	"beacon", "birch", "bison", "bramble", "breeze", "candle", "canyon", "cedar",
	"cinder", "clover", "cobalt", "comet", "copper", "coral", "cricket", "crystal",
	"dagger", "dawn", "delta", "drift", "ember", "falcon", "fern", "flint",
	"forest", "fox", "garnet", "ginger", "glacier", "granite", "harbor", "hazel",
	"heron", "hollow", "ivory", "jasper", "juniper", "kestrel", "lantern", "lark",
	"lichen", "lotus", "maple", "marble", "meadow", "mesa", "nettle", "north",
	"oak", "onyx", "otter", "pebble", "pine", "quartz", "raven", "willow",
}

var sasSuffixes = []string{
	"bank", "beam", "bell", "bloom", "brook", "burst", "cliff", "cloud",
	"crest", "dale", "dust", "fall", "field", "fire", "gate", "glen",
	"grove", "hill", "lake", "leaf", "light", "mist", "moon", "path",
	"peak", "pond", "ridge", "rock", "shade", "stone", "vale", "wind",
}

func sasWord(index uint32) string {
	index &= (1 << wordBits) - 1
	return sasPrefixes[index>>5] + sasSuffixes[index&31]
}

// ComputeSAS derives the short authentication string binding both
// identities to the session root key: a truncated BLAKE3 hash of the
// sorted identity keys and the root key, rendered as 3 words from the
// fixed 2048 entry wordlist.
func ComputeSAS(identityA, identityB, rootKey []byte) []string {
	lo, hi := identityA, identityB
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}

	h := blake3.New(32, nil)
	h.Write([]byte(sasDomain))
	h.Write(lo)
	h.Write(hi)
	h.Write(rootKey)
	digest := h.Sum(nil)

	// Consume 11 bits per word from the digest.
	words := make([]string, sasWords)
	var acc uint32
	var accBits uint
	off := 0
	for i := range words {
		for accBits < wordBits {
			acc = acc<<8 | uint32(digest[off])
			accBits += 8
			off++
		}
		words[i] = sasWord(acc >> (accBits - wordBits))
		accBits -= wordBits
	}
	return words
}

// VerifySAS compares a claimed SAS against the expected one in
// constant time.
func VerifySAS(identityA, identityB, rootKey []byte, claimed []string) bool {
	expected := ComputeSAS(identityA, identityB, rootKey)
	e := strings.Join(expected, " ")
	c := strings.Join(claimed, " ")
	if len(e) != len(c) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(e), []byte(c)) == 1
}
