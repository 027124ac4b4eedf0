// braid.go - Hybrid classical/post-quantum ratchet state machine.
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

// Package ratchet implements the KEM braid, a double ratchet variant
// that couples an X25519 per-message ratchet with an opportunistic
// ML-KEM-1024 ratchet.  The braid is maintained as two mirrored lines, a
// sending line and a receiving line; a party's sending line is
// bit-identical to its peer's receiving line after every step.  Each
// line advances once per message, folding the cached classical DH output
// and the current post-quantum secret into the root KDF chain.
//
// KEM ciphertexts are too large for a single fixed size packet, so they
// ride as fragment groups spread over consecutive message headers.  The
// fresh KEM secret is absorbed at the header sequence position of the
// group's final fragment, on both sides, regardless of arrival order.
package ratchet

import (
	"bytes"
	"sort"
	"time"

	"github.com/awnumar/memguard"
	"github.com/cloudflare/circl/kem"
	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/util"

	"github.com/ElMoorish/ComLock/crypto"
	"github.com/ElMoorish/ComLock/fragment"
)

// pendingCapacity bounds the number of ciphertexts buffered while a
// fragment group is incomplete.
const pendingCapacity = 128

// errAwaitingGroup is an internal sentinel: the message depends on a KEM
// fold whose fragment group is still incomplete.
var errAwaitingGroup = &awaitingGroupError{}

type awaitingGroupError struct{}

func (e *awaitingGroupError) Error() string { return "ratchet: awaiting fragment group" }

// Received is one plaintext surfaced by StepRecv.  A single call may
// surface several messages when a completed fragment group unblocks
// buffered ciphertexts.
type Received struct {
	Counter   uint64
	Plaintext []byte
}

// line is one direction of the braid: a root chain, the cached classical
// DH output for the current epoch, and the current post-quantum secret.
type line struct {
	root *memguard.LockedBuffer
	dh   *memguard.LockedBuffer
	pq   *memguard.LockedBuffer
}

func newLine(root, dh, pq []byte) *line {
	return &line{
		root: memguard.NewBufferFromBytes(root),
		dh:   memguard.NewBufferFromBytes(dh),
		pq:   memguard.NewBufferFromBytes(pq),
	}
}

func (l *line) clone() *line {
	root := make([]byte, l.root.Size())
	copy(root, l.root.Bytes())
	dh := make([]byte, l.dh.Size())
	copy(dh, l.dh.Bytes())
	pq := make([]byte, l.pq.Size())
	copy(pq, l.pq.Bytes())
	return newLine(root, dh, pq)
}

// step advances the line by one message, returning the message key.
func (l *line) step(contribution []byte) []byte {
	newRoot, ck := crypto.BraidStep(l.root.Bytes(), l.dh.Bytes(), contribution)
	next, mk := crypto.ChainStep(ck)
	util.ExplicitBzero(ck)
	util.ExplicitBzero(next)
	l.root.Destroy()
	l.root = memguard.NewBufferFromBytes(newRoot)
	return mk
}

func (l *line) setDH(dh []byte) {
	l.dh.Destroy()
	l.dh = memguard.NewBufferFromBytes(dh)
}

func (l *line) setPQ(pq []byte) {
	l.pq.Destroy()
	l.pq = memguard.NewBufferFromBytes(pq)
}

func (l *line) wipe() {
	l.root.Destroy()
	l.dh.Destroy()
	l.pq.Destroy()
}

// inboundFold tracks the single outstanding inbound fragment group.
type inboundFold struct {
	groupID       uint64
	closerSeen    bool
	closerCounter uint64
	ct            []byte
}

// Config holds the knobs fixed at session creation.
type Config struct {
	// Suite is the cryptographic capability set.
	Suite *crypto.Suite

	// FragmentSize is the KEM ciphertext fragment payload size.
	FragmentSize int
}

func (c *Config) fixup() {
	if c.FragmentSize <= 0 {
		c.FragmentSize = fragment.DefaultSize
	}
}

// Braid is the per-contact ratchet state machine.  It is not reentrant;
// a session's single writer owns it.
type Braid struct {
	suite        *crypto.Suite
	fragmentSize int

	send *line
	recv *line

	classicalPriv nike.PrivateKey
	remotePub     nike.PublicKey
	prevRemotePub nike.PublicKey

	sendCounter   uint64
	recvCounter   uint64
	prevSendCount uint64
	sendEpoch     uint32
	recvEpoch     uint32

	handshakeInit bool

	// rotateFirst makes the responder rotate its classical keypair on
	// its first send, bootstrapping the DH ratchet ping-pong.
	rotateFirst bool

	pendingKEMPriv kem.PrivateKey
	advertised     bool

	remoteKEMPub   kem.PublicKey
	remoteKEMFresh bool

	outFrags []*fragment.Descriptor
	outSS    *memguard.LockedBuffer

	asm        *fragment.Assembler
	inFold     *inboundFold
	pending    map[uint64][]byte
	doneGroups map[uint64]struct{}

	desynced   bool
	desyncedAt uint64

	skipped *skippedKeys

	wiped bool
}

func newBraid(cfg *Config, rootKey []byte, classicalPriv nike.PrivateKey, remotePub nike.PublicKey, initiator bool) (*Braid, error) {
	cfg.fixup()

	dh := cfg.Suite.NIKE.DeriveSecret(classicalPriv, remotePub)
	if util.CtIsZero(dh) {
		return nil, ErrHandshake
	}
	defer util.ExplicitBzero(dh)

	// The memguard constructors consume (wipe) their inputs, so every
	// shared seed is copied up front.
	lineA, lineB, pq0 := crypto.SplitRoot(rootKey)
	sendDH := make([]byte, len(dh))
	copy(sendDH, dh)
	recvDH := make([]byte, len(dh))
	copy(recvDH, dh)
	sendPQ := make([]byte, len(pq0))
	copy(sendPQ, pq0)
	recvPQ := make([]byte, len(pq0))
	copy(recvPQ, pq0)
	util.ExplicitBzero(pq0)

	b := &Braid{
		suite:         cfg.Suite,
		fragmentSize:  cfg.FragmentSize,
		classicalPriv: classicalPriv,
		remotePub:     remotePub,
		handshakeInit: initiator,
		asm:           fragment.NewAssembler(),
		pending:       make(map[uint64][]byte),
		doneGroups:    make(map[uint64]struct{}),
		skipped:       newSkippedKeys(),
	}
	if initiator {
		b.send = newLine(lineA, sendDH, sendPQ)
		b.recv = newLine(lineB, recvDH, recvPQ)
	} else {
		b.send = newLine(lineB, sendDH, sendPQ)
		b.recv = newLine(lineA, recvDH, recvPQ)
		b.rotateFirst = true
	}
	return b, nil
}

// pq0sibling returns a copy of a PQ secret before it is handed to setPQ;
// the memguard constructor consumes (wipes) its input buffer.
func pq0sibling(pq []byte) []byte {
	out := make([]byte, len(pq))
	copy(out, pq)
	return out
}

// NewInitiator creates the initiator side of a braid.  classicalPriv is
// the handshake ephemeral X25519 private key, remotePub the peer's
// signed prekey public.
func NewInitiator(cfg *Config, rootKey []byte, classicalPriv nike.PrivateKey, remotePub nike.PublicKey) (*Braid, error) {
	return newBraid(cfg, rootKey, classicalPriv, remotePub, true)
}

// NewResponder creates the responder side of a braid.  classicalPriv is
// the signed prekey private key, remotePub the initiator's handshake
// ephemeral public.
func NewResponder(cfg *Config, rootKey []byte, classicalPriv nike.PrivateKey, remotePub nike.PublicKey) (*Braid, error) {
	return newBraid(cfg, rootKey, classicalPriv, remotePub, false)
}

// StepSend advances the sending line by one message and returns the wire
// blob (header || envelope).  On error no message state is committed,
// with one exception: the responder's one-time bootstrap keypair
// rotation is applied before the message is built and stays applied if
// a later part of the step fails.
func (b *Braid) StepSend(plaintext []byte) ([]byte, error) {
	if b.wiped {
		return nil, ErrStateDesynced
	}

	if b.rotateFirst {
		_, newPriv, err := b.suite.NIKE.GenerateKeyPairFromEntropy(b.suite.Rand)
		if err != nil {
			return nil, err
		}
		sendDH := b.suite.NIKE.DeriveSecret(newPriv, b.remotePub)
		if util.CtIsZero(sendDH) {
			util.ExplicitBzero(sendDH)
			return nil, ErrHandshake
		}
		b.send.setDH(sendDH)
		b.classicalPriv.Reset()
		b.classicalPriv = newPriv
		b.prevSendCount = b.sendCounter
		b.sendCounter = 0
		b.sendEpoch++
		b.advertised = false
		b.rotateFirst = false
	}

	hdr := &Header{Counter: b.sendCounter, PrevChainLength: uint32(b.prevSendCount)}
	pub := b.suite.NIKE.DerivePublicKey(b.classicalPriv)
	copy(hdr.ClassicalPublicKey[:], pub.Bytes())
	if b.handshakeInit && b.sendEpoch == 0 && b.sendCounter == 0 {
		hdr.Flags |= FlagHandshakeInit
	}

	// Attach the next outbound KEM fragment, encapsulating to a fresh
	// remote KEM public key when no group is in flight.
	fold := false
	var newFrags []*fragment.Descriptor
	var newSS *memguard.LockedBuffer
	var consumedRemote bool
	switch {
	case len(b.outFrags) > 0:
		hdr.Fragment = b.outFrags[0]
		fold = hdr.Fragment.Index == hdr.Fragment.Total-1
	case b.remoteKEMFresh && b.remoteKEMPub != nil && b.outSS == nil:
		ct, ss, err := b.suite.KEM.Encapsulate(b.remoteKEMPub)
		if err != nil {
			return nil, err
		}
		newFrags, err = fragment.Split(b.suite.Rand, ct, b.fragmentSize)
		if err != nil {
			util.ExplicitBzero(ss)
			return nil, err
		}
		newSS = memguard.NewBufferFromBytes(ss)
		consumedRemote = true
		hdr.Fragment = newFrags[0]
		fold = len(newFrags) == 1
	}

	// Advertise a fresh local KEM public key, at most once per DH epoch.
	var newKEMPub kem.PublicKey
	var newKEMPriv kem.PrivateKey
	if b.pendingKEMPriv == nil && !b.advertised {
		var err error
		newKEMPub, newKEMPriv, err = b.suite.GenerateKEMKeyPair()
		if err != nil {
			return nil, err
		}
		blob, err := newKEMPub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		hdr.KEMPublicKey = blob
	}

	contribution := b.send.pq.Bytes()
	var foldSS []byte
	if fold {
		if newSS != nil {
			foldSS = newSS.Bytes()
		} else {
			foldSS = b.outSS.Bytes()
		}
		contribution = foldSS
	}

	provisional := b.send.clone()
	mk := provisional.step(contribution)
	defer util.ExplicitBzero(mk)
	if fold {
		provisional.setPQ(pq0sibling(foldSS))
	}

	hdrBytes := hdr.ToBytes()
	envelope, err := b.suite.Seal(mk, hdr.Counter, hdrBytes, plaintext)
	if err != nil {
		provisional.wipe()
		return nil, err
	}

	// Commit.
	b.send.wipe()
	b.send = provisional
	b.sendCounter++
	if consumedRemote {
		b.remoteKEMFresh = false
		b.outFrags = newFrags
		b.outSS = newSS
	}
	if len(b.outFrags) > 0 {
		b.outFrags = b.outFrags[1:]
	}
	if fold && b.outSS != nil {
		b.outSS.Destroy()
		b.outSS = nil
		b.outFrags = nil
	}
	if newKEMPriv != nil {
		b.pendingKEMPriv = newKEMPriv
		b.advertised = true
	}

	return append(hdrBytes, envelope...), nil
}

// StepRecv processes one inbound wire blob.  It may surface zero
// messages (fragment buffered, or ciphertext parked until a fragment
// group completes) or several (a completed group unblocking parked
// ciphertexts).  The step is atomic per surfaced message.
func (b *Braid) StepRecv(now time.Time, wire []byte) ([]Received, error) {
	if b.wiped {
		return nil, ErrStateDesynced
	}

	hdr, hdrLen, err := ParseHeader(wire)
	if err != nil {
		return nil, err
	}

	out, err := b.receiveOne(now, hdr, wire[:hdrLen], wire[hdrLen:])
	if err != nil {
		return out, err
	}

	// A resolved fold may have unblocked parked ciphertexts.
	drained, derr := b.drainPending(now)
	out = append(out, drained...)
	sort.Slice(out, func(i, j int) bool { return out[i].Counter < out[j].Counter })
	if derr != nil {
		return out, derr
	}
	return out, nil
}

// receiveOne classifies a message by DH epoch, ratcheting if needed,
// absorbs any fragment, and decrypts.
func (b *Braid) receiveOne(now time.Time, hdr *Header, hdrBytes, envelope []byte) ([]Received, error) {
	isCurrent := bytes.Equal(hdr.ClassicalPublicKey[:], b.remotePub.Bytes())
	isPrev := !isCurrent && b.prevRemotePub != nil &&
		bytes.Equal(hdr.ClassicalPublicKey[:], b.prevRemotePub.Bytes())

	// A message from the previous DH epoch: its key, if still available,
	// was cached during catch-up at the ratchet boundary.
	if isPrev {
		mk := b.skipped.take(b.recvEpoch-1, hdr.Counter, now)
		if mk == nil {
			return nil, ErrMessageTooOld
		}
		defer util.ExplicitBzero(mk)
		pt, err := b.suite.Open(mk, hdr.Counter, hdrBytes, envelope)
		if err != nil {
			return nil, ErrAEADFailure
		}
		return []Received{{Counter: hdr.Counter, Plaintext: pt}}, nil
	}

	if !isCurrent {
		// New remote ratchet public: catch up the old chain, then
		// perform the DH ratchet before processing the message.
		if err := b.dhRatchet(now, hdr); err != nil {
			return nil, err
		}
	}

	// Buffer any KEM fragment independent of message decryption.
	// Duplicate arrivals are tolerated, so re-absorption on a parked
	// message retry is harmless.
	if hdr.Fragment != nil {
		if err := b.absorbFragment(hdr, now); err != nil {
			return nil, err
		}
	}

	return b.recvCurrent(now, hdr, hdrBytes, envelope)
}

func (b *Braid) absorbFragment(hdr *Header, now time.Time) error {
	d := hdr.Fragment
	if _, done := b.doneGroups[d.GroupID]; done {
		return nil
	}
	if b.inFold != nil && b.inFold.groupID != d.GroupID {
		// At most one outstanding group per direction.
		return ErrInvalidHeader
	}
	if b.inFold == nil {
		b.inFold = &inboundFold{groupID: d.GroupID}
	}
	if d.Index == d.Total-1 {
		b.inFold.closerSeen = true
		b.inFold.closerCounter = hdr.Counter
	}
	ct, err := b.asm.Add(d, now)
	if err != nil {
		return err
	}
	if ct != nil {
		b.inFold.ct = ct
	}
	return nil
}

// contributionFor resolves the braid contribution for receiving counter
// c against the provisional line.  A fold at c requires the reassembled
// group; decapsulation happens here.
func (b *Braid) contributionFor(c uint64, provisional *line) (contribution []byte, folded bool, err error) {
	if b.desynced && c >= b.desyncedAt {
		return nil, false, ErrStateDesynced
	}
	f := b.inFold
	if f == nil || !f.closerSeen || c < f.closerCounter {
		return provisional.pq.Bytes(), false, nil
	}
	if f.ct == nil {
		return nil, false, errAwaitingGroup
	}
	if c > f.closerCounter {
		// The fold commits when its own position is processed; counters
		// beyond it within the same advance use the folded secret,
		// which the advance loop already placed in the line.
		return provisional.pq.Bytes(), false, nil
	}
	if b.pendingKEMPriv == nil {
		b.abandonFold(c)
		return nil, false, ErrKemReassembly
	}
	ss, err := b.suite.KEM.Decapsulate(b.pendingKEMPriv, f.ct)
	if err != nil {
		b.abandonFold(c)
		return nil, false, ErrKemReassembly
	}
	return ss, true, nil
}

func (b *Braid) abandonFold(at uint64) {
	if b.inFold != nil {
		b.doneGroups[b.inFold.groupID] = struct{}{}
		util.ExplicitBzero(b.inFold.ct)
		b.inFold = nil
	}
	b.desynced = true
	b.desyncedAt = at
	for c, w := range b.pending {
		util.ExplicitBzero(w)
		delete(b.pending, c)
	}
}

type skippedPut struct {
	counter uint64
	key     []byte
}

// recvCurrent decrypts a current-epoch message, advancing the receiving
// line provisionally and committing only on successful authentication.
func (b *Braid) recvCurrent(now time.Time, hdr *Header, hdrBytes, envelope []byte) ([]Received, error) {
	if hdr.Counter < b.recvCounter {
		mk := b.skipped.take(b.recvEpoch, hdr.Counter, now)
		if mk == nil {
			return nil, ErrMessageTooOld
		}
		defer util.ExplicitBzero(mk)
		pt, err := b.suite.Open(mk, hdr.Counter, hdrBytes, envelope)
		if err != nil {
			return nil, ErrAEADFailure
		}
		b.noteRemoteKEM(hdr)
		return []Received{{Counter: hdr.Counter, Plaintext: pt}}, nil
	}

	if hdr.Counter-b.recvCounter > SkippedKeyCapacity {
		return nil, ErrMessageTooOld
	}

	provisional := b.recv.clone()
	var skips []skippedPut
	var mk []byte
	foldedAt := int64(-1)
	wipeSkips := func() {
		for _, s := range skips {
			util.ExplicitBzero(s.key)
		}
	}

	for c := b.recvCounter; c <= hdr.Counter; c++ {
		contribution, folded, err := b.contributionFor(c, provisional)
		if err != nil {
			provisional.wipe()
			wipeSkips()
			if err == errAwaitingGroup {
				return nil, b.park(hdr.Counter, hdrBytes, envelope)
			}
			return nil, err
		}
		key := provisional.step(contribution)
		if folded {
			provisional.setPQ(pq0sibling(contribution))
			util.ExplicitBzero(contribution)
			foldedAt = int64(c)
		}
		if c < hdr.Counter {
			skips = append(skips, skippedPut{counter: c, key: key})
		} else {
			mk = key
		}
	}
	defer util.ExplicitBzero(mk)

	pt, err := b.suite.Open(mk, hdr.Counter, hdrBytes, envelope)
	if err != nil {
		provisional.wipe()
		wipeSkips()
		if b.inFold != nil && b.inFold.ct == nil {
			// The key may depend on a fold this side has not absorbed
			// yet; park the ciphertext until the group resolves.
			return nil, b.park(hdr.Counter, hdrBytes, envelope)
		}
		return nil, ErrAEADFailure
	}

	// Commit.
	b.recv.wipe()
	b.recv = provisional
	for _, s := range skips {
		b.skipped.put(b.recvEpoch, s.counter, s.key, now)
		util.ExplicitBzero(s.key)
	}
	b.recvCounter = hdr.Counter + 1
	if foldedAt >= 0 {
		b.commitFold()
	}
	b.noteRemoteKEM(hdr)
	return []Received{{Counter: hdr.Counter, Plaintext: pt}}, nil
}

func (b *Braid) commitFold() {
	if b.inFold != nil {
		b.doneGroups[b.inFold.groupID] = struct{}{}
		util.ExplicitBzero(b.inFold.ct)
		b.inFold = nil
	}
	// The advertised KEM secret key is single-use.
	b.pendingKEMPriv = nil
}

func (b *Braid) noteRemoteKEM(hdr *Header) {
	if hdr.KEMPublicKey == nil {
		return
	}
	pub, err := b.suite.KEM.UnmarshalBinaryPublicKey(hdr.KEMPublicKey)
	if err != nil {
		return
	}
	b.remoteKEMPub = pub
	b.remoteKEMFresh = true
}

// park buffers a ciphertext that depends on an incomplete fragment
// group.  Parked messages are retried when the group resolves.
func (b *Braid) park(counter uint64, hdrBytes, envelope []byte) error {
	if len(b.pending) >= pendingCapacity {
		return ErrBufferFull
	}
	if _, ok := b.pending[counter]; ok {
		return nil
	}
	wire := make([]byte, 0, len(hdrBytes)+len(envelope))
	wire = append(wire, hdrBytes...)
	wire = append(wire, envelope...)
	b.pending[counter] = wire
	return nil
}

// drainPending retries parked ciphertexts in counter order.  Called
// after every successful receive step; a no-op unless a fold resolved.
func (b *Braid) drainPending(now time.Time) ([]Received, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	if b.inFold != nil && b.inFold.ct == nil && !b.desynced {
		return nil, nil
	}

	counters := make([]uint64, 0, len(b.pending))
	for c := range b.pending {
		counters = append(counters, c)
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i] < counters[j] })

	var out []Received
	var firstErr error
	for _, c := range counters {
		wire := b.pending[c]
		delete(b.pending, c)
		hdr, hdrLen, err := ParseHeader(wire)
		if err != nil {
			continue
		}
		got, err := b.receiveOne(now, hdr, wire[:hdrLen], wire[hdrLen:])
		if err != nil {
			if firstErr == nil && err != errAwaitingGroup {
				firstErr = err
			}
			continue
		}
		out = append(out, got...)
	}
	return out, firstErr
}

// dhRatchet handles the observation of a new remote classical public:
// catch up the residue of the old receiving chain into the skipped key
// cache, fold the new DH output into the receiving line, then rotate our
// own keypair and re-key the sending line.
func (b *Braid) dhRatchet(now time.Time, hdr *Header) error {
	if b.inFold != nil && b.inFold.ct == nil {
		// A DH ratchet with a dangling inbound group cannot be mirrored
		// reliably; resolve it as a reassembly failure first.
		b.abandonFold(b.recvCounter)
		return ErrKemReassembly
	}

	newPub, err := b.suite.NIKE.UnmarshalBinaryPublicKey(hdr.ClassicalPublicKey[:])
	if err != nil {
		return ErrInvalidHeader
	}

	// Catch up the outgoing chain residue of the previous epoch.
	prevLen := uint64(hdr.PrevChainLength)
	if prevLen > b.recvCounter {
		if prevLen-b.recvCounter > SkippedKeyCapacity {
			return ErrMessageTooOld
		}
		provisional := b.recv.clone()
		var skips []skippedPut
		for c := b.recvCounter; c < prevLen; c++ {
			contribution, folded, err := b.contributionFor(c, provisional)
			if err != nil {
				provisional.wipe()
				for _, s := range skips {
					util.ExplicitBzero(s.key)
				}
				return err
			}
			key := provisional.step(contribution)
			if folded {
				provisional.setPQ(pq0sibling(contribution))
				util.ExplicitBzero(contribution)
				b.commitFold()
			}
			skips = append(skips, skippedPut{counter: c, key: key})
		}
		b.recv.wipe()
		b.recv = provisional
		for _, s := range skips {
			b.skipped.put(b.recvEpoch, s.counter, s.key, now)
			util.ExplicitBzero(s.key)
		}
	}

	recvDH := b.suite.NIKE.DeriveSecret(b.classicalPriv, newPub)
	if util.CtIsZero(recvDH) {
		util.ExplicitBzero(recvDH)
		return ErrHandshake
	}

	_, newPriv, err := b.suite.NIKE.GenerateKeyPairFromEntropy(b.suite.Rand)
	if err != nil {
		util.ExplicitBzero(recvDH)
		return err
	}
	sendDH := b.suite.NIKE.DeriveSecret(newPriv, newPub)
	if util.CtIsZero(sendDH) {
		util.ExplicitBzero(recvDH)
		util.ExplicitBzero(sendDH)
		return ErrHandshake
	}

	// Commit the ratchet.
	b.recv.setDH(recvDH)
	b.send.setDH(sendDH)
	if b.prevRemotePub != nil {
		b.prevRemotePub.Reset()
	}
	b.prevRemotePub = b.remotePub
	b.remotePub = newPub
	b.classicalPriv.Reset()
	b.classicalPriv = newPriv
	b.recvEpoch++
	b.recvCounter = 0
	b.prevSendCount = b.sendCounter
	b.sendCounter = 0
	b.sendEpoch++
	b.advertised = false
	b.desynced = false
	b.desyncedAt = 0
	return nil
}

// Sweep expires stale reassembly groups and skipped keys.  It returns
// ErrKemReassembly if the outstanding fragment group timed out.
func (b *Braid) Sweep(now time.Time) error {
	b.skipped.prune(now)
	expired := b.asm.Sweep(now)
	for _, id := range expired {
		if b.inFold != nil && b.inFold.groupID == id && b.inFold.ct == nil {
			at := b.recvCounter
			if b.inFold.closerSeen {
				at = b.inFold.closerCounter
			}
			b.abandonFold(at)
			return ErrKemReassembly
		}
	}
	return nil
}

// PendingFragments reports whether an outbound KEM ciphertext still has
// unsent fragments; the courier flushes them with padding sends.
func (b *Braid) PendingFragments() bool {
	return len(b.outFrags) > 0
}

// SkippedKeyCount returns the number of cached skipped message keys.
func (b *Braid) SkippedKeyCount() int {
	return b.skipped.len()
}

// Wipe zeroizes all braid state.  The braid is unusable afterwards.
func (b *Braid) Wipe() {
	if b.wiped {
		return
	}
	b.wiped = true
	b.send.wipe()
	b.recv.wipe()
	b.classicalPriv.Reset()
	if b.remotePub != nil {
		b.remotePub.Reset()
	}
	if b.prevRemotePub != nil {
		b.prevRemotePub.Reset()
	}
	b.pendingKEMPriv = nil
	b.remoteKEMPub = nil
	for _, f := range b.outFrags {
		util.ExplicitBzero(f.Payload)
	}
	b.outFrags = nil
	if b.outSS != nil {
		b.outSS.Destroy()
		b.outSS = nil
	}
	if b.inFold != nil {
		util.ExplicitBzero(b.inFold.ct)
		b.inFold = nil
	}
	for c, w := range b.pending {
		util.ExplicitBzero(w)
		delete(b.pending, c)
	}
	b.asm.Wipe()
	b.skipped.wipe()
}
