// courier.go - Per-contact transport loop.
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

// Package courier glues a session's braid to the onion transport: it
// envelopes braid output into fixed size Sphinx packets, schedules
// emissions through the Poisson cover scheduler, flushes pending KEM
// fragments with padding sends, and runs the receive side including
// replay detection and reassembly expiry.
package courier

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/katzenpost/hpqc/nike"
	"gopkg.in/op/go-logging.v1"

	"github.com/ElMoorish/ComLock/cover"
	"github.com/ElMoorish/ComLock/log"
	"github.com/ElMoorish/ComLock/ratchet"
	"github.com/ElMoorish/ComLock/session"
	"github.com/ElMoorish/ComLock/sphinx"
	"github.com/ElMoorish/ComLock/worker"
)

const (
	// sweepInterval drives reassembly expiry and fragment flushing.
	sweepInterval = 5 * time.Second

	// envelopeOverhead is the terminal payload framing: tag byte plus
	// u32 length.
	envelopeOverhead = 1 + 4
)

var (
	// ErrPayloadTooLarge is returned when a braid blob exceeds the
	// packet's forward payload capacity.
	ErrPayloadTooLarge = errors.New("courier: payload exceeds packet capacity")
)

// Outbound writes packets to the network.  There is a single writer
// per peer.
type Outbound interface {
	WritePacket(pkt []byte) error
}

// PathProvider supplies the onion route to the contact.  Mix topology
// is owned by the surrounding network layer.
type PathProvider interface {
	Path() ([]*sphinx.PathHop, error)
}

// Delivery is one decrypted inbound message.
type Delivery struct {
	Counter   uint64
	Plaintext []byte
}

// Config configures a Courier.
type Config struct {
	LogBackend *log.Backend

	Session *session.Session
	Sphinx  *sphinx.Sphinx
	Paths   PathProvider

	Outbound Outbound

	// NodePriv is the private key packets to us are wrapped against at
	// the terminal hop.
	NodePriv nike.PrivateKey

	Budget cover.Budget

	Rand io.Reader
}

// Courier is the per-contact transport loop.
type Courier struct {
	worker.Worker

	logger *logging.Logger

	s        *sphinx.Sphinx
	session  *session.Session
	paths    PathProvider
	outbound Outbound
	nodePriv nike.PrivateKey
	rng      io.Reader

	sched  *cover.Scheduler
	replay *sphinx.ReplayFilter

	recvCh chan *Delivery
}

// New creates a Courier and starts its workers.
func New(cfg *Config) (*Courier, error) {
	replay, err := sphinx.NewReplayFilter()
	if err != nil {
		return nil, err
	}
	c := &Courier{
		logger:   cfg.LogBackend.GetLogger("courier"),
		s:        cfg.Sphinx,
		session:  cfg.Session,
		paths:    cfg.Paths,
		outbound: cfg.Outbound,
		nodePriv: cfg.NodePriv,
		rng:      cfg.Rand,
		replay:   replay,
		recvCh:   make(chan *Delivery, 64),
	}
	c.sched = cover.NewScheduler(cfg.LogBackend, c, cfg.Budget)
	c.Go(c.sweepWorker)
	return c, nil
}

// RecvCh returns the channel on which decrypted messages are
// delivered.
func (c *Courier) RecvCh() <-chan *Delivery {
	return c.recvCh
}

// SetComposing forwards the typing hint to the scheduler.
func (c *Courier) SetComposing(composing bool) {
	c.sched.SetComposing(composing)
}

// SetBudget changes the emission rate.
func (c *Courier) SetBudget(b cover.Budget) {
	c.sched.SetBudget(b)
}

// maxBlobOverhead bounds the braid's header contribution to a wire
// blob: base header, an advertised KEM public key, a fragment, and the
// AEAD tag.
const maxBlobOverhead = 4096

// Send runs a braid step for the plaintext and queues the result for
// emission.
func (c *Courier) Send(plaintext []byte) error {
	if len(plaintext) > c.s.Geometry().ForwardPayloadLength-envelopeOverhead-maxBlobOverhead {
		return ErrPayloadTooLarge
	}
	blob, err := c.session.Send(plaintext)
	if err != nil {
		return err
	}
	if len(blob) > c.s.Geometry().ForwardPayloadLength-envelopeOverhead {
		return ErrPayloadTooLarge
	}
	return c.sched.Enqueue(blob)
}

// SendReal implements cover.Sender.
func (c *Courier) SendReal(blob []byte) error {
	return c.emit(sphinx.PayloadTagDeliver, blob)
}

// SendCover implements cover.Sender.
func (c *Courier) SendCover() error {
	return c.emit(sphinx.PayloadTagCover, nil)
}

func (c *Courier) emit(tag byte, blob []byte) error {
	geo := c.s.Geometry()
	payload := make([]byte, geo.ForwardPayloadLength)
	payload[0] = tag
	if tag == sphinx.PayloadTagDeliver {
		binary.BigEndian.PutUint32(payload[1:5], uint32(len(blob)))
		copy(payload[envelopeOverhead:], blob)
	}

	path, err := c.paths.Path()
	if err != nil {
		return err
	}
	pkt, err := c.s.NewPacket(c.rng, path, payload)
	if err != nil {
		return err
	}
	return c.outbound.WritePacket(pkt)
}

// HandlePacket processes one inbound packet as the terminal hop.
// Invalid packets and replays are dropped silently; there is no error
// channel back to the network.
func (c *Courier) HandlePacket(now time.Time, pkt []byte) {
	payload, replayTag, _, err := c.s.Unwrap(c.nodePriv, pkt)
	if err != nil {
		c.logger.Debugf("dropping packet: %v", err)
		return
	}
	if replayTag != nil && c.replay.IsReplay(replayTag) {
		c.logger.Debugf("dropping replayed packet")
		return
	}
	if payload == nil {
		// Not the terminal hop for this packet; a client never
		// forwards.
		return
	}

	switch payload[0] {
	case sphinx.PayloadTagCover:
		return
	case sphinx.PayloadTagDeliver:
	default:
		c.logger.Debugf("dropping packet with unknown payload tag")
		return
	}

	blobLen := binary.BigEndian.Uint32(payload[1:5])
	if int(blobLen) > len(payload)-envelopeOverhead {
		c.logger.Debugf("dropping packet with bogus length")
		return
	}
	blob := payload[envelopeOverhead : envelopeOverhead+int(blobLen)]

	msgs, err := c.session.Recv(now, blob)
	if err != nil {
		switch err {
		case ratchet.ErrMessageTooOld:
			// Dropped silently.
		case ratchet.ErrAEADFailure, ratchet.ErrKemReassembly:
			c.logger.Warningf("message dropped: %v", err)
		default:
			c.logger.Warningf("receive failure: %v", err)
		}
		return
	}
	for _, m := range msgs {
		if len(m.Plaintext) == 0 {
			// Fragment flush padding carries no user message.
			continue
		}
		select {
		case c.recvCh <- &Delivery{Counter: m.Counter, Plaintext: m.Plaintext}:
		default:
			c.logger.Warningf("receive queue overflow, dropping message")
		}
	}
}

// sweepWorker drives reassembly expiry and flushes pending outbound
// KEM fragments with padding sends.
func (c *Courier) sweepWorker() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-c.HaltCh():
			return
		case now := <-t.C:
			if err := c.session.Sweep(now); err != nil {
				if err != session.ErrSessionGone {
					c.logger.Warningf("sweep: %v", err)
				}
			}
			c.flushFragments()
		}
	}
}

// flushFragments emits empty padding messages while the braid has
// outbound KEM fragments and the real queue is idle, so a quiet sender
// still completes its fragment groups.
func (c *Courier) flushFragments() {
	for c.session.PendingFragments() && c.sched.QueueLen() == 0 {
		blob, err := c.session.Send(nil)
		if err != nil {
			c.logger.Warningf("fragment flush: %v", err)
			return
		}
		if err := c.sched.Enqueue(blob); err != nil {
			c.logger.Warningf("fragment flush enqueue: %v", err)
			return
		}
	}
}

// Halt stops the courier and its scheduler.
func (c *Courier) Halt() {
	c.sched.Halt()
	c.Worker.Halt()
}
