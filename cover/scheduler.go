// scheduler.go - Poisson cover traffic scheduler.
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

// Package cover implements the Poisson cover traffic scheduler.  The
// emission times are drawn from the exponential distribution regardless
// of real traffic load; queue state only ever decides *which* packet an
// emission carries, never *when* it goes out.
package cover

import (
	"errors"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/ElMoorish/ComLock/log"
	"github.com/ElMoorish/ComLock/worker"
)

// Budget is the user selected anonymity budget, the emission rate of
// the scheduler.
type Budget int

const (
	// BudgetLow is roughly 6 packets a minute.
	BudgetLow Budget = iota

	// BudgetMedium is roughly 30 packets a minute.
	BudgetMedium

	// BudgetMax is roughly 2 packets a second, a constant stream.
	BudgetMax
)

// AverageDelay returns the mean emission interval in milliseconds.
func (b Budget) AverageDelay() uint64 {
	switch b {
	case BudgetLow:
		return 10000
	case BudgetMedium:
		return 2000
	default:
		return 500
	}
}

// MaxDelay returns the clamp applied to sampled intervals, in
// milliseconds.
func (b Budget) MaxDelay() uint64 {
	return b.AverageDelay() * 10
}

func (b Budget) String() string {
	switch b {
	case BudgetLow:
		return "low"
	case BudgetMedium:
		return "medium"
	case BudgetMax:
		return "max"
	default:
		return "unknown"
	}
}

const (
	// DefaultQueueSize bounds the real message queue.
	DefaultQueueSize = 64

	// DefaultComposeGrace is how long a queued message may be held back
	// while the user is composing before it is sent anyway.
	DefaultComposeGrace = 3 * time.Second

	// maxRetryBackoff caps the transport retry backoff.
	maxRetryBackoff = 30 * time.Second
)

var (
	// ErrQueueFull is returned when the bounded real message queue
	// overflows.
	ErrQueueFull = errors.New("cover: send queue full")

	// ErrHalted is returned after the scheduler has been halted.
	ErrHalted = errors.New("cover: scheduler halted")
)

// Sender writes packets to the transport.  Both methods must produce
// byte-indistinguishable fixed size packets.
type Sender interface {
	// SendReal emits a packet carrying the given end to end blob.
	SendReal(blob []byte) error

	// SendCover emits a cover packet.
	SendCover() error
}

type queuedMessage struct {
	blob     []byte
	queuedAt time.Time
}

// Scheduler drives a single session's emissions.  Every ExpDist firing
// emits exactly one packet; a queued real message is picked over cover
// unless the compose grace period holds it back.
type Scheduler struct {
	worker.Worker

	logger *logging.Logger
	dist   *ExpDist
	sender Sender

	mu        sync.Mutex
	queue     []*queuedMessage
	composing bool
	halted    bool

	grace    time.Duration
	queueCap int

	retryBackoff time.Duration
	retryUntil   time.Time
}

// NewScheduler creates a Scheduler and starts its worker.
func NewScheduler(logBackend *log.Backend, sender Sender, budget Budget) *Scheduler {
	s := &Scheduler{
		logger:   logBackend.GetLogger("cover/scheduler"),
		dist:     NewExpDist(),
		sender:   sender,
		grace:    DefaultComposeGrace,
		queueCap: DefaultQueueSize,
	}
	s.dist.UpdateRate(budget.AverageDelay(), budget.MaxDelay())
	s.dist.Start()
	s.Go(s.worker)
	return s
}

// SetBudget changes the emission rate.
func (s *Scheduler) SetBudget(budget Budget) {
	s.logger.Noticef("anonymity budget set to %v", budget)
	s.dist.UpdateRate(budget.AverageDelay(), budget.MaxDelay())
}

// SetComposing asserts or clears the "user is typing" hint.  While
// asserted, queued messages younger than the grace period yield their
// emission slots to cover packets; emission times are unaffected.
func (s *Scheduler) SetComposing(composing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composing = composing
}

// Enqueue queues an end to end blob for emission.
func (s *Scheduler) Enqueue(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return ErrHalted
	}
	if len(s.queue) >= s.queueCap {
		return ErrQueueFull
	}
	s.queue = append(s.queue, &queuedMessage{blob: blob, queuedAt: time.Now()})
	return nil
}

// QueueLen returns the number of queued real messages.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Halt stops the scheduler and discards the queue.
func (s *Scheduler) Halt() {
	s.mu.Lock()
	s.halted = true
	s.queue = nil
	s.mu.Unlock()
	s.dist.Halt()
	s.Worker.Halt()
}

// pick decides what the current emission slot carries.  It never delays
// the slot itself.
func (s *Scheduler) pick(now time.Time) *queuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	if now.Before(s.retryUntil) {
		return nil
	}
	head := s.queue[0]
	if s.composing && now.Sub(head.queuedAt) <= s.grace {
		return nil
	}
	return head
}

func (s *Scheduler) dropHead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		s.queue = s.queue[1:]
	}
}

func (s *Scheduler) worker() {
	for {
		select {
		case <-s.HaltCh():
			return
		case <-s.dist.OutCh():
		}

		now := time.Now()
		if m := s.pick(now); m != nil {
			if err := s.sender.SendReal(m.blob); err != nil {
				// Leave the message queued; back off, emitting cover in
				// the meantime.  The emission schedule is unaffected.
				if s.retryBackoff == 0 {
					s.retryBackoff = time.Second
				} else if s.retryBackoff < maxRetryBackoff {
					s.retryBackoff *= 2
					if s.retryBackoff > maxRetryBackoff {
						s.retryBackoff = maxRetryBackoff
					}
				}
				s.mu.Lock()
				s.retryUntil = now.Add(s.retryBackoff)
				s.mu.Unlock()
				s.logger.Warningf("transport error, backing off %v: %v", s.retryBackoff, err)
				if err := s.sender.SendCover(); err != nil {
					s.logger.Debugf("cover send failed: %v", err)
				}
				continue
			}
			s.retryBackoff = 0
			s.dropHead()
			continue
		}

		if err := s.sender.SendCover(); err != nil {
			s.logger.Debugf("cover send failed: %v", err)
		}
	}
}
