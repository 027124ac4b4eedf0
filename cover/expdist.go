// expdist.go - Exponentially distributed emission ticker.
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

package cover

import (
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/ElMoorish/ComLock/worker"
)

// ExpDist provides a pseudorandom ticker whose inter-firing times are
// drawn from the exponential distribution.  The channel returned by
// OutCh() fires at an average delay specified with UpdateRate, in units
// of milliseconds.  Intervals are sampled up front, never in reaction
// to anything the consumer does with a firing; this is what makes the
// emission schedule unlinkable to real traffic.
type ExpDist struct {
	worker.Worker

	mu           sync.Mutex
	averageDelay uint64
	maxDelay     uint64
	running      bool

	// kick wakes the worker so a rate or running change takes effect
	// before the in-flight interval elapses.
	kick  chan struct{}
	outCh chan struct{}
}

// NewExpDist returns an ExpDist with a running worker routine.  The
// ticker is created stopped; call Start after configuring a rate.
func NewExpDist() *ExpDist {
	e := &ExpDist{
		kick:  make(chan struct{}, 1),
		outCh: make(chan struct{}, 1),
	}
	e.Go(e.worker)
	return e
}

// OutCh returns the channel that fires at the configured rate.
func (e *ExpDist) OutCh() <-chan struct{} {
	return e.outCh
}

// UpdateRate sets the average and maximum delay, in milliseconds,
// between firings of the channel returned by OutCh.
func (e *ExpDist) UpdateRate(averageDelay, maxDelay uint64) {
	e.mu.Lock()
	e.averageDelay = averageDelay
	e.maxDelay = maxDelay
	e.mu.Unlock()
	e.poke()
}

// Start begins emission.
func (e *ExpDist) Start() {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	e.poke()
}

// Stop pauses emission without tearing the worker down.
func (e *ExpDist) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.poke()
}

func (e *ExpDist) poke() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// snapshot returns the sampled interval for the next firing, or false
// when the ticker is stopped or unconfigured.
func (e *ExpDist) snapshot() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.averageDelay == 0 || e.maxDelay == 0 {
		return 0, false
	}
	msec := uint64(rand.Exp(rand.NewMath(), 1/float64(e.averageDelay)))
	if msec > e.maxDelay {
		msec = e.maxDelay
	}
	return time.Duration(msec) * time.Millisecond, true
}

func (e *ExpDist) worker() {
	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		interval, ok := e.snapshot()
		if !ok {
			// Parked until a kick reconfigures us.
			select {
			case <-e.HaltCh():
				return
			case <-e.kick:
			}
			continue
		}

		timer.Reset(interval)
		select {
		case <-e.HaltCh():
			return
		case <-e.kick:
			// Rate changed mid-interval; resample.
			if !timer.Stop() {
				<-timer.C
			}
			continue
		case <-timer.C:
		}

		select {
		case <-e.HaltCh():
			return
		case e.outCh <- struct{}{}:
		}
	}
}
