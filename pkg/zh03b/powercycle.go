// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import "time"

// cycleAction is the side effect a power cycle transition asks the engine
// to perform
type cycleAction int

const (
	actionNone cycleAction = iota
	actionWake
	actionRead
	actionSleep
)

// powerCycle sequences wake, warm-up, read and sleep in request/response
// mode. Every delay is a state held across ticks and compared against the
// time the state was entered, so step never blocks.
type powerCycle struct {
	state     PowerState
	enteredAt time.Time
	cycleRef  time.Time // reference for the next cycle start
	primed    bool      // start the next cycle without waiting an interval

	interval time.Duration
	warmUp   time.Duration
	settle   time.Duration
}

func newPowerCycle(cfg Config, now time.Time) powerCycle {
	p := powerCycle{
		interval: cfg.UpdateInterval,
		warmUp:   cfg.WarmUp,
		settle:   cfg.SettleDelay,
	}
	p.reset(now)
	return p
}

// reset returns to Idle with the first cycle due immediately
func (p *powerCycle) reset(now time.Time) {
	p.state = PowerIdle
	p.enteredAt = now
	p.cycleRef = now
	p.primed = true
}

func (p *powerCycle) enter(state PowerState, now time.Time) {
	p.state = state
	p.enteredAt = now
}

// step applies the time-triggered transitions. The read timeout is not
// handled here: the engine owns the pending request and reports it through
// timedOut.
func (p *powerCycle) step(now time.Time) cycleAction {
	elapsed := now.Sub(p.enteredAt)

	switch p.state {
	case PowerIdle:
		if p.primed || now.Sub(p.cycleRef) >= p.interval {
			p.primed = false
			p.cycleRef = now
			p.enter(PowerWakeSent, now)
			return actionWake
		}

	case PowerWakeSent:
		if elapsed >= p.warmUp {
			p.enter(PowerReadSent, now)
			return actionRead
		}

	case PowerWaitingBeforeSleep:
		if elapsed >= p.settle {
			p.cycleRef = now
			p.enter(PowerIdle, now)
			return actionSleep
		}
	}

	return actionNone
}

// frameReceived ends the read phase on a valid data reply. It reports
// whether a transition happened.
func (p *powerCycle) frameReceived(now time.Time) bool {
	if p.state != PowerReadSent {
		return false
	}
	p.enter(PowerWaitingBeforeSleep, now)
	return true
}

// timedOut ends the read phase without a reply. The cycle reference is left
// alone; it only moves when the cycle starts or the sensor is put to sleep.
func (p *powerCycle) timedOut(now time.Time) bool {
	if p.state != PowerReadSent {
		return false
	}
	p.enter(PowerWaitingBeforeSleep, now)
	return true
}
