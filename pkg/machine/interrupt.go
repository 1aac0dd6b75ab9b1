// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package machine

import "sync/atomic"

// IntStatus is the interrupt level.
type IntStatus int

// Interrupt levels.
const (
	IntOff IntStatus = iota
	IntOn
)

// String implements fmt.Stringer.
func (s IntStatus) String() string {
	if s == IntOn {
		return "on"
	}
	return "off"
}

// Interrupt is the interrupt controller. There is a single CPU, so disabling
// interrupts is the kernel's only form of mutual exclusion: with the level at
// IntOff no timer interrupt is delivered, hence no preemption occurs.
type Interrupt struct {
	level IntStatus

	// ticks counts executed instructions. It is read by loggers running on
	// other goroutines, hence atomic.
	ticks atomic.Uint64

	// timerTicks is the timer period in ticks; zero disables the timer.
	timerTicks int
	sinceTimer int

	// pending is set when the timer expired while interrupts were off.
	pending bool
	timer   func() error
}

func newInterrupt(timerTicks int) *Interrupt {
	return &Interrupt{level: IntOff, timerTicks: timerTicks}
}

// SetLevel sets the interrupt level and returns the previous one.
func (i *Interrupt) SetLevel(now IntStatus) IntStatus {
	old := i.level
	i.level = now
	return old
}

// Level returns the current interrupt level.
func (i *Interrupt) Level() IntStatus {
	return i.level
}

// Disable turns interrupts off and returns a func restoring the previous
// level. It nests.
func (i *Interrupt) Disable() func() {
	old := i.SetLevel(IntOff)
	return func() { i.SetLevel(old) }
}

// SetTimerHandler installs the timer interrupt handler. It runs with
// interrupts disabled. An error from it stops Machine.Run.
func (i *Interrupt) SetTimerHandler(fn func() error) {
	i.timer = fn
}

// Ticks returns the number of elapsed ticks.
func (i *Interrupt) Ticks() uint64 {
	return i.ticks.Load()
}

// OneTick advances simulated time by one instruction and delivers the timer
// interrupt if it is due and interrupts are enabled. It returns the timer
// handler's error.
func (i *Interrupt) OneTick() error {
	i.ticks.Add(1)
	if i.timerTicks > 0 {
		i.sinceTimer++
		if i.sinceTimer >= i.timerTicks {
			i.sinceTimer = 0
			i.pending = true
		}
	}
	if i.pending && i.level == IntOn && i.timer != nil {
		i.pending = false
		old := i.SetLevel(IntOff)
		err := i.timer()
		i.SetLevel(old)
		return err
	}
	return nil
}
