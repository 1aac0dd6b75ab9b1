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

package kernel

import (
	gocontext "context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/sentry/context/contexttest"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	m, err := machine.New(machine.DefaultConfig())
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	return NewScheduler(m)
}

func TestSchedulerRoundRobin(t *testing.T) {
	s := newTestScheduler(t)
	ctx := contexttest.Context(t)
	var trace []string
	body := func(rounds int) ThreadFunc {
		return func(th *Thread) error {
			for i := 0; i < rounds; i++ {
				trace = append(trace, fmt.Sprintf("%s%d", th.Name(), i))
				if err := s.Yield(th); err != nil {
					return err
				}
			}
			return nil
		}
	}
	s.Fork(ctx, "a", 1, nil, body(3))
	s.Fork(ctx, "b", 2, nil, body(1))
	s.Fork(ctx, "c", 3, nil, body(2))
	if err := s.Run(gocontext.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"a0", "b0", "c0", "a1", "c1", "a2"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if s.Current() != nil {
		t.Errorf("Current = %v after Run, want nil", s.Current())
	}
}

func TestSchedulerForkWhileRunning(t *testing.T) {
	s := newTestScheduler(t)
	ctx := contexttest.Context(t)
	var trace []string
	s.Fork(ctx, "parent", 1, nil, func(th *Thread) error {
		s.Fork(th.Context(), "child", 1, nil, func(*Thread) error {
			trace = append(trace, "child")
			return nil
		})
		trace = append(trace, "parent before yield")
		if err := s.Yield(th); err != nil {
			return err
		}
		trace = append(trace, "parent after yield")
		return nil
	})
	if err := s.Run(gocontext.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"parent before yield", "child", "parent after yield"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerError(t *testing.T) {
	s := newTestScheduler(t)
	ctx := contexttest.Context(t)
	errBoom := errors.New("boom")
	ran := false
	s.Fork(ctx, "yielder", 1, nil, func(th *Thread) error {
		for {
			if err := s.Yield(th); err != nil {
				return err
			}
		}
	})
	s.Fork(ctx, "failer", 2, nil, func(*Thread) error {
		return errBoom
	})
	s.Fork(ctx, "never", 3, nil, func(*Thread) error {
		ran = true
		return nil
	})
	if err := s.Run(gocontext.Background()); !errors.Is(err, errBoom) {
		t.Errorf("Run = %v, want %v", err, errBoom)
	}
	if ran {
		t.Errorf("thread queued behind the failing one ran")
	}
}

func TestSchedulerSwitchesState(t *testing.T) {
	s := newTestScheduler(t)
	ctx := contexttest.Context(t)
	m := s.m
	var got []int32
	s.Fork(ctx, "a", 1, nil, func(th *Thread) error {
		m.Interrupt.SetLevel(machine.IntOn)
		if err := s.Yield(th); err != nil {
			return err
		}
		if m.Interrupt.Level() != machine.IntOn {
			t.Errorf("interrupt level %v after switching back, want on", m.Interrupt.Level())
		}
		return nil
	})
	s.Fork(ctx, "b", 2, nil, func(th *Thread) error {
		got = append(got, int32(m.Interrupt.Level()))
		m.Interrupt.SetLevel(machine.IntOff)
		return nil
	})
	if err := s.Run(gocontext.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int32{int32(machine.IntOn)}, got); diff != "" {
		t.Errorf("levels seen by b mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerEmpty(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Run(gocontext.Background()); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestSchedulerCanceled(t *testing.T) {
	s := newTestScheduler(t)
	ctx := contexttest.Context(t)
	runCtx, cancel := gocontext.WithCancel(gocontext.Background())
	s.Fork(ctx, "spinner", 1, nil, func(th *Thread) error {
		cancel()
		for {
			if err := s.Yield(th); err != nil {
				return err
			}
		}
	})
	if err := s.Run(runCtx); !errors.Is(err, gocontext.Canceled) {
		t.Errorf("Run = %v, want %v", err, gocontext.Canceled)
	}
}
