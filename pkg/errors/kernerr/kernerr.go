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

// Package kernerr contains the kernel's error values exported as error
// interface pointers, so they can be compared with errors.Is after wrapping.
package kernerr

import (
	stderrors "errors"

	"gvisor.dev/vmkernel/pkg/errors"
)

// The following errors are the only ones the memory and process subsystems
// return. Callers wrap them with context using fmt.Errorf("...: %w", err).
var (
	ErrNoFrame        = errors.New(errors.KindExhausted, "no physical frame available")
	ErrNoSwapSlot     = errors.New(errors.KindExhausted, "swap file full")
	ErrTooManyFiles   = errors.New(errors.KindExhausted, "open file table full")
	ErrBadAddress     = errors.New(errors.KindBadAddress, "bad virtual address")
	ErrReadOnly       = errors.New(errors.KindReadOnly, "write to read-only page")
	ErrUnknownSyscall = errors.New(errors.KindNoSyscall, "unknown syscall code")
	ErrNoProcess      = errors.New(errors.KindNoProcess, "no such process")
	ErrBadMagic       = errors.New(errors.KindBadExec, "executable has bad magic")
	ErrShortExec      = errors.New(errors.KindBadExec, "executable is truncated")
	ErrSwapIO         = errors.New(errors.KindIO, "swap I/O failed")
	ErrIO             = errors.New(errors.KindIO, "I/O error")
	ErrNotFound       = errors.New(errors.KindNotFound, "no such file")
	ErrExists         = errors.New(errors.KindExists, "file exists")
	ErrBadFile        = errors.New(errors.KindBadFile, "bad open file id")
	ErrUserException  = errors.New(errors.KindUserException, "user mode exception")
)

// KindOf returns the kind of the first *errors.Error in err's chain, or
// errors.KindInternal if there is none.
func KindOf(err error) errors.Kind {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Kind()
	}
	return errors.KindInternal
}

// IsFatal reports whether err must tear down the process that raised it.
func IsFatal(err error) bool {
	return err != nil && KindOf(err).Fatal()
}

// KillsThread reports whether err tears down the process that raised it
// while the kernel carries on.
func KillsThread(err error) bool {
	k := KindOf(err)
	return err != nil && k.Fatal() && !k.KernelFatal()
}
