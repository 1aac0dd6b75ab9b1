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

// Package errors holds the standardized error definition for the kernel.
package errors

import "fmt"

// Kind classifies an Error. Kinds decide how the kernel reacts: fatal kinds
// tear down the faulting process, the rest are reported to the caller.
type Kind int

// Error kinds.
const (
	// KindInternal is an unexpected kernel condition.
	KindInternal Kind = iota

	// KindExhausted means a resource (frames, swap slots, file ids) ran out.
	KindExhausted

	// KindBadAddress means a virtual address outside the address space.
	KindBadAddress

	// KindReadOnly means a store to a read-only page.
	KindReadOnly

	// KindNoSyscall means an unknown syscall code.
	KindNoSyscall

	// KindNoProcess means an unknown process identifier.
	KindNoProcess

	// KindBadExec means a malformed executable.
	KindBadExec

	// KindIO means the backing store failed.
	KindIO

	// KindNotFound means a missing file.
	KindNotFound

	// KindExists means the file already exists.
	KindExists

	// KindBadFile means an invalid open file id.
	KindBadFile

	// KindUserException means a user instruction trapped: an illegal
	// instruction, a misaligned access or an arithmetic overflow.
	KindUserException
)

var kindNames = map[Kind]string{
	KindInternal:      "internal",
	KindExhausted:     "exhausted",
	KindBadAddress:    "bad-address",
	KindReadOnly:      "read-only",
	KindNoSyscall:     "no-syscall",
	KindNoProcess:     "no-process",
	KindBadExec:       "bad-exec",
	KindIO:            "io",
	KindNotFound:      "not-found",
	KindExists:        "exists",
	KindBadFile:       "bad-file",
	KindUserException: "user-exception",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether an error of this kind terminates the process that
// triggered it.
func (k Kind) Fatal() bool {
	switch k {
	case KindBadAddress, KindReadOnly, KindNoSyscall, KindUserException, KindInternal, KindIO:
		return true
	default:
		return false
	}
}

// KernelFatal reports whether an error of this kind means the kernel itself
// cannot go on, rather than only the process that triggered it.
func (k Kind) KernelFatal() bool {
	switch k {
	case KindInternal, KindIO, KindExhausted:
		return true
	default:
		return false
	}
}

// Error represents a kernel error with a descriptive message.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }
