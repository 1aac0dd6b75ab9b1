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

// Package sysno defines the system call numbers of the user ABI.
//
// A user program places the number in the result register, up to four
// arguments in the argument registers, and executes SYSCALL. The result, if
// any, is returned in the result register.
package sysno

import "fmt"

// Sysno is a system call number.
type Sysno int32

// System call numbers.
const (
	Halt Sysno = iota
	Exit
	Exec
	Join
	Create
	Open
	Read
	Write
	Close
	Fork
	Yield
)

// ConsoleInput and ConsoleOutput are the open file ids reserved for the
// console.
const (
	ConsoleInput  = 0
	ConsoleOutput = 1
)

var names = [...]string{
	Halt:   "halt",
	Exit:   "exit",
	Exec:   "exec",
	Join:   "join",
	Create: "create",
	Open:   "open",
	Read:   "read",
	Write:  "write",
	Close:  "close",
	Fork:   "fork",
	Yield:  "yield",
}

// Valid reports whether s is a known system call.
func (s Sysno) Valid() bool {
	return s >= 0 && int(s) < len(names)
}

// String implements fmt.Stringer.
func (s Sysno) String() string {
	if s.Valid() {
		return names[s]
	}
	return fmt.Sprintf("sysno(%d)", int32(s))
}

// All returns every known system call in numeric order.
func All() []Sysno {
	all := make([]Sysno, len(names))
	for i := range all {
		all[i] = Sysno(i)
	}
	return all
}
