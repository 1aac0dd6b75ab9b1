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

package host

import (
	"fmt"

	"golang.org/x/sys/unix"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
)

// translateError maps a host errno onto the kernel's error values, keeping
// the errno in the message.
func translateError(op, name string, err error) error {
	switch err {
	case unix.ENOENT:
		return fmt.Errorf("%s %q: %v: %w", op, name, err, kernerr.ErrNotFound)
	case unix.EEXIST:
		return fmt.Errorf("%s %q: %v: %w", op, name, err, kernerr.ErrExists)
	case unix.EBADF:
		return fmt.Errorf("%s %q: %v: %w", op, name, err, kernerr.ErrBadFile)
	default:
		return fmt.Errorf("%s %q: %v: %w", op, name, err, kernerr.ErrIO)
	}
}
