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

// Package contexttest builds a test context.Context.
package contexttest

import (
	stdcontext "context"
	"testing"

	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/sentry/context"
)

// Context returns a Context that may be used in tests. Its logger writes
// through tb.Logf at debug level, so log output is attached to the test that
// produced it.
func Context(tb testing.TB) context.Context {
	l := &log.BasicLogger{
		Level:   log.Debug,
		Emitter: &log.TestEmitter{TestLogger: tb},
	}
	return context.WithLogger(stdcontext.Background(), l)
}

// ThreadContext is like Context but also carries a thread name and process
// identifier, as a user thread's context does.
func ThreadContext(tb testing.TB, name string, pid int32) context.Context {
	ctx := Context(tb)
	ctx = context.WithValue(ctx, context.CtxThreadName, name)
	return context.WithValue(ctx, context.CtxProcessID, pid)
}
