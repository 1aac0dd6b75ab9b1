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

// Package context defines the sentry's Context type.
package context

import (
	"context"

	"gvisor.dev/vmkernel/pkg/log"
)

type contextID int

// Globally accessible values from a context. These keys are defined in the
// context package to resolve dependency cycles by not requiring the caller to
// import packages usually required to get these information.
const (
	// CtxProcessID is the process identifier of the calling thread. The value
	// is represented as an int32.
	CtxProcessID contextID = iota

	// CtxThreadName is the name of the calling thread, as a string.
	CtxThreadName
)

// ProcessIDFromContext returns the process identifier when ctx represents a
// user thread.
func ProcessIDFromContext(ctx context.Context) (int32, bool) {
	if id := ctx.Value(CtxProcessID); id != nil {
		return id.(int32), true
	}
	return 0, false
}

// ThreadNameFromContext returns the thread name when ctx represents a user
// thread, or "kernel" otherwise.
func ThreadNameFromContext(ctx context.Context) string {
	if name := ctx.Value(CtxThreadName); name != nil {
		return name.(string)
	}
	return "kernel"
}

// A Context carries a logger and request scoped values across sentry API
// boundaries. Each simulated thread has its own Context; it is not safe to
// use one from another thread.
type Context interface {
	context.Context
	log.Logger
}

type logContext struct {
	context.Context
	log.Logger
}

// Background returns an empty context using the default logger.
//
// Using a Background context for tests is fine, as long as no values are
// needed from the context in the tested code paths.
func Background() Context {
	return &logContext{Context: context.Background(), Logger: log.Log()}
}

// WithValue returns a copy of parent in which key is associated with val.
func WithValue(parent Context, key, val any) Context {
	return &logContext{
		Context: context.WithValue(parent, key, val),
		Logger:  parent,
	}
}

// WithLogger returns ctx with its logger replaced.
func WithLogger(ctx context.Context, l log.Logger) Context {
	return &logContext{Context: ctx, Logger: l}
}
