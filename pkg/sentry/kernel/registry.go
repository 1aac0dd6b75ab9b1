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
	"fmt"
	"sync"

	"github.com/google/btree"
	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/sentry/mm"
)

// registryDegree is the B-tree degree of the process registry.
const registryDegree = 8

// processEntry tracks one process identity: the exec'd program and every
// thread forked from it.
type processEntry struct {
	id    int32
	name  string
	image *mm.Image

	// refs counts live threads sharing the identity.
	refs int

	// joiners counts threads waiting in Join.
	joiners int

	// status is the exit status of the last thread to exit.
	status int32
}

// ProcessInfo is a snapshot of a registry entry.
type ProcessInfo struct {
	ID      int32
	Name    string
	Refs    int
	Joiners int
	Status  int32
}

// Exited reports whether every thread of the process has exited.
func (p ProcessInfo) Exited() bool {
	return p.Refs == 0
}

// Registry maps process identifiers to their entries.
//
// An entry is created by exec with one reference. Fork adds a reference and
// exit drops one; when the last reference is gone the shared image is freed
// and the status becomes available to joiners. The entry is removed when
// the last joiner has read it. An entry nobody joins stays until the kernel
// is torn down.
type Registry struct {
	mu      sync.Mutex
	entries *btree.BTreeG[*processEntry]
	lastID  int32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: btree.NewG(registryDegree, func(a, b *processEntry) bool {
			return a.id < b.id
		}),
	}
}

func (r *Registry) get(id int32) (*processEntry, bool) {
	return r.entries.Get(&processEntry{id: id})
}

// Add registers a newly exec'd process with one reference and returns its
// identifier. Identifiers start at 1 and are never reused.
func (r *Registry) Add(name string, image *mm.Image) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	r.entries.ReplaceOrInsert(&processEntry{id: r.lastID, name: name, image: image, refs: 1})
	return r.lastID
}

// Fork adds a reference to process id.
func (r *Registry) Fork(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.get(id)
	if !ok || e.refs == 0 {
		return fmt.Errorf("fork of process %d: %w", id, kernerr.ErrNoProcess)
	}
	e.refs++
	return nil
}

// Exit drops a reference to process id and records status. It returns the
// shared image once no reference is left, so that the caller frees it.
func (r *Registry) Exit(id int32, status int32) (*mm.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.get(id)
	if !ok || e.refs == 0 {
		return nil, fmt.Errorf("exit of process %d: %w", id, kernerr.ErrNoProcess)
	}
	e.refs--
	e.status = status
	if e.refs > 0 {
		return nil, nil
	}
	img := e.image
	e.image = nil
	return img, nil
}

// Join waits for process id to exit and returns its status. yield is called
// on every iteration of the wait, and its error aborts it.
func (r *Registry) Join(id int32, yield func() error) (int32, error) {
	r.mu.Lock()
	e, ok := r.get(id)
	if !ok {
		r.mu.Unlock()
		return -1, fmt.Errorf("join of process %d: %w", id, kernerr.ErrNoProcess)
	}
	e.joiners++
	for e.refs > 0 {
		r.mu.Unlock()
		err := yield()
		r.mu.Lock()
		if err != nil {
			e.joiners--
			r.mu.Unlock()
			return -1, err
		}
	}
	status := e.status
	e.joiners--
	if e.joiners == 0 {
		r.entries.Delete(e)
	}
	r.mu.Unlock()
	return status, nil
}

// Teardown takes the shared images of every process that still has live
// threads, so that the caller frees them once those threads are gone. It is
// called when the kernel stops without the threads having exited.
func (r *Registry) Teardown() []*mm.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	var imgs []*mm.Image
	r.entries.Ascend(func(e *processEntry) bool {
		if e.image != nil {
			imgs = append(imgs, e.image)
			e.image = nil
		}
		return true
	})
	return imgs
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// List returns a snapshot of every entry, ordered by identifier.
func (r *Registry) List() []ProcessInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]ProcessInfo, 0, r.entries.Len())
	r.entries.Ascend(func(e *processEntry) bool {
		infos = append(infos, ProcessInfo{
			ID:      e.id,
			Name:    e.name,
			Refs:    e.refs,
			Joiners: e.joiners,
			Status:  e.status,
		})
		return true
	})
	return infos
}
