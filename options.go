// Copyright 2024 The Cockroach Authors
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

package hmap

// option provide an interface to do work on Map while it is being created.
type option[T any] interface {
	apply(m *Map[T])
}

// Allocator specifies an interface for allocating and releasing the bucket
// arrays used by a Map. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory. Elements are never allocated through
// an Allocator: they belong to the caller.
//
// If the allocator is manually managing memory and requires that bucket
// arrays be freed then Map.Close must be called in order to ensure
// FreeBuckets is called for the final array.
type Allocator interface {
	// AllocBuckets should return a slice equivalent to make([]*Node, n), or
	// an error if the memory is not available. A slice of any other length
	// is treated as a failure. The slice need not be zeroed.
	AllocBuckets(n int) ([]*Node, error)

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(b []*Node)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocBuckets(n int) ([]*Node, error) {
	return make([]*Node, n), nil
}

func (defaultAllocator) FreeBuckets(b []*Node) {
}

type allocatorOption[T any] struct {
	allocator Allocator
}

func (op allocatorOption[T]) apply(m *Map[T]) {
	if op.allocator == nil {
		m.allocator = defaultAllocator{}
		return
	}
	m.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a Map[T].
func WithAllocator[T any](allocator Allocator) option[T] {
	return allocatorOption[T]{allocator}
}

type observerOption[T any] struct {
	observer Observer
}

func (op observerOption[T]) apply(m *Map[T]) {
	if op.observer == nil {
		m.observer = nopObserver{}
		return
	}
	m.observer = op.observer
}

// WithObserver is an option to specify an Observer that is notified of
// resizes of a Map[T].
func WithObserver[T any](observer Observer) option[T] {
	return observerOption[T]{observer}
}
