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

import "fmt"

// ResizeReason identifies the operation that resized a Map.
type ResizeReason uint8

const (
	// ResizeExpand is a resize by Expand, including the implicit expansion
	// performed by Insert.
	ResizeExpand ResizeReason = iota + 1
	// ResizeShrink is a resize by Shrink.
	ResizeShrink
	// ResizeReserve is a resize by Reserve.
	ResizeReserve
)

func (r ResizeReason) String() string {
	switch r {
	case ResizeExpand:
		return "expand"
	case ResizeShrink:
		return "shrink"
	case ResizeReserve:
		return "reserve"
	default:
		return fmt.Sprintf("ResizeReason(%d)", uint8(r))
	}
}

// Observer is notified of the events of interest in the life of a Map. The
// methods are invoked synchronously from the Map operation that caused them
// and must not mutate the Map.
type Observer interface {
	// Resized is called after the bucket array was rebuilt. The bucket
	// counts before and after are oldMask+1 and newMask+1.
	Resized(reason ResizeReason, oldMask, newMask uint64)
	// ResizeFailed is called when the Allocator could not provide a bucket
	// array. The map is left at its previous size.
	ResizeFailed(reason ResizeReason, err error)
	// Pathological is called during a resize for each bucket whose chain
	// was longer than expected, which usually points at a poor hash
	// function.
	Pathological(bucket uint64, length int)
}

type nopObserver struct{}

func (nopObserver) Resized(ResizeReason, uint64, uint64) {}
func (nopObserver) ResizeFailed(ResizeReason, error)     {}
func (nopObserver) Pathological(uint64, int)             {}
