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

// Package hmap implements an intrusive hash table with separate chaining.
//
// # Intrusive tables
//
// An intrusive table does not store keys or values. Instead the elements
// themselves embed a Node header and the table threads those nodes into
// chains. The table never allocates, copies or frees an element, never
// computes a hash and never compares keys: the caller supplies a precomputed
// hash on insertion and performs its own equality checks on the candidates
// returned by a lookup. In exchange an element can be a member of several
// tables at once (one Node per table) and insertion and removal never
// allocate, save for the occasional resize of the bucket array.
//
//	type flow struct {
//	  byID   hmap.Node
//	  byAddr hmap.Node
//	  id     uint64
//	  addr   netip.Addr
//	}
//
//	byID := hmap.New(func(f *flow) *hmap.Node { return &f.byID })
//	byID.Insert(f, hmap.HashUint64(f.id, 0))
//
//	byID.WithHash(hmap.HashUint64(id, 0), func(f *flow) bool {
//	  if f.id == id {
//	    found = f
//	    return false
//	  }
//	  return true
//	})
//
// # Layout
//
// The table is an array of mask+1 chain heads where mask is always of the
// form 2^k-1, so the bucket for a hash is hash&mask. A node lives in bucket
// hash&mask for its cached hash. A table with mask == 0 has a single bucket
// which is stored inline in the Map, so empty and tiny tables never allocate.
//
//	buckets (mask=3)
//	+---+
//	| 0 | --> node{hash=0x...4} --> node{hash=0x...8} --> nil
//	+---+
//	| 1 | --> nil
//	+---+
//	| 2 | --> node{hash=0x...6} --> nil
//	+---+
//	| 3 | --> node{hash=0x...3} --> nil
//	+---+
//
// The bucket count is sized for an average chain length of about two (see
// calcMask). Insert grows the table when the node count exceeds twice the
// bucket count. Nothing shrinks the table implicitly: Shrink is meant to be
// called by the owner after bulk deletions.
//
// # Relocation
//
// Elements are usually kept in slices and appending to a slice may move
// every element to a new backing array. Such a move leaves the table
// pointing at the stale copies. NodeMoved repoints the table at the new copy
// of a single element; it must be called for every element that is a member
// of the table after the move.
//
// A Map is NOT goroutine-safe.
package hmap

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
	"unsafe"
)

const (
	debug = false

	// pathologicalChain is the chain length beyond which a bucket is
	// reported to the Observer during a resize.
	pathologicalChain = 5
)

// ErrAllocFailed is returned (wrapped) by the operations that resize the
// bucket array when the Allocator could not provide one.
var ErrAllocFailed = errors.New("hmap: bucket allocation failed")

// Node is the header that an element embeds in order to be a member of a
// Map. A Node must not be copied while it is a member of a Map, other than as
// part of a relocation reported with NodeMoved.
type Node struct {
	hash uint64
	next *Node
}

// Hash returns the hash the node was inserted with.
func (n *Node) Hash() uint64 {
	return n.hash
}

// Map is an intrusive hash table of elements of type T. See the package
// documentation for an overview.
type Map[T any] struct {
	// buckets holds the chain heads. It is mask+1 in length when mask > 0
	// and nil when mask == 0, in which case the single chain head is one.
	buckets []*Node
	one     *Node
	// The bucket count minus one (always 2^N-1). Used to compute i%N with a
	// bitwise & operation.
	mask uint64
	// The number of nodes reachable from buckets.
	n int
	// nodeOffset is the offset of the Node within T.
	nodeOffset uintptr
	allocator  Allocator
	observer   Observer
}

// New constructs an empty Map. The node function must return a pointer to a
// Node embedded in its argument; it is invoked once, on a zero T, to locate
// the Node within T. A T may embed several Nodes in order to be a member of
// several maps.
func New[T any](node func(*T) *Node, options ...option[T]) *Map[T] {
	m := &Map[T]{
		nodeOffset: nodeOffsetOf(node),
		allocator:  defaultAllocator{},
		observer:   nopObserver{},
	}

	for _, op := range options {
		op.apply(m)
	}

	m.checkInvariants()
	return m
}

func nodeOffsetOf[T any](node func(*T) *Node) uintptr {
	var host T
	base := uintptr(unsafe.Pointer(&host))
	p := uintptr(unsafe.Pointer(node(&host)))
	if p < base || p-base+unsafe.Sizeof(Node{}) > unsafe.Sizeof(host) {
		panic(fmt.Sprintf("hmap: node accessor for %T does not return a Node embedded in its argument", host))
	}
	return p - base
}

// Close releases the bucket array back to the configured allocator. The
// elements are not touched: their lifetime is the caller's responsibility.
// The map is left empty and usable. Close is idempotent.
func (m *Map[T]) Close() {
	if m.buckets != nil {
		m.allocator.FreeBuckets(m.buckets)
	}
	m.buckets = nil
	m.one = nil
	m.mask = 0
	m.n = 0
}

// Clear removes every element from the map without releasing the bucket
// array. Use Clear when the map will soon hold about as many elements as it
// did before, and Close otherwise.
func (m *Map[T]) Clear() {
	if m.n > 0 {
		m.n = 0
		m.one = nil
		clear(m.buckets)
	}
	m.checkInvariants()
}

// Swap exchanges the contents of m and o.
func (m *Map[T]) Swap(o *Map[T]) {
	*m, *o = *o, *m
	m.Moved()
	o.Moved()
}

// Moved adjusts m to compensate for the Map value itself having been copied
// to a new address. It must be called on the copy before it is used.
func (m *Map[T]) Moved() {
	// The single bucket is addressed through the Map itself, so only a stray
	// bucket slice needs to be dropped.
	if m.mask == 0 {
		m.buckets = nil
	}
	m.checkInvariants()
}

// Len returns the number of elements in the map.
func (m *Map[T]) Len() int {
	return m.n
}

// IsEmpty returns true if the map holds no elements.
func (m *Map[T]) IsEmpty() bool {
	return m.n == 0
}

// InsertFast inserts e with the specified hash without considering whether
// the bucket array should grow. Use Insert unless the caller resizes the map
// itself (e.g. with Reserve or Expand).
func (m *Map[T]) InsertFast(e *T, hash uint64) {
	m.insertNode(m.node(e), hash)
	m.checkInvariants()
}

// Insert inserts e with the specified hash, growing the bucket array if the
// map has become crowded. Inserting an element that is already a member of
// the map corrupts the map.
//
// A failed growth is reported to the Observer and otherwise ignored: the map
// remains valid at its previous size.
func (m *Map[T]) Insert(e *T, hash uint64) {
	m.insertNode(m.node(e), hash)
	if uint64(m.n/2) > m.mask {
		_ = m.Expand()
	}
	m.checkInvariants()
}

// Remove removes e from the map. It panics if e is not a member. Remove
// never shrinks the bucket array; see Shrink.
func (m *Map[T]) Remove(e *T) {
	n := m.node(e)
	l := m.link(n, n.hash)
	if l == nil {
		panic(fmt.Sprintf("hmap: remove: node %p [hash=%016x] not found\n%s", n, n.hash, m.debugString()))
	}
	*l = n.next
	n.next = nil
	m.n--
	m.checkInvariants()
}

// Replace puts repl in the position of old, which must be a member of the
// map. repl takes over old's hash.
func (m *Map[T]) Replace(old, repl *T) {
	on, nn := m.node(old), m.node(repl)
	l := m.link(on, on.hash)
	if l == nil {
		panic(fmt.Sprintf("hmap: replace: node %p [hash=%016x] not found\n%s", on, on.hash, m.debugString()))
	}
	nn.hash = on.hash
	nn.next = on.next
	*l = nn
	m.checkInvariants()
}

// NodeMoved adjusts m to compensate for the element old having been copied
// to moved (e.g. because the slice holding it was reallocated by append).
// moved must carry old's Node verbatim. It panics if old is not a member of
// m.
//
// When several members moved at once, NodeMoved may be called for them in
// any order: the link of moved is refreshed from old, which remains part of
// the chain until its own NodeMoved call.
func (m *Map[T]) NodeMoved(old, moved *T) {
	on, nn := m.node(old), m.node(moved)
	l := m.link(on, nn.hash)
	if l == nil {
		panic(fmt.Sprintf("hmap: node moved: node %p [hash=%016x] not found\n%s", on, nn.hash, m.debugString()))
	}
	nn.next = on.next
	*l = nn
}

// Expand grows the bucket array, if necessary, to optimize the performance
// of searches for the current number of elements.
func (m *Map[T]) Expand() error {
	if newMask := calcMask(uint64(m.n)); newMask > m.mask {
		return m.resize(newMask, ResizeExpand)
	}
	return nil
}

// Shrink shrinks the bucket array, if necessary, to optimize the performance
// of iteration for the current number of elements.
func (m *Map[T]) Shrink() error {
	if newMask := calcMask(uint64(m.n)); newMask < m.mask {
		return m.resize(newMask, ResizeShrink)
	}
	return nil
}

// Reserve grows the bucket array, if necessary, to optimize the performance
// of searches when the map holds up to n elements. Iteration is slow over a
// map whose bucket array is much larger than its element count.
func (m *Map[T]) Reserve(n int) error {
	if n <= 0 {
		return nil
	}
	if newMask := calcMask(uint64(n)); newMask > m.mask {
		return m.resize(newMask, ResizeReserve)
	}
	return nil
}

// First returns the first element of the map in hash order, or nil if the
// map is empty.
func (m *Map[T]) First() *T {
	return m.host(m.nextFrom(0))
}

// Next returns the element following e in hash order, or nil if e is the
// last element.
func (m *Map[T]) Next(e *T) *T {
	n := m.node(e)
	if n.next != nil {
		return m.host(n.next)
	}
	return m.host(m.nextFrom((n.hash & m.mask) + 1))
}

// All calls yield sequentially for each element in the map in hash order.
// If yield returns false, iteration stops. The element passed to yield may
// be removed from the map by yield. Other mutations during iteration may
// cause elements to be skipped or visited twice.
func (m *Map[T]) All(yield func(e *T) bool) {
	for i := uint64(0); i <= m.mask; i++ {
		for n := *m.head(i); n != nil; {
			next := n.next
			if !yield(m.host(n)) {
				return
			}
			n = next
		}
	}
}

// WithHash calls yield sequentially for each element that was inserted with
// exactly the specified hash. The caller is responsible for checking that
// the element matches its key. If yield returns false, iteration stops.
func (m *Map[T]) WithHash(hash uint64, yield func(e *T) bool) {
	for n := *m.head(hash & m.mask); n != nil; {
		next := n.next
		if n.hash == hash && !yield(m.host(n)) {
			return
		}
		n = next
	}
}

// InBucket calls yield sequentially for each element in the bucket that
// hash maps to, including elements with a different hash. If yield returns
// false, iteration stops.
func (m *Map[T]) InBucket(hash uint64, yield func(e *T) bool) {
	for n := *m.head(hash & m.mask); n != nil; {
		next := n.next
		if !yield(m.host(n)) {
			return
		}
		n = next
	}
}

// Position is a resumable cursor for AtPosition. The zero value is the
// start of the map.
type Position struct {
	Bucket uint32
	Offset uint32
}

// AtPosition returns the element at pos in hash order and advances pos past
// it, or returns nil and resets pos once the map is exhausted.
//
// A Position stays meaningful while the map is mutated between calls, but
// mutations ahead of the position may cause elements to be skipped or
// returned twice. All is faster and handles removal of the current element
// exactly; AtPosition is for callers that must drop the map between steps.
func (m *Map[T]) AtPosition(pos *Position) *T {
	offset := pos.Offset
	for b := uint64(pos.Bucket); b <= m.mask; b++ {
		var i uint32
		for n := *m.head(b); n != nil; n, i = n.next, i+1 {
			if i != offset {
				continue
			}
			if n.next != nil {
				pos.Bucket = uint32(b)
				pos.Offset = offset + 1
			} else {
				pos.Bucket = uint32(b + 1)
				pos.Offset = 0
			}
			return m.host(n)
		}
		offset = 0
	}

	*pos = Position{}
	return nil
}

// calcMask returns the mask for a map expected to hold capacity elements:
// the smallest 2^k-1 that is >= capacity/2. A map that needs a bucket array
// at all gets at least 4 buckets.
func calcMask(capacity uint64) uint64 {
	mask := capacity / 2
	mask |= mask >> 1
	mask |= mask >> 2
	mask |= mask >> 4
	mask |= mask >> 8
	mask |= mask >> 16
	mask |= mask >> 32

	mask |= (mask & 1) << 1
	return mask
}

// resize rebuilds the bucket array with newMask+1 buckets, relinking every
// node by its cached hash, and discards the old array. The map is left
// unchanged if the allocator fails.
func (m *Map[T]) resize(newMask uint64, reason ResizeReason) error {
	if newMask&(newMask+1) != 0 {
		panic(fmt.Sprintf("hmap: resize: mask %#x is not of the form 2^k-1", newMask))
	}
	if newMask == math.MaxUint64 {
		panic("hmap: resize: mask must not be the maximum value")
	}
	if newMask >= math.MaxInt {
		panic(fmt.Sprintf("hmap: resize: mask %#x exceeds the addressable bucket count", newMask))
	}

	tmp := Map[T]{
		nodeOffset: m.nodeOffset,
		allocator:  m.allocator,
		observer:   m.observer,
	}
	if newMask > 0 {
		count := int(newMask + 1)
		buckets, err := m.allocator.AllocBuckets(count)
		if err == nil && len(buckets) != count {
			err = fmt.Errorf("allocator returned %d buckets", len(buckets))
		}
		if err != nil {
			err = fmt.Errorf("%w: %s to %d buckets: %w", ErrAllocFailed, reason, count, err)
			m.observer.ResizeFailed(reason, err)
			return err
		}
		clear(buckets)
		tmp.buckets = buckets
		tmp.mask = newMask
	}

	oldMask := m.mask
	if debug {
		fmt.Printf("resize(%s): buckets=%d->%d  n=%d\n", reason, oldMask+1, newMask+1, m.n)
	}

	for i := uint64(0); i <= m.mask; i++ {
		var length int
		for n := *m.head(i); n != nil; length++ {
			next := n.next
			tmp.insertNode(n, n.hash)
			n = next
		}
		if length > pathologicalChain {
			if debug {
				fmt.Printf("resize(%s): bucket %d has %d nodes\n", reason, i, length)
			}
			m.observer.Pathological(i, length)
		}
	}

	// Every node now belongs to tmp. Empty the old buckets so that the shell
	// swapped out below is a valid empty map.
	m.one = nil
	m.n = 0
	clear(m.buckets)

	m.Swap(&tmp)
	tmp.Close()

	m.observer.Resized(reason, oldMask, newMask)
	m.checkInvariants()
	return nil
}

// insertNode links n at the head of its bucket.
func (m *Map[T]) insertNode(n *Node, hash uint64) {
	b := m.head(hash & m.mask)
	n.hash = hash
	n.next = *b
	*b = n
	m.n++
}

// head returns the chain head of bucket i, which must be <= m.mask.
func (m *Map[T]) head(i uint64) **Node {
	// NB: The single bucket case is checked with a conditional rather than a
	// self-referential buckets slice so that a Map can be copied without
	// leaving buckets pointing into the original.
	if m.mask == 0 {
		return &m.one
	}
	return &m.buckets[i]
}

// link returns the link that points at target in the bucket that hash maps
// to, or nil if target is not in that bucket.
func (m *Map[T]) link(target *Node, hash uint64) **Node {
	l := m.head(hash & m.mask)
	for *l != target {
		if *l == nil {
			return nil
		}
		l = &(*l).next
	}
	return l
}

// nextFrom returns the first node in bucket start or any later bucket.
func (m *Map[T]) nextFrom(start uint64) *Node {
	for i := start; i <= m.mask; i++ {
		if n := *m.head(i); n != nil {
			return n
		}
	}
	return nil
}

// node returns the Node embedded in e.
func (m *Map[T]) node(e *T) *Node {
	return (*Node)(unsafe.Add(unsafe.Pointer(e), m.nodeOffset))
}

// host returns the element that embeds n, or nil if n is nil.
func (m *Map[T]) host(n *Node) *T {
	if n == nil {
		return nil
	}
	return (*T)(unsafe.Add(unsafe.Pointer(n), -int(m.nodeOffset)))
}

// bucketCount returns the number of buckets, including the inline one.
func (m *Map[T]) bucketCount() int {
	return int(m.mask + 1)
}

func (m *Map[T]) checkInvariants() {
	if invariants {
		if m.mask&(m.mask+1) != 0 {
			panic(fmt.Sprintf("invariant failed: mask %#x is not of the form 2^k-1", m.mask))
		}
		if m.mask == 0 {
			if m.buckets != nil {
				panic(fmt.Sprintf("invariant failed: single-bucket map has %d heap buckets", len(m.buckets)))
			}
		} else if uint64(len(m.buckets)) != m.mask+1 {
			panic(fmt.Sprintf("invariant failed: found %d buckets, but mask is %#x", len(m.buckets), m.mask))
		}

		var n int
		for i := uint64(0); i <= m.mask; i++ {
			for node := *m.head(i); node != nil; node = node.next {
				if b := node.hash & m.mask; b != i {
					panic(fmt.Sprintf("invariant failed: node %p [hash=%016x] in bucket %d, expected %d\n%s",
						node, node.hash, i, b, m.debugString()))
				}
				n++
			}
		}
		if n != m.n {
			panic(fmt.Sprintf("invariant failed: found %d nodes, but count is %d\n%s", n, m.n, m.debugString()))
		}
	}
}

func (m *Map[T]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "mask=%#x  buckets=%d  n=%d\n", m.mask, m.bucketCount(), m.n)
	for i := uint64(0); i <= m.mask; i++ {
		n := *m.head(i)
		if n == nil {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", i)
		for ; n != nil; n = n.next {
			fmt.Fprintf(&buf, " %0*x", bits.Len64(m.mask|1)/4+1, n.hash)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
