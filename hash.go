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

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// The helpers below compute hashes suitable for Insert and WithHash. A Map
// never hashes anything itself; callers are free to use any hash function
// whose low bits are well distributed. The basis allows independent hashes
// of the same data, e.g. to combine several fields:
//
//	h := hmap.HashString(f.name, 0)
//	h = hmap.HashUint64(f.port, h)

// HashBytes returns the xxHash64 of basis followed by b.
func HashBytes(b []byte, basis uint64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], basis)
	_, _ = d.Write(buf[:])
	_, _ = d.Write(b)
	return d.Sum64()
}

// HashString returns the xxHash64 of basis followed by s. It returns the
// same value as HashBytes([]byte(s), basis).
func HashString(s string, basis uint64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], basis)
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(s)
	return d.Sum64()
}

// HashUint64 returns the xxHash64 of basis followed by v.
func HashUint64(v, basis uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], basis)
	binary.LittleEndian.PutUint64(buf[8:], v)
	return xxhash.Sum64(buf[:])
}
