// Copyright 2024 eMobility Hub GmbH
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

package store

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// ComputeETag fingerprints the canonical serialized form of a resource.
// The serialized form includes last_updated, so two resources with identical
// bodies but different timestamps produce different tags.
// XXHash128 is not cryptographic; the tag is a cache validator, not a MAC.
// https://cyan4973.github.io/xxHash/
func ComputeETag(canonical []byte) string {
	h := xxh3.New()
	// Write on a fresh xxh3 hasher cannot fail
	_, _ = h.Write(canonical)

	return hex.EncodeToString(uint128ToBytes(h.Sum128()))
}

// uint128ToBytes converts a uint128 to a byte array
func uint128ToBytes(a xxh3.Uint128) (b []byte) {
	b = make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], a.Lo)
	binary.LittleEndian.PutUint64(b[8:16], a.Hi)
	return
}
