// rnaflow: dataflow orchestration for RNA-seq sample processing.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/rnaflow/blob/master/LICENSE.txt>.

package internal

// BoolHash returns a hash value for the given boolean value.
func BoolHash(b bool) uint64 {
	if b {
		return (1 << 35) - 1
	}
	return ((1 << 29) - 1) << 35
}

// StringHash returns a hash value for the given string value.
func StringHash(s string) (hash uint64) {
	// DJBX33A
	hash = 5381
	for _, b := range s {
		hash = ((hash << 5) + hash) + uint64(b)
	}
	return
}

// StringsHash combines the hash values of the given strings. The
// position of each string contributes to the result, so that keys
// with swapped fields do not collide trivially.
func StringsHash(ss ...string) (hash uint64) {
	for i, s := range ss {
		hash ^= StringHash(s) << uint(i%7)
	}
	return
}
