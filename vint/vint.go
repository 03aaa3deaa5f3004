// Copyright (C) 2023 Fluxproto, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package vint implements the integer serialization primitives
// used throughout the wire format: little-endian base-128
// varints, zigzag folding of signed integers, and LSB-first
// bit-packing.
package vint

import (
	"github.com/fluxproto/flux"
)

// MaxLen is the longest legal varint encoding of a uint64.
const MaxLen = 10

// Size returns the number of bytes Append will emit for u.
func Size(u uint64) int {
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// Append appends the varint encoding of u to dst and
// returns the extended buffer. Each byte carries seven
// payload bits, least-significant group first; the high bit
// marks continuation.
func Append(dst []byte, u uint64) []byte {
	for u >= 0x80 {
		dst = append(dst, byte(u&0x7f)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// Uvarint decodes a varint from the front of buf and returns
// the value and the number of bytes consumed. Non-minimal
// encodings are accepted; see UvarintStrict for the strict
// form used by the delta protocol.
func Uvarint(buf []byte) (uint64, int, error) {
	return uvarint(buf, false)
}

// UvarintStrict decodes a varint and additionally rejects
// non-minimal encodings (a multi-byte encoding whose final
// byte is zero contributes nothing and is therefore padding).
func UvarintStrict(buf []byte) (uint64, int, error) {
	return uvarint(buf, true)
}

func uvarint(buf []byte, strict bool) (uint64, int, error) {
	var u uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if i == MaxLen-1 && b > 1 {
			// the 10th byte may only carry the top bit of a u64
			return 0, 0, flux.Errorf(flux.ErrDecode, "varint overflows 64 bits")
		}
		u |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if strict && i > 0 && b == 0 {
				return 0, 0, flux.Errorf(flux.ErrDecode, "non-minimal varint")
			}
			return u, i + 1, nil
		}
		shift += 7
		if i == MaxLen-1 {
			return 0, 0, flux.Errorf(flux.ErrDecode, "varint longer than %d bytes", MaxLen)
		}
	}
	return 0, 0, flux.Errorf(flux.ErrDecode, "truncated varint")
}

// ZigzagEncode folds a signed integer into an unsigned one
// so that values of small magnitude stay small.
func ZigzagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

// ZigzagDecode is the inverse of ZigzagEncode.
func ZigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// AppendZigzag appends the zigzag-varint encoding of n.
func AppendZigzag(dst []byte, n int64) []byte {
	return Append(dst, ZigzagEncode(n))
}

// Zigzag decodes a zigzag-varint from the front of buf.
func Zigzag(buf []byte) (int64, int, error) {
	u, n, err := Uvarint(buf)
	return ZigzagDecode(u), n, err
}

// ZigzagStrict is Zigzag with strict varint validation.
func ZigzagStrict(buf []byte) (int64, int, error) {
	u, n, err := UvarintStrict(buf)
	return ZigzagDecode(u), n, err
}
