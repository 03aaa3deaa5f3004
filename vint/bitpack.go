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

package vint

import (
	"github.com/fluxproto/flux"
)

// PackedSize returns the number of bytes needed to pack n
// values of the given bit width.
func PackedSize(n int, width uint) int {
	return (n*int(width) + 7) / 8
}

// Pack appends n values, each in [0, 2^width), to dst as a
// packed little-endian bit stream. Bits fill from the LSB of
// the current byte upward; a value that crosses a byte
// boundary puts its low bits in the current byte and its
// high bits in the next. width == 0 writes nothing (the
// values are all zero by contract).
func Pack(dst []byte, vals []uint64, width uint) []byte {
	if width == 0 {
		return dst
	}
	base := len(dst)
	dst = append(dst, make([]byte, PackedSize(len(vals), width))...)
	bit := 0
	for _, v := range vals {
		for w := uint(0); w < width; w++ {
			if v&(1<<w) != 0 {
				dst[base+bit/8] |= 1 << (bit % 8)
			}
			bit++
		}
	}
	return dst
}

// Unpack reads count values of the given bit width from src.
// width == 0 yields count zeros without consuming input.
func Unpack(src []byte, count int, width uint) ([]uint64, error) {
	if width > 64 {
		return nil, flux.Errorf(flux.ErrDecode, "bit width %d exceeds 64", width)
	}
	vals := make([]uint64, count)
	if width == 0 {
		return vals, nil
	}
	if len(src) < PackedSize(count, width) {
		return nil, flux.Errorf(flux.ErrDecode, "bit-packed data truncated: have %d bytes, need %d", len(src), PackedSize(count, width))
	}
	bit := 0
	for i := range vals {
		var v uint64
		for w := uint(0); w < width; w++ {
			if src[bit/8]&(1<<(bit%8)) != 0 {
				v |= 1 << w
			}
			bit++
		}
		vals[i] = v
	}
	return vals, nil
}
