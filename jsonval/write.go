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

package jsonval

import (
	"math"
	"strconv"

	"github.com/dchest/siphash"
)

// Encode appends the canonical JSON form of v to dst: no
// insignificant whitespace, object keys in insertion order,
// shortest float formatting. The canonical form is the byte
// stream that state hashes are computed over, so it must be
// identical on both peers for identical values.
func Encode(dst []byte, v Value) []byte {
	return v.encode(dst)
}

func (Null) encode(dst []byte) []byte { return append(dst, "null"...) }

func (b Bool) encode(dst []byte) []byte {
	if b {
		return append(dst, "true"...)
	}
	return append(dst, "false"...)
}

func (i Int) encode(dst []byte) []byte {
	return strconv.AppendInt(dst, int64(i), 10)
}

func (f Float) encode(dst []byte) []byte {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		// cannot arise from parsed JSON; keep output valid
		return append(dst, "null"...)
	}
	return strconv.AppendFloat(dst, v, 'g', -1, 64)
}

func (s String) encode(dst []byte) []byte {
	return appendQuoted(dst, string(s))
}

func (a Array) encode(dst []byte) []byte {
	dst = append(dst, '[')
	for i := range a {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = a[i].encode(dst)
	}
	return append(dst, ']')
}

func (o Object) encode(dst []byte) []byte {
	dst = append(dst, '{')
	for i := range o {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendQuoted(dst, o[i].Key)
		dst = append(dst, ':')
		dst = o[i].Value.encode(dst)
	}
	return append(dst, '}')
}

const hexdigits = "0123456789abcdef"

func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		dst = append(dst, s[start:i]...)
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			dst = append(dst, '\\', 'u', '0', '0', hexdigits[c>>4], hexdigits[c&0xf])
		}
		start = i + 1
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}

// siphash keys for the canonical state hash; fixed by the
// protocol so that both peers derive identical hashes.
const (
	hashK0 = 0x464c555820763230 // "FLUX v20"
	hashK1 = 0x73746174652d6873 // "state-hs"
)

// Hash64 returns the 64-bit canonical hash of v, used as the
// base and new state tags of the delta protocol.
func Hash64(v Value) uint64 {
	return siphash.Hash(hashK0, hashK1, Encode(nil, v))
}
