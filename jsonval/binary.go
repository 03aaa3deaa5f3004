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
	"encoding/binary"
	"math"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/vint"
)

// Tagged binary codec. Delta op values and scalar payloads are
// self-describing: one tag byte followed by the content. The
// delta protocol decodes varints in strict mode.
const (
	tagNull   = 0x00
	tagFalse  = 0x01
	tagTrue   = 0x02
	tagInt    = 0x03 // zigzag varint
	tagFloat  = 0x04 // 8 bytes little-endian IEEE 754
	tagString = 0x05 // varint length + bytes
	tagArray  = 0x06 // varint count + elements
	tagObject = 0x07 // varint count + (varint keylen, key, value)
)

// AppendBinary appends the tagged binary encoding of v.
func AppendBinary(dst []byte, v Value) []byte {
	switch v := v.(type) {
	case Null:
		return append(dst, tagNull)
	case Bool:
		if v {
			return append(dst, tagTrue)
		}
		return append(dst, tagFalse)
	case Int:
		dst = append(dst, tagInt)
		return vint.AppendZigzag(dst, int64(v))
	case Float:
		dst = append(dst, tagFloat)
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(float64(v)))
	case String:
		dst = append(dst, tagString)
		dst = vint.Append(dst, uint64(len(v)))
		return append(dst, v...)
	case Array:
		dst = append(dst, tagArray)
		dst = vint.Append(dst, uint64(len(v)))
		for i := range v {
			dst = AppendBinary(dst, v[i])
		}
		return dst
	case Object:
		dst = append(dst, tagObject)
		dst = vint.Append(dst, uint64(len(v)))
		for i := range v {
			dst = vint.Append(dst, uint64(len(v[i].Key)))
			dst = append(dst, v[i].Key...)
			dst = AppendBinary(dst, v[i].Value)
		}
		return dst
	}
	panic("jsonval: unknown value type")
}

// DecodeBinary decodes one tagged binary value from the front
// of buf, returning the value and the number of bytes read.
// strict selects strict varint validation.
func DecodeBinary(buf []byte, strict bool) (Value, int, error) {
	return decodeBinary(buf, strict, 0)
}

func decodeBinary(buf []byte, strict bool, depth int) (Value, int, error) {
	if depth > flux.MaxNestingDepth {
		return nil, 0, flux.Errorf(flux.ErrDecode, "nesting deeper than %d", flux.MaxNestingDepth)
	}
	if len(buf) == 0 {
		return nil, 0, flux.Errorf(flux.ErrDecode, "truncated value")
	}
	uvarint := vint.Uvarint
	if strict {
		uvarint = vint.UvarintStrict
	}
	tag := buf[0]
	pos := 1
	switch tag {
	case tagNull:
		return Null{}, pos, nil
	case tagFalse:
		return Bool(false), pos, nil
	case tagTrue:
		return Bool(true), pos, nil
	case tagInt:
		u, n, err := uvarint(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		return Int(vint.ZigzagDecode(u)), pos + n, nil
	case tagFloat:
		if len(buf) < pos+8 {
			return nil, 0, flux.Errorf(flux.ErrDecode, "truncated float")
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(buf[pos:]))
		return Float(f), pos + 8, nil
	case tagString:
		ln, n, err := uvarint(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		if ln > flux.MaxStringLength {
			return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "string length %d exceeds cap", ln)
		}
		if uint64(len(buf)-pos) < ln {
			return nil, 0, flux.Errorf(flux.ErrDecode, "truncated string")
		}
		return String(buf[pos : pos+int(ln)]), pos + int(ln), nil
	case tagArray:
		count, n, err := uvarint(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		if count > flux.MaxArrayLength {
			return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "array length %d exceeds cap", count)
		}
		arr := make(Array, 0, min(int(count), 1024))
		for i := uint64(0); i < count; i++ {
			v, n, err := decodeBinary(buf[pos:], strict, depth+1)
			if err != nil {
				return nil, 0, err
			}
			pos += n
			arr = append(arr, v)
		}
		return arr, pos, nil
	case tagObject:
		count, n, err := uvarint(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		if count > flux.MaxArrayLength {
			return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "object size %d exceeds cap", count)
		}
		obj := make(Object, 0, min(int(count), 1024))
		for i := uint64(0); i < count; i++ {
			klen, n, err := uvarint(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n
			if klen > flux.MaxStringLength {
				return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "key length %d exceeds cap", klen)
			}
			if uint64(len(buf)-pos) < klen {
				return nil, 0, flux.Errorf(flux.ErrDecode, "truncated key")
			}
			key := string(buf[pos : pos+int(klen)])
			pos += int(klen)
			v, n, err := decodeBinary(buf[pos:], strict, depth+1)
			if err != nil {
				return nil, 0, err
			}
			pos += n
			obj = append(obj, Member{Key: key, Value: v})
		}
		return obj, pos, nil
	}
	return nil, 0, flux.Errorf(flux.ErrDecode, "unknown value tag %#02x", tag)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
