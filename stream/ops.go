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

// Package stream implements delta compression over a
// long-lived state: a structural diff producing
// path-addressed operations, their binary codec, patch
// application, and the Stream session tying them to framing
// with desync detection.
package stream

import (
	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/jsonval"
	"github.com/fluxproto/flux/vint"
)

// Op codes. MOVE, INCREMENT and DECREMENT are never produced
// by the positional diff but are part of the protocol;
// receivers apply all of them.
const (
	OpSet       = 0x01
	OpDelete    = 0x02
	OpAppend    = 0x03
	OpInsert    = 0x04
	OpRemove    = 0x05
	OpMove      = 0x06
	OpIncrement = 0x07
	OpDecrement = 0x08
)

// Path segment markers.
const (
	segEnd   = 0x00
	segKey   = 0x01
	segIndex = 0xff
)

// Seg is one path segment: an object key or an array index.
type Seg struct {
	Key   string
	Index int
	IsKey bool
}

// KeySeg returns an object-key segment.
func KeySeg(k string) Seg { return Seg{Key: k, IsKey: true} }

// IndexSeg returns an array-index segment.
func IndexSeg(i int) Seg { return Seg{Index: i} }

// Op is one delta operation addressed by a path.
type Op struct {
	Code  uint8
	Path  []Seg
	Value jsonval.Value // SET, APPEND, INSERT
	A, B  int64         // INSERT/REMOVE index, MOVE from/to, INCREMENT/DECREMENT delta
}

// append the path, terminated.
func appendPath(dst []byte, path []Seg) []byte {
	for _, s := range path {
		if s.IsKey {
			dst = append(dst, segKey)
			dst = vint.Append(dst, uint64(len(s.Key)))
			dst = append(dst, s.Key...)
		} else {
			dst = append(dst, segIndex)
			dst = vint.Append(dst, uint64(s.Index))
		}
	}
	return append(dst, segEnd)
}

func parsePath(buf []byte) ([]Seg, int, error) {
	var path []Seg
	pos := 0
	for {
		if pos >= len(buf) {
			return nil, 0, flux.Errorf(flux.ErrDecode, "unterminated path")
		}
		marker := buf[pos]
		pos++
		switch marker {
		case segEnd:
			return path, pos, nil
		case segKey:
			ln, n, err := vint.UvarintStrict(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n
			if ln > flux.MaxStringLength || uint64(len(buf)-pos) < ln {
				return nil, 0, flux.Errorf(flux.ErrDecode, "truncated path key")
			}
			path = append(path, KeySeg(string(buf[pos:pos+int(ln)])))
			pos += int(ln)
		case segIndex:
			idx, n, err := vint.UvarintStrict(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n
			if idx > flux.MaxArrayLength {
				return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "path index %d exceeds cap", idx)
			}
			path = append(path, IndexSeg(int(idx)))
		default:
			return nil, 0, flux.Errorf(flux.ErrDecode, "bad path marker %#02x", marker)
		}
		if len(path) > flux.MaxNestingDepth {
			return nil, 0, flux.Errorf(flux.ErrDecode, "path deeper than %d", flux.MaxNestingDepth)
		}
	}
}

// appendOp serializes one operation.
func appendOp(dst []byte, op *Op) []byte {
	dst = append(dst, op.Code)
	dst = appendPath(dst, op.Path)
	switch op.Code {
	case OpSet, OpAppend:
		dst = jsonval.AppendBinary(dst, op.Value)
	case OpInsert:
		dst = vint.Append(dst, uint64(op.A))
		dst = jsonval.AppendBinary(dst, op.Value)
	case OpRemove:
		dst = vint.Append(dst, uint64(op.A))
	case OpMove:
		dst = vint.Append(dst, uint64(op.A))
		dst = vint.Append(dst, uint64(op.B))
	case OpIncrement, OpDecrement:
		dst = vint.AppendZigzag(dst, op.A)
	}
	return dst
}

func parseOp(buf []byte) (Op, int, error) {
	if len(buf) < 1 {
		return Op{}, 0, flux.Errorf(flux.ErrDecode, "truncated op")
	}
	op := Op{Code: buf[0]}
	pos := 1
	path, n, err := parsePath(buf[pos:])
	if err != nil {
		return Op{}, 0, err
	}
	op.Path = path
	pos += n
	switch op.Code {
	case OpSet, OpAppend:
		v, n, err := jsonval.DecodeBinary(buf[pos:], true)
		if err != nil {
			return Op{}, 0, err
		}
		op.Value = v
		pos += n
	case OpInsert:
		idx, n, err := vint.UvarintStrict(buf[pos:])
		if err != nil {
			return Op{}, 0, err
		}
		op.A = int64(idx)
		pos += n
		v, n, err := jsonval.DecodeBinary(buf[pos:], true)
		if err != nil {
			return Op{}, 0, err
		}
		op.Value = v
		pos += n
	case OpRemove:
		idx, n, err := vint.UvarintStrict(buf[pos:])
		if err != nil {
			return Op{}, 0, err
		}
		op.A = int64(idx)
		pos += n
	case OpMove:
		from, n, err := vint.UvarintStrict(buf[pos:])
		if err != nil {
			return Op{}, 0, err
		}
		pos += n
		to, n, err := vint.UvarintStrict(buf[pos:])
		if err != nil {
			return Op{}, 0, err
		}
		pos += n
		op.A, op.B = int64(from), int64(to)
	case OpIncrement, OpDecrement:
		d, n, err := vint.ZigzagStrict(buf[pos:])
		if err != nil {
			return Op{}, 0, err
		}
		op.A = d
		pos += n
	case OpDelete:
		// path only
	default:
		return Op{}, 0, flux.Errorf(flux.ErrDecode, "unknown op code %#02x", op.Code)
	}
	return op, pos, nil
}

// AppendOps serializes an op list: a count followed by the
// operations.
func AppendOps(dst []byte, ops []Op) []byte {
	dst = vint.Append(dst, uint64(len(ops)))
	for i := range ops {
		dst = appendOp(dst, &ops[i])
	}
	return dst
}

// ParseOps reverses AppendOps; the delta protocol uses strict
// varints throughout.
func ParseOps(buf []byte) ([]Op, int, error) {
	count, pos, err := vint.UvarintStrict(buf)
	if err != nil {
		return nil, 0, err
	}
	if count > flux.MaxArrayLength {
		return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "op count %d exceeds cap", count)
	}
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		op, n, err := parseOp(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		ops = append(ops, op)
	}
	return ops, pos, nil
}
