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

// Package schema derives field schemas from JSON values,
// serializes them canonically, and caches them per session
// under stable 64-bit hashes and monotonic 32-bit ids.
package schema

import (
	"golang.org/x/exp/slices"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/vint"
)

// Tag identifies a field type on the wire.
type Tag uint8

const (
	TagNull   Tag = 0x00
	TagBool   Tag = 0x01
	TagInt    Tag = 0x02
	TagFloat  Tag = 0x03
	TagString Tag = 0x04
	TagBinary Tag = 0x05
	TagArray  Tag = 0x06
	TagObject Tag = 0x07
	TagUnion  Tag = 0x08

	TagTimestamp Tag = 0x10
	TagUUID      Tag = 0x11
	TagDate      Tag = 0x12
	TagTime      Tag = 0x13
	TagDecimal   Tag = 0x14

	// TagUnknown marks the element type of an empty array;
	// it merges with anything.
	TagUnknown Tag = 0x1f
)

// FieldType describes the type of one field. Elem is set for
// arrays, Fields for objects, and Members for unions; scalar
// tags use neither.
type FieldType struct {
	Tag     Tag
	Elem    *FieldType  // Tag == TagArray
	Fields  []FieldDef  // Tag == TagObject
	Members []FieldType // Tag == TagUnion, sorted by tag
}

// FieldDef is one named, typed field of a schema.
type FieldDef struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Schema is an ordered field list with its canonical hash.
type Schema struct {
	Version uint16
	Hash    uint64
	Fields  []FieldDef
}

// Scalar returns a FieldType with no parameters.
func Scalar(tag Tag) FieldType { return FieldType{Tag: tag} }

// ArrayOf returns an array type over elem.
func ArrayOf(elem FieldType) FieldType {
	return FieldType{Tag: TagArray, Elem: &elem}
}

// ObjectOf returns an object type over the given fields.
func ObjectOf(fields []FieldDef) FieldType {
	return FieldType{Tag: TagObject, Fields: fields}
}

// UnionOf returns a union over the given members, stably
// sorted by tag, dropping any member equal to the one
// before it.
func UnionOf(members []FieldType) FieldType {
	slices.SortStableFunc(members, func(a, b FieldType) bool {
		return a.Tag < b.Tag
	})
	out := members[:0]
	for i := range members {
		if len(out) > 0 && typeEqual(out[len(out)-1], members[i]) {
			continue
		}
		out = append(out, members[i])
	}
	if len(out) == 1 {
		return out[0]
	}
	return FieldType{Tag: TagUnion, Members: out}
}

func typeEqual(a, b FieldType) bool {
	return string(appendType(nil, &a)) == string(appendType(nil, &b))
}

// New builds a schema over fields and computes its hash.
func New(fields []FieldDef) *Schema {
	s := &Schema{Version: 1, Fields: fields}
	s.Hash = fnv1a(s.canonical(nil))
	return s
}

// FNV-1a 64-bit over the canonical serialization.
const (
	fnvOffset = 0xcbf29ce484222325
	fnvPrime  = 0x100000001b3
)

func fnv1a(b []byte) uint64 {
	h := uint64(fnvOffset)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime
	}
	return h
}

// canonical appends the canonical byte serialization:
// field count, then per field the name (length-prefixed), the
// type tag, the nullable byte, and the type parameters.
func (s *Schema) canonical(dst []byte) []byte {
	dst = vint.Append(dst, uint64(len(s.Fields)))
	for i := range s.Fields {
		dst = appendField(dst, &s.Fields[i])
	}
	return dst
}

func appendField(dst []byte, f *FieldDef) []byte {
	dst = vint.Append(dst, uint64(len(f.Name)))
	dst = append(dst, f.Name...)
	nullable := byte(0)
	if f.Nullable {
		nullable = 1
	}
	dst = append(dst, byte(f.Type.Tag), nullable)
	return appendParams(dst, &f.Type)
}

func appendType(dst []byte, t *FieldType) []byte {
	dst = append(dst, byte(t.Tag))
	return appendParams(dst, t)
}

func appendParams(dst []byte, t *FieldType) []byte {
	switch t.Tag {
	case TagArray:
		return appendType(dst, t.Elem)
	case TagObject:
		dst = vint.Append(dst, uint64(len(t.Fields)))
		for i := range t.Fields {
			dst = appendField(dst, &t.Fields[i])
		}
		return dst
	case TagUnion:
		dst = append(dst, byte(len(t.Members)))
		for i := range t.Members {
			dst = appendType(dst, &t.Members[i])
		}
		return dst
	default:
		return dst
	}
}

// Marshal appends the wire form of the schema definition: a
// varint length followed by the canonical bytes.
func (s *Schema) Marshal(dst []byte) []byte {
	body := s.canonical(nil)
	dst = vint.Append(dst, uint64(len(body)))
	return append(dst, body...)
}

// Unmarshal parses a schema definition from the front of buf
// and returns the schema and the bytes consumed. The hash is
// recomputed from the parsed form, which guarantees invariant
// (I2) regardless of what the sender claimed.
func Unmarshal(buf []byte) (*Schema, int, error) {
	ln, n, err := vint.Uvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	if ln > uint64(flux.MaxFrameSize) {
		return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "schema definition of %d bytes", ln)
	}
	if uint64(len(buf)-n) < ln {
		return nil, 0, flux.Errorf(flux.ErrDecode, "truncated schema definition")
	}
	body := buf[n : n+int(ln)]
	fields, used, err := parseFields(body, 0)
	if err != nil {
		return nil, 0, err
	}
	if used != len(body) {
		return nil, 0, flux.Errorf(flux.ErrDecode, "%d trailing bytes after schema", len(body)-used)
	}
	return New(fields), n + int(ln), nil
}

func parseFields(buf []byte, depth int) ([]FieldDef, int, error) {
	if depth > flux.MaxNestingDepth {
		return nil, 0, flux.Errorf(flux.ErrDecode, "schema nesting deeper than %d", flux.MaxNestingDepth)
	}
	count, pos, err := vint.Uvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	if count > flux.MaxSchemaFields {
		return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "schema with %d fields exceeds cap %d", count, flux.MaxSchemaFields)
	}
	fields := make([]FieldDef, 0, count)
	for i := uint64(0); i < count; i++ {
		nlen, n, err := vint.Uvarint(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		if nlen > flux.MaxStringLength || uint64(len(buf)-pos) < nlen {
			return nil, 0, flux.Errorf(flux.ErrDecode, "truncated field name")
		}
		name := string(buf[pos : pos+int(nlen)])
		pos += int(nlen)
		if len(buf)-pos < 2 {
			return nil, 0, flux.Errorf(flux.ErrDecode, "truncated field header")
		}
		tag := Tag(buf[pos])
		nullable := buf[pos+1]
		pos += 2
		if nullable > 1 {
			return nil, 0, flux.Errorf(flux.ErrDecode, "bad nullable byte %#02x", nullable)
		}
		ft, n, err := parseParams(tag, buf[pos:], depth)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		fields = append(fields, FieldDef{Name: name, Type: ft, Nullable: nullable == 1})
	}
	return fields, pos, nil
}

func parseType(buf []byte, depth int) (FieldType, int, error) {
	if len(buf) == 0 {
		return FieldType{}, 0, flux.Errorf(flux.ErrDecode, "truncated type")
	}
	ft, n, err := parseParams(Tag(buf[0]), buf[1:], depth)
	return ft, 1 + n, err
}

func parseParams(tag Tag, buf []byte, depth int) (FieldType, int, error) {
	if depth > flux.MaxNestingDepth {
		return FieldType{}, 0, flux.Errorf(flux.ErrDecode, "schema nesting deeper than %d", flux.MaxNestingDepth)
	}
	switch tag {
	case TagNull, TagBool, TagInt, TagFloat, TagString, TagBinary,
		TagTimestamp, TagUUID, TagDate, TagTime, TagDecimal, TagUnknown:
		return FieldType{Tag: tag}, 0, nil
	case TagArray:
		elem, n, err := parseType(buf, depth+1)
		if err != nil {
			return FieldType{}, 0, err
		}
		return FieldType{Tag: TagArray, Elem: &elem}, n, nil
	case TagObject:
		fields, n, err := parseFields(buf, depth+1)
		if err != nil {
			return FieldType{}, 0, err
		}
		return FieldType{Tag: TagObject, Fields: fields}, n, nil
	case TagUnion:
		if len(buf) == 0 {
			return FieldType{}, 0, flux.Errorf(flux.ErrDecode, "truncated union")
		}
		count := int(buf[0])
		pos := 1
		members := make([]FieldType, 0, count)
		for i := 0; i < count; i++ {
			m, n, err := parseType(buf[pos:], depth+1)
			if err != nil {
				return FieldType{}, 0, err
			}
			pos += n
			members = append(members, m)
		}
		return FieldType{Tag: TagUnion, Members: members}, pos, nil
	default:
		return FieldType{}, 0, flux.Errorf(flux.ErrDecode, "unknown type tag %#02x", uint8(tag))
	}
}

// Equal reports canonical equality, the definition of schema
// identity. Hash equality alone is not sufficient: callers
// verify with Equal on every hash match.
func (s *Schema) Equal(other *Schema) bool {
	return string(s.canonical(nil)) == string(other.canonical(nil))
}
