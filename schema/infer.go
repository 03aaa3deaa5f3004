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

package schema

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fluxproto/flux/date"
	"github.com/fluxproto/flux/jsonval"
)

// Infer derives the schema of a root value. Objects yield one
// field per key in insertion order; any other root yields a
// synthetic single field with the empty name, so that every
// JSON value has a schema and therefore a cache identity.
func Infer(v jsonval.Value) *Schema {
	if obj, ok := v.(jsonval.Object); ok {
		return New(objectFields(obj))
	}
	t := InferType(v)
	return New([]FieldDef{{Name: "", Type: t, Nullable: v.Kind() == jsonval.NullKind}})
}

func objectFields(obj jsonval.Object) []FieldDef {
	fields := make([]FieldDef, 0, len(obj))
	for i := range obj {
		fields = append(fields, FieldDef{
			Name:     obj[i].Key,
			Type:     InferType(obj[i].Value),
			Nullable: obj[i].Value.Kind() == jsonval.NullKind,
		})
	}
	return fields
}

// InferType maps one value to its field type. String content
// is inspected for the extended types; detection is advisory
// and never affects the reconstructed JSON.
func InferType(v jsonval.Value) FieldType {
	switch v := v.(type) {
	case jsonval.Null:
		return Scalar(TagNull)
	case jsonval.Bool:
		return Scalar(TagBool)
	case jsonval.Int:
		return Scalar(TagInt)
	case jsonval.Float:
		return Scalar(TagFloat)
	case jsonval.String:
		return Scalar(detectString(string(v)))
	case jsonval.Array:
		if len(v) == 0 {
			return ArrayOf(Scalar(TagUnknown))
		}
		elem := InferType(v[0])
		for i := 1; i < len(v); i++ {
			elem = Merge(elem, InferType(v[i]))
		}
		return ArrayOf(elem)
	case jsonval.Object:
		return ObjectOf(objectFields(v))
	}
	return Scalar(TagUnknown)
}

// detectString classifies string content, in fixed order:
// UUID, timestamp, date, time, decimal, plain string.
func detectString(s string) Tag {
	if len(s) == 36 && isUUID(s) {
		return TagUUID
	}
	if date.IsTimestamp(s) {
		return TagTimestamp
	}
	if date.IsDate(s) {
		return TagDate
	}
	if date.IsTime(s) {
		return TagTime
	}
	if isDecimal(s) {
		return TagDecimal
	}
	return TagString
}

func isUUID(s string) bool {
	if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// isDecimal matches -?\d+\.\d+ with at most 18 significant
// digits.
func isDecimal(s string) bool {
	rest := strings.TrimPrefix(s, "-")
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return false
	}
	digits := 0
	for i := 0; i < len(rest); i++ {
		if i == dot {
			continue
		}
		c := rest[i]
		if c < '0' || c > '9' {
			return false
		}
		digits++
	}
	return digits <= 18
}

// Merge combines two field types observed for the same field:
// Null makes the other nullable-equivalent (handled at the
// field level), Int and Float merge to Float, nested types
// merge structurally, and any other disagreement unions.
func Merge(a, b FieldType) FieldType {
	if typeEqual(a, b) {
		return a
	}
	// Unknown comes from empty arrays and merges with anything
	if a.Tag == TagUnknown {
		return b
	}
	if b.Tag == TagUnknown {
		return a
	}
	if (a.Tag == TagInt && b.Tag == TagFloat) || (a.Tag == TagFloat && b.Tag == TagInt) {
		return Scalar(TagFloat)
	}
	// extended string tags degrade to plain strings rather
	// than unioning; the wire value is a string either way
	if stringlike(a.Tag) && stringlike(b.Tag) {
		return Scalar(TagString)
	}
	if a.Tag == TagArray && b.Tag == TagArray {
		return ArrayOf(Merge(*a.Elem, *b.Elem))
	}
	if a.Tag == TagObject && b.Tag == TagObject {
		return ObjectOf(MergeFields(a.Fields, b.Fields))
	}
	var members []FieldType
	members = appendMembers(members, a)
	members = appendMembers(members, b)
	return UnionOf(members)
}

func appendMembers(dst []FieldType, t FieldType) []FieldType {
	if t.Tag == TagUnion {
		return append(dst, t.Members...)
	}
	return append(dst, t)
}

func stringlike(t Tag) bool {
	switch t {
	case TagString, TagTimestamp, TagUUID, TagDate, TagTime, TagDecimal:
		return true
	}
	return false
}

// MergeFields merges two field lists of the same object shape.
// Shared fields merge their types; a field present on only one
// side becomes nullable. A field that toggles between null and
// a type promotes to nullable rather than union. Field order
// follows a, with b's extra fields appended in b's order.
func MergeFields(a, b []FieldDef) []FieldDef {
	out := make([]FieldDef, 0, len(a))
	bseen := make(map[string]bool, len(b))
	for i := range a {
		f := a[i]
		found := false
		for j := range b {
			if b[j].Name != f.Name {
				continue
			}
			found = true
			bseen[f.Name] = true
			g := b[j]
			nullable := f.Nullable || g.Nullable
			switch {
			case f.Type.Tag == TagNull:
				f.Type = g.Type
				nullable = true
			case g.Type.Tag == TagNull:
				nullable = true
			default:
				f.Type = Merge(f.Type, g.Type)
			}
			f.Nullable = nullable
			break
		}
		if !found {
			f.Nullable = true
		}
		out = append(out, f)
	}
	for j := range b {
		if bseen[b[j].Name] {
			continue
		}
		f := b[j]
		f.Nullable = true
		out = append(out, f)
	}
	return out
}

// MergeSchemas merges two schemas field-wise and returns a new
// canonical schema.
func MergeSchemas(a, b *Schema) *Schema {
	return New(MergeFields(a.Fields, b.Fields))
}
