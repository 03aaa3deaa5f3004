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

// Package colenc implements the encoding layer between values
// and frame payloads: the schema-guided row codec, the
// columnar transform for homogeneous arrays, the per-column
// type-specific codecs, and the size-driven encoding selector.
package colenc

import (
	"encoding/binary"
	"math"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/date"
	"github.com/fluxproto/flux/jsonval"
	"github.com/fluxproto/flux/schema"
	"github.com/fluxproto/flux/vint"
)

// Presence bytes for nullable fields in row encoding.
const (
	presAbsent = 0 // key missing from the object
	presNull   = 1 // key present with a null value
	presValue  = 2 // key present, value follows
)

// String forms in row encoding.
const (
	strLiteral = 0x00 // varint length + bytes
	strDictRef = 0x01 // varint dictionary id
)

// Float forms: a Float-typed slot may hold an integer that
// was widened by schema merging; coercing it to float64 would
// change its canonical rendering, so the original kind is
// kept on the wire.
const (
	floatIEEE = 0 // 8 bytes little-endian
	floatInt  = 1 // zigzag varint
)

// EncodeObject appends the row-wise body of obj under the
// given field list.
func EncodeObject(dst []byte, fields []schema.FieldDef, obj jsonval.Object, d *Dict) ([]byte, error) {
	return encodeObject(dst, fields, obj, d)
}

// DecodeObject reverses EncodeObject.
func DecodeObject(buf []byte, fields []schema.FieldDef, d *Dict) (jsonval.Value, int, error) {
	return decodeObject(buf, fields, d, 0)
}

// EncodeTyped appends the body of a non-object root value
// under its field type.
func EncodeTyped(dst []byte, t *schema.FieldType, v jsonval.Value, d *Dict) ([]byte, error) {
	return encodeValue(dst, t, v, d)
}

// DecodeTyped reverses EncodeTyped.
func DecodeTyped(buf []byte, t *schema.FieldType, d *Dict) (jsonval.Value, int, error) {
	return decodeValue(buf, t, d, 0)
}

func encodeObject(dst []byte, fields []schema.FieldDef, obj jsonval.Object, d *Dict) ([]byte, error) {
	encoded := 0
	for i := range fields {
		f := &fields[i]
		v, present := obj.Get(f.Name)
		if present {
			encoded++
		}
		if f.Nullable {
			switch {
			case !present:
				dst = append(dst, presAbsent)
				continue
			case v.Kind() == jsonval.NullKind:
				dst = append(dst, presNull)
				continue
			default:
				dst = append(dst, presValue)
			}
		} else {
			if !present {
				return nil, flux.Errorf(flux.ErrDecode, "field %q missing from object", f.Name)
			}
			if v.Kind() == jsonval.NullKind && f.Type.Tag != schema.TagNull {
				return nil, flux.Errorf(flux.ErrDecode, "null in non-nullable field %q", f.Name)
			}
		}
		var err error
		dst, err = encodeValue(dst, &f.Type, v, d)
		if err != nil {
			return nil, err
		}
	}
	if encoded != len(obj) {
		return nil, flux.Errorf(flux.ErrDecode, "object has %d fields, schema covers %d", len(obj), encoded)
	}
	return dst, nil
}

func decodeObject(buf []byte, fields []schema.FieldDef, d *Dict, depth int) (jsonval.Value, int, error) {
	if depth > flux.MaxNestingDepth {
		return nil, 0, flux.Errorf(flux.ErrDecode, "nesting deeper than %d", flux.MaxNestingDepth)
	}
	obj := make(jsonval.Object, 0, len(fields))
	pos := 0
	for i := range fields {
		f := &fields[i]
		if f.Nullable {
			if pos >= len(buf) {
				return nil, 0, flux.Errorf(flux.ErrDecode, "truncated presence byte")
			}
			switch buf[pos] {
			case presAbsent:
				pos++
				continue
			case presNull:
				pos++
				obj = append(obj, jsonval.Member{Key: f.Name, Value: jsonval.Null{}})
				continue
			case presValue:
				pos++
			default:
				return nil, 0, flux.Errorf(flux.ErrDecode, "bad presence byte %#02x", buf[pos])
			}
		}
		v, n, err := decodeValue(buf[pos:], &f.Type, d, depth+1)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		obj = append(obj, jsonval.Member{Key: f.Name, Value: v})
	}
	return obj, pos, nil
}

func encodeValue(dst []byte, t *schema.FieldType, v jsonval.Value, d *Dict) ([]byte, error) {
	switch t.Tag {
	case schema.TagNull:
		if v.Kind() != jsonval.NullKind {
			return nil, typeMismatch(t, v)
		}
		return dst, nil
	case schema.TagBool:
		b, ok := v.(jsonval.Bool)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case schema.TagInt:
		i, ok := v.(jsonval.Int)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return vint.AppendZigzag(dst, int64(i)), nil
	case schema.TagFloat:
		switch v := v.(type) {
		case jsonval.Float:
			dst = append(dst, floatIEEE)
			return binary.LittleEndian.AppendUint64(dst, math.Float64bits(float64(v))), nil
		case jsonval.Int:
			dst = append(dst, floatInt)
			return vint.AppendZigzag(dst, int64(v)), nil
		}
		return nil, typeMismatch(t, v)
	case schema.TagString, schema.TagBinary:
		s, ok := v.(jsonval.String)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return encodeString(dst, string(s), d), nil
	case schema.TagTimestamp:
		s, ok := v.(jsonval.String)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		if ms, layout, exact := date.ParseTimestamp(string(s)); exact {
			dst = append(dst, 1+layout)
			return vint.AppendZigzag(dst, ms), nil
		}
		return appendRawString(append(dst, 0), string(s)), nil
	case schema.TagDate:
		s, ok := v.(jsonval.String)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		if ms, exact := date.ParseDate(string(s)); exact {
			dst = append(dst, 1)
			return vint.AppendZigzag(dst, ms), nil
		}
		return appendRawString(append(dst, 0), string(s)), nil
	case schema.TagTime:
		s, ok := v.(jsonval.String)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		if ms, withMillis, exact := date.ParseTime(string(s)); exact {
			marker := byte(1)
			if withMillis {
				marker = 2
			}
			dst = append(dst, marker)
			return vint.Append(dst, uint64(ms)), nil
		}
		return appendRawString(append(dst, 0), string(s)), nil
	case schema.TagUUID:
		s, ok := v.(jsonval.String)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		if b, exact := uuidBytes(string(s)); exact {
			dst = append(dst, 1)
			return append(dst, b[:]...), nil
		}
		return appendRawString(append(dst, 0), string(s)), nil
	case schema.TagDecimal:
		s, ok := v.(jsonval.String)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		if m, scale, exact := decimalParts(string(s)); exact {
			dst = append(dst, 1, scale)
			return vint.AppendZigzag(dst, m), nil
		}
		return appendRawString(append(dst, 0), string(s)), nil
	case schema.TagArray:
		arr, ok := v.(jsonval.Array)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		dst = vint.Append(dst, uint64(len(arr)))
		if t.Elem.Tag == schema.TagUnknown {
			if len(arr) != 0 {
				return nil, flux.Errorf(flux.ErrDecode, "non-empty array with unknown element type")
			}
			return dst, nil
		}
		var err error
		for i := range arr {
			dst, err = encodeValue(dst, t.Elem, arr[i], d)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case schema.TagObject:
		obj, ok := v.(jsonval.Object)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return encodeObject(dst, t.Fields, obj, d)
	case schema.TagUnion:
		for i := range t.Members {
			if Matches(&t.Members[i], v) {
				dst = append(dst, byte(i))
				return encodeValue(dst, &t.Members[i], v, d)
			}
		}
		return nil, typeMismatch(t, v)
	}
	return nil, flux.Errorf(flux.ErrUnsupportedEncoding, "cannot encode type tag %#02x", uint8(t.Tag))
}

func decodeValue(buf []byte, t *schema.FieldType, d *Dict, depth int) (jsonval.Value, int, error) {
	if depth > flux.MaxNestingDepth {
		return nil, 0, flux.Errorf(flux.ErrDecode, "nesting deeper than %d", flux.MaxNestingDepth)
	}
	switch t.Tag {
	case schema.TagNull:
		return jsonval.Null{}, 0, nil
	case schema.TagBool:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		switch buf[0] {
		case 0:
			return jsonval.Bool(false), 1, nil
		case 1:
			return jsonval.Bool(true), 1, nil
		}
		return nil, 0, flux.Errorf(flux.ErrDecode, "bad bool byte %#02x", buf[0])
	case schema.TagInt:
		n, used, err := vint.Zigzag(buf)
		if err != nil {
			return nil, 0, err
		}
		return jsonval.Int(n), used, nil
	case schema.TagFloat:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		switch buf[0] {
		case floatIEEE:
			if len(buf) < 9 {
				return nil, 0, truncated()
			}
			f := math.Float64frombits(binary.LittleEndian.Uint64(buf[1:]))
			return jsonval.Float(f), 9, nil
		case floatInt:
			n, used, err := vint.Zigzag(buf[1:])
			if err != nil {
				return nil, 0, err
			}
			return jsonval.Int(n), 1 + used, nil
		}
		return nil, 0, flux.Errorf(flux.ErrDecode, "bad float marker %#02x", buf[0])
	case schema.TagString, schema.TagBinary:
		s, used, err := decodeString(buf, d)
		if err != nil {
			return nil, 0, err
		}
		return jsonval.String(s), used, nil
	case schema.TagTimestamp:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		if buf[0] == 0 {
			s, used, err := readRawString(buf[1:])
			return jsonval.String(s), 1 + used, err
		}
		ms, used, err := vint.Zigzag(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		s, ok := date.FormatTimestamp(ms, buf[0]-1)
		if !ok {
			return nil, 0, flux.Errorf(flux.ErrDecode, "bad timestamp layout %d", buf[0]-1)
		}
		return jsonval.String(s), 1 + used, nil
	case schema.TagDate:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		if buf[0] == 0 {
			s, used, err := readRawString(buf[1:])
			return jsonval.String(s), 1 + used, err
		}
		ms, used, err := vint.Zigzag(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		return jsonval.String(date.FormatDate(ms)), 1 + used, nil
	case schema.TagTime:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		if buf[0] == 0 {
			s, used, err := readRawString(buf[1:])
			return jsonval.String(s), 1 + used, err
		}
		ms, used, err := vint.Uvarint(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		s, ok := date.FormatTime(int64(ms), buf[0] == 2)
		if !ok {
			return nil, 0, flux.Errorf(flux.ErrDecode, "bad time value %d", ms)
		}
		return jsonval.String(s), 1 + used, nil
	case schema.TagUUID:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		if buf[0] == 0 {
			s, used, err := readRawString(buf[1:])
			return jsonval.String(s), 1 + used, err
		}
		if len(buf) < 17 {
			return nil, 0, truncated()
		}
		var b [16]byte
		copy(b[:], buf[1:17])
		return jsonval.String(formatUUID(b)), 17, nil
	case schema.TagDecimal:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		if buf[0] == 0 {
			s, used, err := readRawString(buf[1:])
			return jsonval.String(s), 1 + used, err
		}
		if len(buf) < 2 {
			return nil, 0, truncated()
		}
		scale := buf[1]
		m, used, err := vint.Zigzag(buf[2:])
		if err != nil {
			return nil, 0, err
		}
		return jsonval.String(formatDecimal(m, scale)), 2 + used, nil
	case schema.TagArray:
		count, pos, err := vint.Uvarint(buf)
		if err != nil {
			return nil, 0, err
		}
		if count > flux.MaxArrayLength {
			return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "array length %d exceeds cap", count)
		}
		arr := make(jsonval.Array, 0, capHint(count))
		for i := uint64(0); i < count; i++ {
			v, used, err := decodeValue(buf[pos:], t.Elem, d, depth+1)
			if err != nil {
				return nil, 0, err
			}
			pos += used
			arr = append(arr, v)
		}
		return arr, pos, nil
	case schema.TagObject:
		v, used, err := decodeObject(buf, t.Fields, d, depth)
		return v, used, err
	case schema.TagUnion:
		if len(buf) < 1 {
			return nil, 0, truncated()
		}
		idx := int(buf[0])
		if idx >= len(t.Members) {
			return nil, 0, flux.Errorf(flux.ErrDecode, "union member %d of %d", idx, len(t.Members))
		}
		v, used, err := decodeValue(buf[1:], &t.Members[idx], d, depth+1)
		return v, 1 + used, err
	}
	return nil, 0, flux.Errorf(flux.ErrUnsupportedEncoding, "cannot decode type tag %#02x", uint8(t.Tag))
}

func encodeString(dst []byte, s string, d *Dict) []byte {
	if d != nil {
		if id, ok := d.Lookup(s); ok {
			dst = append(dst, strDictRef)
			return vint.Append(dst, uint64(id))
		}
		d.admit(s)
	}
	return appendRawString(append(dst, strLiteral), s)
}

func decodeString(buf []byte, d *Dict) (string, int, error) {
	if len(buf) < 1 {
		return "", 0, truncated()
	}
	switch buf[0] {
	case strLiteral:
		s, used, err := readRawString(buf[1:])
		if err != nil {
			return "", 0, err
		}
		if d != nil {
			d.admit(s)
		}
		return s, 1 + used, nil
	case strDictRef:
		id, used, err := vint.Uvarint(buf[1:])
		if err != nil {
			return "", 0, err
		}
		if d == nil {
			return "", 0, flux.Errorf(flux.ErrDecode, "dictionary reference without a dictionary")
		}
		s, ok := d.At(uint32(id))
		if !ok {
			return "", 0, flux.Errorf(flux.ErrDecode, "dictionary id %d out of range", id)
		}
		return s, 1 + used, nil
	}
	return "", 0, flux.Errorf(flux.ErrDecode, "bad string marker %#02x", buf[0])
}

func appendRawString(dst []byte, s string) []byte {
	dst = vint.Append(dst, uint64(len(s)))
	return append(dst, s...)
}

func readRawString(buf []byte) (string, int, error) {
	ln, used, err := vint.Uvarint(buf)
	if err != nil {
		return "", 0, err
	}
	if ln > flux.MaxStringLength {
		return "", 0, flux.Errorf(flux.ErrBufferOverflow, "string length %d exceeds cap", ln)
	}
	if uint64(len(buf)-used) < ln {
		return "", 0, truncated()
	}
	return string(buf[used : used+int(ln)]), used + int(ln), nil
}

// Matches reports whether v can be encoded under t. It is
// used to pick union members and to verify columnar
// eligibility.
func Matches(t *schema.FieldType, v jsonval.Value) bool {
	switch t.Tag {
	case schema.TagNull:
		return v.Kind() == jsonval.NullKind
	case schema.TagBool:
		return v.Kind() == jsonval.BoolKind
	case schema.TagInt:
		return v.Kind() == jsonval.IntKind
	case schema.TagFloat:
		return v.Kind() == jsonval.IntKind || v.Kind() == jsonval.FloatKind
	case schema.TagString, schema.TagBinary, schema.TagTimestamp, schema.TagUUID,
		schema.TagDate, schema.TagTime, schema.TagDecimal:
		return v.Kind() == jsonval.StringKind
	case schema.TagArray:
		arr, ok := v.(jsonval.Array)
		if !ok {
			return false
		}
		if t.Elem.Tag == schema.TagUnknown {
			return len(arr) == 0
		}
		for i := range arr {
			if !Matches(t.Elem, arr[i]) {
				return false
			}
		}
		return true
	case schema.TagObject:
		obj, ok := v.(jsonval.Object)
		if !ok {
			return false
		}
		// keys must form an in-order subsequence of the
		// schema's fields: decoding rebuilds objects in
		// schema order, so any other order would not
		// round-trip
		fi := 0
		for m := range obj {
			j := fi
			for j < len(t.Fields) && t.Fields[j].Name != obj[m].Key {
				j++
			}
			if j == len(t.Fields) {
				return false
			}
			fi = j + 1
			f := &t.Fields[j]
			if obj[m].Value.Kind() == jsonval.NullKind {
				if !f.Nullable && f.Type.Tag != schema.TagNull {
					return false
				}
				continue
			}
			if !Matches(&f.Type, obj[m].Value) {
				return false
			}
		}
		for i := range t.Fields {
			if _, present := obj.Get(t.Fields[i].Name); !present && !t.Fields[i].Nullable {
				return false
			}
		}
		return true
	case schema.TagUnion:
		for i := range t.Members {
			if Matches(&t.Members[i], v) {
				return true
			}
		}
		return false
	}
	return false
}

func typeMismatch(t *schema.FieldType, v jsonval.Value) error {
	return flux.Errorf(flux.ErrDecode, "value kind %d does not fit type tag %#02x", v.Kind(), uint8(t.Tag))
}

func truncated() error {
	return flux.Errorf(flux.ErrDecode, "truncated value")
}

func capHint(n uint64) int {
	if n > 1024 {
		return 1024
	}
	return int(n)
}
