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

package colenc

import (
	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/fse"
	"github.com/fluxproto/flux/jsonval"
	"github.com/fluxproto/flux/schema"
	"github.com/fluxproto/flux/vint"
)

// Markers for how the missing rows of a nullable column split
// between absent keys and explicit nulls.
const (
	missingAbsent = 0 // every missing row lacks the key
	missingNull   = 1 // every missing row is an explicit null
	missingMixed  = 2 // a bitmap follows: set bit = explicit null
)

// Extended-type column subheaders.
const (
	extStringFallback = 0xff // values stored as plain strings
	extPerValue       = 0xfe // decimal only: per-value scale
)

// BlockOptions configure the columnar transform.
type BlockOptions struct {
	// Entropy permits the per-column entropy stage.
	Entropy bool
	// Dict is the session's shared string dictionary; column
	// dictionary entries feed it on both sides.
	Dict *Dict
}

// Eligible reports whether rows qualifies for the columnar
// transform under the element type elem: an object element
// schema with at least one field, at least ColumnarMinRows
// rows, and every row conforming (including key order).
func Eligible(rows jsonval.Array, elem *schema.FieldType) bool {
	if elem.Tag != schema.TagObject || len(elem.Fields) == 0 {
		return false
	}
	if len(rows) < flux.ColumnarMinRows {
		return false
	}
	for i := range rows {
		if !Matches(elem, rows[i]) {
			return false
		}
	}
	return true
}

// EncodeBlock appends the columnar body for rows under the
// object element type elem. It reports whether any column
// went through the entropy coder.
func EncodeBlock(dst []byte, rows jsonval.Array, elem *schema.FieldType, opt *BlockOptions) (out []byte, entropyUsed bool, err error) {
	fields := elem.Fields
	dst = vint.Append(dst, uint64(len(rows)))
	dst = vint.Append(dst, uint64(len(fields)))
	for i := range fields {
		f := &fields[i]
		present := make([]bool, len(rows))
		explicitNull := make([]bool, len(rows))
		var vals []jsonval.Value
		missing := 0
		for r := range rows {
			obj := rows[r].(jsonval.Object)
			v, ok := obj.Get(f.Name)
			switch {
			case !ok:
				missing++
			case v.Kind() == jsonval.NullKind:
				missing++
				explicitNull[r] = true
			default:
				present[r] = true
				vals = append(vals, v)
			}
		}
		if !f.Nullable && missing > 0 {
			return nil, false, flux.Errorf(flux.ErrDecode, "missing value in non-nullable column %q", f.Name)
		}
		if f.Nullable {
			dst = appendBitmap(dst, present)
			dst = appendMissingInfo(dst, present, explicitNull)
		}
		enc, data, err := encodeColumn(&f.Type, vals, opt.Dict)
		if err != nil {
			return nil, false, err
		}
		if opt.Entropy {
			if blob, ok := fse.Encode(data); ok {
				dst = append(dst, enc|encEntropyBit)
				dst = vint.Append(dst, uint64(len(data)))
				dst = vint.Append(dst, uint64(len(blob)))
				dst = append(dst, blob...)
				entropyUsed = true
				continue
			}
		}
		dst = append(dst, enc)
		dst = vint.Append(dst, uint64(len(data)))
		dst = append(dst, data...)
	}
	return dst, entropyUsed, nil
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(buf []byte, elem *schema.FieldType, d *Dict) (jsonval.Array, int, error) {
	fields := elem.Fields
	rowCount, pos, err := vint.Uvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	if rowCount > flux.MaxArrayLength {
		return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "row count %d exceeds cap", rowCount)
	}
	colCount, n, err := vint.Uvarint(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	if colCount != uint64(len(fields)) {
		return nil, 0, flux.Errorf(flux.ErrDecode, "block has %d columns, schema has %d", colCount, len(fields))
	}
	rows := make([]jsonval.Object, rowCount)
	for i := range fields {
		f := &fields[i]
		present := make([]bool, rowCount)
		explicitNull := make([]bool, rowCount)
		if f.Nullable {
			var err error
			present, n, err = readBitmap(buf[pos:], int(rowCount))
			if err != nil {
				return nil, 0, err
			}
			pos += n
			explicitNull, n, err = readMissingInfo(buf[pos:], present)
			if err != nil {
				return nil, 0, err
			}
			pos += n
		} else {
			for r := range present {
				present[r] = true
			}
		}
		count := 0
		for _, p := range present {
			if p {
				count++
			}
		}
		if pos >= len(buf) {
			return nil, 0, shortColumn()
		}
		enc := buf[pos]
		pos++
		data, n, err := readColumnData(buf[pos:], enc)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		vals, err := decodeColumn(&f.Type, enc&^encEntropyBit, data, count, d)
		if err != nil {
			return nil, 0, err
		}
		vi := 0
		for r := 0; r < int(rowCount); r++ {
			if present[r] {
				rows[r] = append(rows[r], jsonval.Member{Key: f.Name, Value: vals[vi]})
				vi++
			} else if explicitNull[r] {
				rows[r] = append(rows[r], jsonval.Member{Key: f.Name, Value: jsonval.Null{}})
			}
		}
	}
	arr := make(jsonval.Array, rowCount)
	for r := range rows {
		if rows[r] == nil {
			rows[r] = jsonval.Object{}
		}
		arr[r] = rows[r]
	}
	return arr, pos, nil
}

func readColumnData(buf []byte, enc byte) ([]byte, int, error) {
	pos := 0
	origLen := -1
	if enc&encEntropyBit != 0 {
		u, n, err := vint.Uvarint(buf)
		if err != nil {
			return nil, 0, err
		}
		if u > uint64(flux.MaxFrameSize) {
			return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "column expands to %d bytes", u)
		}
		origLen = int(u)
		pos += n
	}
	dlen, n, err := vint.Uvarint(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	if dlen > uint64(flux.MaxFrameSize) {
		return nil, 0, flux.Errorf(flux.ErrBufferOverflow, "column of %d bytes", dlen)
	}
	if uint64(len(buf)-pos) < dlen {
		return nil, 0, shortColumn()
	}
	data := buf[pos : pos+int(dlen)]
	pos += int(dlen)
	if origLen >= 0 {
		data, err = fse.Decode(data, origLen)
		if err != nil {
			return nil, 0, err
		}
	}
	return data, pos, nil
}

// encodeColumn encodes the non-null values of one column and
// returns the chosen encoding id and the data bytes.
func encodeColumn(t *schema.FieldType, vals []jsonval.Value, d *Dict) (byte, []byte, error) {
	switch t.Tag {
	case schema.TagNull:
		return EncRaw, nil, nil
	case schema.TagBool:
		bs := make([]bool, len(vals))
		for i := range vals {
			bs[i] = bool(vals[i].(jsonval.Bool))
		}
		return EncBitmap, encodeBools(bs), nil
	case schema.TagInt:
		ints := make([]int64, len(vals))
		for i := range vals {
			ints[i] = int64(vals[i].(jsonval.Int))
		}
		enc := pickIntEncoding(ints)
		data, err := encodeInts(enc, ints)
		return enc, data, err
	case schema.TagFloat:
		pure := true
		for i := range vals {
			if vals[i].Kind() != jsonval.FloatKind {
				pure = false
				break
			}
		}
		if !pure {
			// integers widened into a float column keep
			// their kind through the per-value form
			var data []byte
			var err error
			data = append(data, 1)
			for i := range vals {
				data, err = encodeValue(data, t, vals[i], nil)
				if err != nil {
					return 0, nil, err
				}
			}
			return EncRaw, data, nil
		}
		fs := make([]float64, len(vals))
		for i := range vals {
			fs[i] = float64(vals[i].(jsonval.Float))
		}
		enc := pickFloatEncoding(fs)
		data, err := encodeFloats(enc, fs)
		return enc, append([]byte{0}, data...), err
	case schema.TagString, schema.TagBinary:
		ss := make([]string, len(vals))
		for i := range vals {
			ss[i] = string(vals[i].(jsonval.String))
		}
		enc := pickStringEncoding(ss)
		data, err := encodeStrings(enc, ss)
		if err == nil && enc == EncDict && d != nil {
			for _, s := range ss {
				d.admit(s)
			}
		}
		return enc, data, err
	case schema.TagTimestamp:
		return encodeTimestampColumn(vals, d)
	case schema.TagDate:
		return encodeDateColumn(vals, d)
	case schema.TagTime:
		return encodeTimeColumn(vals, d)
	case schema.TagUUID:
		return encodeUUIDColumn(vals, d)
	case schema.TagDecimal:
		return encodeDecimalColumn(vals, d)
	default:
		// nested and union columns carry self-describing
		// values; structure-aware codecs gain nothing here
		var data []byte
		for i := range vals {
			data = jsonval.AppendBinary(data, vals[i])
		}
		return EncRaw, data, nil
	}
}

func decodeColumn(t *schema.FieldType, enc byte, data []byte, count int, d *Dict) ([]jsonval.Value, error) {
	switch t.Tag {
	case schema.TagNull:
		if count != 0 {
			return nil, flux.Errorf(flux.ErrDecode, "%d non-null values in a null column", count)
		}
		return nil, nil
	case schema.TagBool:
		if enc != EncBitmap {
			return nil, flux.Errorf(flux.ErrUnsupportedEncoding, "bool encoding %#02x", enc)
		}
		bs, err := decodeBools(data, count)
		if err != nil {
			return nil, err
		}
		vals := make([]jsonval.Value, count)
		for i := range bs {
			vals[i] = jsonval.Bool(bs[i])
		}
		return vals, nil
	case schema.TagInt:
		ints, err := decodeInts(enc, data, count)
		if err != nil {
			return nil, err
		}
		vals := make([]jsonval.Value, count)
		for i := range ints {
			vals[i] = jsonval.Int(ints[i])
		}
		return vals, nil
	case schema.TagFloat:
		if len(data) < 1 {
			return nil, shortColumn()
		}
		if data[0] == 1 {
			vals := make([]jsonval.Value, 0, count)
			pos := 1
			for i := 0; i < count; i++ {
				v, n, err := decodeValue(data[pos:], t, nil, 0)
				if err != nil {
					return nil, err
				}
				pos += n
				vals = append(vals, v)
			}
			return vals, nil
		}
		fs, err := decodeFloats(enc, data[1:], count)
		if err != nil {
			return nil, err
		}
		vals := make([]jsonval.Value, count)
		for i := range fs {
			vals[i] = jsonval.Float(fs[i])
		}
		return vals, nil
	case schema.TagString, schema.TagBinary:
		ss, err := decodeStrings(enc, data, count, d)
		if err != nil {
			return nil, err
		}
		vals := make([]jsonval.Value, count)
		for i := range ss {
			vals[i] = jsonval.String(ss[i])
		}
		return vals, nil
	case schema.TagTimestamp:
		return decodeTimestampColumn(enc, data, count, d)
	case schema.TagDate:
		return decodeDateColumn(enc, data, count, d)
	case schema.TagTime:
		return decodeTimeColumn(enc, data, count, d)
	case schema.TagUUID:
		return decodeUUIDColumn(enc, data, count, d)
	case schema.TagDecimal:
		return decodeDecimalColumn(enc, data, count, d)
	default:
		vals := make([]jsonval.Value, 0, count)
		pos := 0
		for i := 0; i < count; i++ {
			v, n, err := jsonval.DecodeBinary(data[pos:], false)
			if err != nil {
				return nil, err
			}
			pos += n
			vals = append(vals, v)
		}
		return vals, nil
	}
}

func appendBitmap(dst []byte, bits []bool) []byte {
	base := len(dst)
	dst = append(dst, make([]byte, (len(bits)+7)/8)...)
	for i, b := range bits {
		if b {
			dst[base+i/8] |= 1 << (i % 8)
		}
	}
	return dst
}

func readBitmap(buf []byte, count int) ([]bool, int, error) {
	n := (count + 7) / 8
	if len(buf) < n {
		return nil, 0, shortColumn()
	}
	bits := make([]bool, count)
	for i := range bits {
		bits[i] = buf[i/8]&(1<<(i%8)) != 0
	}
	return bits, n, nil
}

func appendMissingInfo(dst []byte, present, explicitNull []bool) []byte {
	anyNull, anyAbsent := false, false
	for i := range present {
		if present[i] {
			continue
		}
		if explicitNull[i] {
			anyNull = true
		} else {
			anyAbsent = true
		}
	}
	switch {
	case anyNull && anyAbsent:
		dst = append(dst, missingMixed)
		return appendBitmap(dst, explicitNull)
	case anyNull:
		return append(dst, missingNull)
	default:
		return append(dst, missingAbsent)
	}
}

func readMissingInfo(buf []byte, present []bool) ([]bool, int, error) {
	if len(buf) < 1 {
		return nil, 0, shortColumn()
	}
	explicitNull := make([]bool, len(present))
	switch buf[0] {
	case missingAbsent:
		return explicitNull, 1, nil
	case missingNull:
		for i := range present {
			if !present[i] {
				explicitNull[i] = true
			}
		}
		return explicitNull, 1, nil
	case missingMixed:
		m, n, err := readBitmap(buf[1:], len(present))
		if err != nil {
			return nil, 0, err
		}
		for i := range m {
			if m[i] && !present[i] {
				explicitNull[i] = true
			}
		}
		return explicitNull, 1 + n, nil
	}
	return nil, 0, flux.Errorf(flux.ErrDecode, "bad missing-info marker %#02x", buf[0])
}
