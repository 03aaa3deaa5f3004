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
	"github.com/fluxproto/flux/date"
	"github.com/fluxproto/flux/jsonval"
	"github.com/fluxproto/flux/vint"
)

// Extended-type columns carry a one-byte subheader ahead of
// the encoded data. Timestamp, date and time columns whose
// values all convert to the binary form exactly (and
// uniformly, where the form has a parameter) compress as
// integers. UUID columns store each value as 16 raw bytes.
// Decimal columns store one shared scale byte followed by
// zigzag-varint mantissas, or, when scales differ, a
// per-value scale and mantissa under the extPerValue
// subheader. A column with any value that does not convert
// degrades to a plain string column under the
// extStringFallback subheader.

func columnStrings(vals []jsonval.Value) []string {
	ss := make([]string, len(vals))
	for i := range vals {
		ss[i] = string(vals[i].(jsonval.String))
	}
	return ss
}

func stringFallbackColumn(vals []jsonval.Value, d *Dict) (byte, []byte, error) {
	ss := columnStrings(vals)
	enc := pickStringEncoding(ss)
	data, err := encodeStrings(enc, ss)
	if err != nil {
		return 0, nil, err
	}
	if enc == EncDict && d != nil {
		for _, s := range ss {
			d.admit(s)
		}
	}
	return enc, append([]byte{extStringFallback}, data...), nil
}

func stringFallbackDecode(enc byte, data []byte, count int, d *Dict) ([]jsonval.Value, error) {
	ss, err := decodeStrings(enc, data, count, d)
	if err != nil {
		return nil, err
	}
	vals := make([]jsonval.Value, count)
	for i := range ss {
		vals[i] = jsonval.String(ss[i])
	}
	return vals, nil
}

func intColumn(sub byte, ints []int64) (byte, []byte, error) {
	enc := pickIntEncoding(ints)
	data, err := encodeInts(enc, ints)
	if err != nil {
		return 0, nil, err
	}
	return enc, append([]byte{sub}, data...), nil
}

func encodeTimestampColumn(vals []jsonval.Value, d *Dict) (byte, []byte, error) {
	ints := make([]int64, len(vals))
	layout := byte(0)
	exact := true
	for i := range vals {
		ms, l, ok := date.ParseTimestamp(string(vals[i].(jsonval.String)))
		if !ok || (i > 0 && l != layout) {
			exact = false
			break
		}
		layout = l
		ints[i] = ms
	}
	if !exact || len(vals) == 0 {
		return stringFallbackColumn(vals, d)
	}
	return intColumn(layout, ints)
}

func decodeTimestampColumn(enc byte, data []byte, count int, d *Dict) ([]jsonval.Value, error) {
	if len(data) < 1 {
		return nil, shortColumn()
	}
	if data[0] == extStringFallback {
		return stringFallbackDecode(enc, data[1:], count, d)
	}
	ints, err := decodeInts(enc, data[1:], count)
	if err != nil {
		return nil, err
	}
	vals := make([]jsonval.Value, count)
	for i := range ints {
		s, ok := date.FormatTimestamp(ints[i], data[0])
		if !ok {
			return nil, flux.Errorf(flux.ErrDecode, "bad timestamp layout %d", data[0])
		}
		vals[i] = jsonval.String(s)
	}
	return vals, nil
}

func encodeDateColumn(vals []jsonval.Value, d *Dict) (byte, []byte, error) {
	ints := make([]int64, len(vals))
	exact := len(vals) > 0
	for i := range vals {
		ms, ok := date.ParseDate(string(vals[i].(jsonval.String)))
		if !ok {
			exact = false
			break
		}
		ints[i] = ms
	}
	if !exact {
		return stringFallbackColumn(vals, d)
	}
	return intColumn(1, ints)
}

func decodeDateColumn(enc byte, data []byte, count int, d *Dict) ([]jsonval.Value, error) {
	if len(data) < 1 {
		return nil, shortColumn()
	}
	if data[0] == extStringFallback {
		return stringFallbackDecode(enc, data[1:], count, d)
	}
	ints, err := decodeInts(enc, data[1:], count)
	if err != nil {
		return nil, err
	}
	vals := make([]jsonval.Value, count)
	for i := range ints {
		vals[i] = jsonval.String(date.FormatDate(ints[i]))
	}
	return vals, nil
}

func encodeTimeColumn(vals []jsonval.Value, d *Dict) (byte, []byte, error) {
	ints := make([]int64, len(vals))
	withMillis := false
	exact := len(vals) > 0
	for i := range vals {
		ms, wm, ok := date.ParseTime(string(vals[i].(jsonval.String)))
		if !ok || (i > 0 && wm != withMillis) {
			exact = false
			break
		}
		withMillis = wm
		ints[i] = ms
	}
	if !exact {
		return stringFallbackColumn(vals, d)
	}
	sub := byte(0)
	if withMillis {
		sub = 1
	}
	return intColumn(sub, ints)
}

func decodeTimeColumn(enc byte, data []byte, count int, d *Dict) ([]jsonval.Value, error) {
	if len(data) < 1 {
		return nil, shortColumn()
	}
	if data[0] == extStringFallback {
		return stringFallbackDecode(enc, data[1:], count, d)
	}
	ints, err := decodeInts(enc, data[1:], count)
	if err != nil {
		return nil, err
	}
	vals := make([]jsonval.Value, count)
	for i := range ints {
		s, ok := date.FormatTime(ints[i], data[0] == 1)
		if !ok {
			return nil, flux.Errorf(flux.ErrDecode, "bad time value %d", ints[i])
		}
		vals[i] = jsonval.String(s)
	}
	return vals, nil
}

func encodeUUIDColumn(vals []jsonval.Value, d *Dict) (byte, []byte, error) {
	data := []byte{1}
	for i := range vals {
		b, ok := uuidBytes(string(vals[i].(jsonval.String)))
		if !ok {
			return stringFallbackColumn(vals, d)
		}
		data = append(data, b[:]...)
	}
	return EncRaw, data, nil
}

func decodeUUIDColumn(enc byte, data []byte, count int, d *Dict) ([]jsonval.Value, error) {
	if len(data) < 1 {
		return nil, shortColumn()
	}
	if data[0] == extStringFallback {
		return stringFallbackDecode(enc, data[1:], count, d)
	}
	if len(data)-1 < 16*count {
		return nil, shortColumn()
	}
	vals := make([]jsonval.Value, count)
	for i := 0; i < count; i++ {
		var b [16]byte
		copy(b[:], data[1+16*i:])
		vals[i] = jsonval.String(formatUUID(b))
	}
	return vals, nil
}

func encodeDecimalColumn(vals []jsonval.Value, d *Dict) (byte, []byte, error) {
	mantissas := make([]int64, len(vals))
	scales := make([]uint8, len(vals))
	uniform := true
	for i := range vals {
		m, scale, ok := decimalParts(string(vals[i].(jsonval.String)))
		if !ok {
			return stringFallbackColumn(vals, d)
		}
		mantissas[i] = m
		scales[i] = scale
		if i > 0 && scale != scales[0] {
			uniform = false
		}
	}
	if len(vals) == 0 {
		return stringFallbackColumn(vals, d)
	}
	if uniform {
		data := []byte{scales[0]}
		for _, m := range mantissas {
			data = vint.AppendZigzag(data, m)
		}
		return EncRaw, data, nil
	}
	data := []byte{extPerValue}
	for i := range mantissas {
		data = append(data, scales[i])
		data = vint.AppendZigzag(data, mantissas[i])
	}
	return EncRaw, data, nil
}

func decodeDecimalColumn(enc byte, data []byte, count int, d *Dict) ([]jsonval.Value, error) {
	if len(data) < 1 {
		return nil, shortColumn()
	}
	switch data[0] {
	case extStringFallback:
		return stringFallbackDecode(enc, data[1:], count, d)
	case extPerValue:
		vals := make([]jsonval.Value, 0, count)
		pos := 1
		for i := 0; i < count; i++ {
			if pos >= len(data) {
				return nil, shortColumn()
			}
			scale := data[pos]
			pos++
			m, n, err := vint.Zigzag(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			vals = append(vals, jsonval.String(formatDecimal(m, scale)))
		}
		return vals, nil
	default:
		scale := data[0]
		vals := make([]jsonval.Value, 0, count)
		pos := 1
		for i := 0; i < count; i++ {
			m, n, err := vint.Zigzag(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			vals = append(vals, jsonval.String(formatDecimal(m, scale)))
		}
		return vals, nil
	}
}
