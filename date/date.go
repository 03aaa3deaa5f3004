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

// Package date recognizes the ISO-8601 shapes that the schema
// inferrer tags as Timestamp, Date, and Time, and converts
// them to and from millisecond values.
//
// Detection is deliberately conservative: a string is only
// treated as a temporal value when one of the fixed layouts
// reproduces it byte-for-byte, so reconstruction is always
// exact. Anything else stays a plain string.
package date

import (
	"time"
)

// Layout codes stored on the wire next to millisecond values.
// Pinned to the protocol major version; append-only.
const (
	LayoutSecondZ = iota // 2006-01-02T15:04:05Z
	LayoutMilliZ         // 2006-01-02T15:04:05.000Z
	LayoutSecond         // 2006-01-02T15:04:05
	LayoutMilli          // 2006-01-02T15:04:05.000
	numLayouts
)

var layouts = [numLayouts]string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// IsTimestamp reports whether s looks like an ISO-8601
// timestamp with both date and time components. It is the
// cheap schema-time check; ParseTimestamp decides whether the
// binary form may be used.
func IsTimestamp(s string) bool {
	if len(s) < 19 || len(s) > 30 {
		return false
	}
	return s[4] == '-' && s[7] == '-' && s[10] == 'T' && s[13] == ':' && s[16] == ':' &&
		digit(s[0]) && digit(s[1]) && digit(s[2]) && digit(s[3])
}

// ParseTimestamp converts s to epoch milliseconds plus the
// layout code that reproduces it exactly. ok is false when no
// layout round-trips.
func ParseTimestamp(s string) (ms int64, layout byte, ok bool) {
	for code, l := range layouts {
		t, err := time.Parse(l, s)
		if err != nil {
			continue
		}
		t = t.UTC()
		if t.Format(l) == s {
			return t.UnixMilli(), byte(code), true
		}
	}
	return 0, 0, false
}

// FormatTimestamp is the inverse of ParseTimestamp.
func FormatTimestamp(ms int64, layout byte) (string, bool) {
	if int(layout) >= numLayouts {
		return "", false
	}
	return time.UnixMilli(ms).UTC().Format(layouts[layout]), true
}

// IsDate reports whether s has the 2006-01-02 shape.
func IsDate(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	for i, c := range []byte(s) {
		if i == 4 || i == 7 {
			continue
		}
		if !digit(c) {
			return false
		}
	}
	return true
}

// ParseDate converts a 2006-01-02 string to epoch
// milliseconds at midnight UTC.
func ParseDate(s string) (int64, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil || t.UTC().Format("2006-01-02") != s {
		return 0, false
	}
	return t.UTC().UnixMilli(), true
}

// FormatDate is the inverse of ParseDate.
func FormatDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}

// IsTime reports whether s has the 15:04:05 shape with an
// optional millisecond suffix.
func IsTime(s string) bool {
	if len(s) != 8 && len(s) != 12 {
		return false
	}
	if s[2] != ':' || s[5] != ':' {
		return false
	}
	if len(s) == 12 && s[8] != '.' {
		return false
	}
	for i, c := range []byte(s) {
		if i == 2 || i == 5 || i == 8 {
			continue
		}
		if !digit(c) {
			return false
		}
	}
	return true
}

// ParseTime converts a time-of-day string to milliseconds
// since midnight; withMillis reports which layout it used.
func ParseTime(s string) (ms int64, withMillis bool, ok bool) {
	if !IsTime(s) {
		return 0, false, false
	}
	h := int64(s[0]-'0')*10 + int64(s[1]-'0')
	m := int64(s[3]-'0')*10 + int64(s[4]-'0')
	sec := int64(s[6]-'0')*10 + int64(s[7]-'0')
	if h > 23 || m > 59 || sec > 59 {
		return 0, false, false
	}
	ms = ((h*60+m)*60 + sec) * 1000
	if len(s) == 12 {
		frac := int64(s[9]-'0')*100 + int64(s[10]-'0')*10 + int64(s[11]-'0')
		return ms + frac, true, true
	}
	return ms, false, true
}

// FormatTime is the inverse of ParseTime.
func FormatTime(ms int64, withMillis bool) (string, bool) {
	if ms < 0 || ms >= 24*60*60*1000 {
		return "", false
	}
	frac := ms % 1000
	sec := ms / 1000
	if !withMillis && frac != 0 {
		return "", false
	}
	buf := make([]byte, 0, 12)
	put2 := func(v int64) {
		buf = append(buf, byte('0'+v/10), byte('0'+v%10))
	}
	put2(sec / 3600)
	buf = append(buf, ':')
	put2(sec / 60 % 60)
	buf = append(buf, ':')
	put2(sec % 60)
	if withMillis {
		buf = append(buf, '.', byte('0'+frac/100), byte('0'+frac/10%10), byte('0'+frac%10))
	}
	return string(buf), true
}

func digit(c byte) bool { return c >= '0' && c <= '9' }
