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

package date

import "testing"

func TestTimestampRoundtrip(t *testing.T) {
	exact := []string{
		"2024-01-15T10:30:00Z",
		"2024-01-15T10:30:00.123Z",
		"1999-12-31T23:59:59Z",
		"2024-01-15T10:30:00",
		"2024-01-15T10:30:00.050",
	}
	for _, s := range exact {
		if !IsTimestamp(s) {
			t.Errorf("IsTimestamp(%q) = false", s)
		}
		ms, layout, ok := ParseTimestamp(s)
		if !ok {
			t.Errorf("ParseTimestamp(%q) failed", s)
			continue
		}
		got, ok := FormatTimestamp(ms, layout)
		if !ok || got != s {
			t.Errorf("FormatTimestamp(%d, %d) = %q, want %q", ms, layout, got, s)
		}
	}
	inexact := []string{
		"2024-01-15T10:30:00+02:00", // offsets not in the layout table
		"2024-01-15 10:30:00",
		"hello world",
		"2024-01-15",
	}
	for _, s := range inexact {
		if _, _, ok := ParseTimestamp(s); ok {
			t.Errorf("ParseTimestamp(%q) succeeded", s)
		}
	}
}

func TestDateRoundtrip(t *testing.T) {
	for _, s := range []string{"2024-01-15", "1970-01-01", "2000-02-29"} {
		if !IsDate(s) {
			t.Errorf("IsDate(%q) = false", s)
		}
		ms, ok := ParseDate(s)
		if !ok {
			t.Errorf("ParseDate(%q) failed", s)
			continue
		}
		if got := FormatDate(ms); got != s {
			t.Errorf("FormatDate(%d) = %q, want %q", ms, got, s)
		}
	}
	for _, s := range []string{"2024-13-01", "24-01-15", "2024/01/15", "2024-01-15T"} {
		if _, ok := ParseDate(s); ok {
			t.Errorf("ParseDate(%q) succeeded", s)
		}
	}
}

func TestTimeRoundtrip(t *testing.T) {
	for _, s := range []string{"00:00:00", "23:59:59", "10:30:00.123", "09:05:07"} {
		ms, withMillis, ok := ParseTime(s)
		if !ok {
			t.Errorf("ParseTime(%q) failed", s)
			continue
		}
		got, ok := FormatTime(ms, withMillis)
		if !ok || got != s {
			t.Errorf("FormatTime(%d, %v) = %q, want %q", ms, withMillis, got, s)
		}
	}
	for _, s := range []string{"24:00:00", "10:60:00", "1:02:03", "10:30", "10:30:00.12"} {
		if _, _, ok := ParseTime(s); ok {
			t.Errorf("ParseTime(%q) succeeded", s)
		}
	}
}
