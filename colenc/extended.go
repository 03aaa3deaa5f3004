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
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// The extended types (timestamp, date, time, uuid, decimal)
// carry a compact binary form only when it reproduces the
// original string byte-for-byte; everything else falls back
// to the plain string. The helpers here implement the
// exactness checks shared by the row codec and the columnar
// codec.

// decimalParts splits a -?\d+\.\d+ string into a scaled
// mantissa. ok is false when the binary form would not
// reproduce s exactly (leading zeros, overflow, > 18 digits).
func decimalParts(s string) (mantissa int64, scale uint8, ok bool) {
	neg := strings.HasPrefix(s, "-")
	rest := s
	if neg {
		rest = s[1:]
	}
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return 0, 0, false
	}
	intPart, frac := rest[:dot], rest[dot+1:]
	if len(intPart) > 1 && intPart[0] == '0' {
		return 0, 0, false // "007.5" does not reformat exactly
	}
	if len(intPart)+len(frac) > 18 || len(frac) > 255 {
		return 0, 0, false
	}
	m, err := strconv.ParseInt(intPart+frac, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if neg {
		if m == 0 {
			return 0, 0, false // "-0.0" has no integer form
		}
		m = -m
	}
	return m, uint8(len(frac)), true
}

// formatDecimal is the inverse of decimalParts.
func formatDecimal(mantissa int64, scale uint8) string {
	neg := mantissa < 0
	digits := strconv.FormatInt(mantissa, 10)
	if neg {
		digits = digits[1:]
	}
	for len(digits) <= int(scale) {
		digits = "0" + digits
	}
	cut := len(digits) - int(scale)
	out := digits[:cut] + "." + digits[cut:]
	if neg {
		out = "-" + out
	}
	return out
}

// uuidBytes returns the 16-byte form of s when s is exactly
// the canonical lowercase rendering.
func uuidBytes(s string) ([16]byte, bool) {
	u, err := uuid.Parse(s)
	if err != nil || u.String() != s {
		return [16]byte{}, false
	}
	return [16]byte(u), true
}

func formatUUID(b [16]byte) string {
	return uuid.UUID(b).String()
}
