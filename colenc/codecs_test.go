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
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestIntCodecs(t *testing.T) {
	cases := map[string][]int64{
		"empty":     {},
		"single":    {42},
		"ascending": {1000, 1001, 1002, 1005, 1008},
		"negative":  {100, 95, -90, 85, -80},
		"runs":      {7, 7, 7, 7, 3, 3, 9},
		"extremes":  {math.MinInt64, math.MaxInt64, 0, -1, 1},
	}
	for name, vals := range cases {
		for _, enc := range []byte{EncRaw, EncVarint, EncDelta, EncFOR, EncRLE} {
			data, err := encodeInts(enc, vals)
			if err != nil {
				continue // varint over negatives
			}
			got, err := decodeInts(enc, data, len(vals))
			if err != nil {
				t.Fatalf("%s/%#02x: decode: %s", name, enc, err)
			}
			if len(got) != len(vals) {
				t.Fatalf("%s/%#02x: %d values", name, enc, len(got))
			}
			for i := range vals {
				if got[i] != vals[i] {
					t.Fatalf("%s/%#02x: [%d] = %d, want %d", name, enc, i, got[i], vals[i])
				}
			}
		}
	}
}

func TestVarintEncodingRejectsNegatives(t *testing.T) {
	if _, err := encodeInts(EncVarint, []int64{-1}); err == nil {
		t.Fatal("varint encoding accepted a negative value")
	}
}

func TestFloatCodecs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	drift := make([]float64, 200)
	drift[0] = 101.25
	for i := 1; i < len(drift); i++ {
		drift[i] = drift[i-1] + float64(rng.Intn(3))*0.25
	}
	cases := map[string][]float64{
		"empty":   {},
		"single":  {3.5},
		"drift":   drift,
		"repeats": {1.5, 1.5, 1.5, 2.25, 2.25},
		"special": {0, math.Copysign(0, -1), math.MaxFloat64, math.SmallestNonzeroFloat64},
	}
	for name, vals := range cases {
		for _, enc := range []byte{EncRaw, EncXor, EncRLE} {
			data, err := encodeFloats(enc, vals)
			if err != nil {
				t.Fatalf("%s/%#02x: %s", name, enc, err)
			}
			got, err := decodeFloats(enc, data, len(vals))
			if err != nil {
				t.Fatalf("%s/%#02x: decode: %s", name, enc, err)
			}
			for i := range vals {
				if math.Float64bits(got[i]) != math.Float64bits(vals[i]) {
					t.Fatalf("%s/%#02x: [%d] = %v, want %v", name, enc, i, got[i], vals[i])
				}
			}
		}
	}
}

func TestXorCompact(t *testing.T) {
	// identical values cost one bit each after the first
	vals := make([]float64, 1000)
	for i := range vals {
		vals[i] = 12.75
	}
	data, err := encodeFloats(EncXor, vals)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > 8+1000/8+1 {
		t.Fatalf("xor of constant column is %d bytes", len(data))
	}
}

func TestBoolCodec(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 100} {
		vals := make([]bool, n)
		for i := range vals {
			vals[i] = i%3 == 0
		}
		got, err := decodeBools(encodeBools(vals), n)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, vals) {
			t.Fatalf("n=%d mismatch", n)
		}
	}
}

func TestStringCodecs(t *testing.T) {
	cases := map[string][]string{
		"empty":    {},
		"single":   {"hello"},
		"repeats":  {"a", "a", "b", "a", "b", "b"},
		"distinct": {"alpha", "beta", "gamma", "delta"},
		"blanks":   {"", "x", ""},
	}
	for name, vals := range cases {
		for _, enc := range []byte{EncRaw, EncDict, EncRLE} {
			data, err := encodeStrings(enc, vals)
			if err != nil {
				t.Fatalf("%s/%#02x: %s", name, enc, err)
			}
			got, err := decodeStrings(enc, data, len(vals), nil)
			if err != nil {
				t.Fatalf("%s/%#02x: decode: %s", name, enc, err)
			}
			if len(got) != len(vals) {
				t.Fatalf("%s/%#02x: %d values", name, enc, len(got))
			}
			for i := range vals {
				if got[i] != vals[i] {
					t.Fatalf("%s/%#02x: [%d] = %q", name, enc, i, got[i])
				}
			}
		}
	}
}

func TestSelectorDeterministic(t *testing.T) {
	vals := make([]int64, 500)
	rng := rand.New(rand.NewSource(8))
	for i := range vals {
		vals[i] = int64(rng.Intn(1000))
	}
	first := pickIntEncoding(vals)
	for i := 0; i < 10; i++ {
		if got := pickIntEncoding(vals); got != first {
			t.Fatalf("selector flapped: %#02x then %#02x", first, got)
		}
	}
}

func TestSelectorConstantStride(t *testing.T) {
	vals := make([]int64, 10)
	for i := range vals {
		vals[i] = int64(i)
	}
	if enc := pickIntEncoding(vals); enc != EncDelta {
		t.Fatalf("sequential ids picked %#02x, want delta", enc)
	}
}

func TestSelectorPrefersRawWhenClose(t *testing.T) {
	// values that need nearly 8 bytes as varints: no encoding
	// can beat raw by 5%
	vals := make([]int64, 100)
	rng := rand.New(rand.NewSource(9))
	for i := range vals {
		vals[i] = int64(rng.Uint64() >> 1)
	}
	if enc := pickIntEncoding(vals); enc != EncRaw {
		t.Fatalf("high-entropy ints picked %#02x, want raw", enc)
	}
}

func TestSelectorStringDict(t *testing.T) {
	vals := make([]string, 200)
	for i := range vals {
		vals[i] = []string{"active", "pending", "deleted"}[i%3]
	}
	if enc := pickStringEncoding(vals); enc != EncDict && enc != EncRLE {
		t.Fatalf("low-cardinality strings picked %#02x", enc)
	}
}
