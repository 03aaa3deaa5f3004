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

package compr

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundtripLevels(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("x"),
		[]byte(strings.Repeat("the quick brown fox ", 500)),
		bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 1024),
	}
	for level := 0; level <= 2; level++ {
		for _, in := range inputs {
			blob, err := Encode(in, level)
			if err != nil {
				t.Fatalf("level %d: %s", level, err)
			}
			got, err := Decode(blob)
			if err != nil {
				t.Fatalf("level %d decode: %s", level, err)
			}
			if !bytes.Equal(got, in) {
				t.Fatalf("level %d: roundtrip mismatch (%d in, %d out)", level, len(in), len(got))
			}
		}
	}
}

func TestCompresses(t *testing.T) {
	in := []byte(strings.Repeat(`{"id":1,"name":"alice"}`, 1000))
	for _, level := range []int{1, 2} {
		blob, err := Encode(in, level)
		if err != nil {
			t.Fatal(err)
		}
		if len(blob) >= len(in) {
			t.Errorf("level %d did not compress: %d -> %d", level, len(in), len(blob))
		}
	}
}

func TestBadLevel(t *testing.T) {
	if _, err := Encode([]byte("x"), 3); err == nil {
		t.Error("level 3 accepted")
	}
	if _, err := Encode([]byte("x"), -1); err == nil {
		t.Error("level -1 accepted")
	}
}

func TestDecodeRejects(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("empty blob accepted")
	}
	if _, err := Decode([]byte{0x7f, 1, 2}); err == nil {
		t.Error("unknown codec byte accepted")
	}
	if _, err := Decode([]byte{codecZstd, 0xff, 0xff}); err == nil {
		t.Error("corrupt zstd accepted")
	}
}
