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

package fse

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func roundtrip(t *testing.T, in []byte) bool {
	t.Helper()
	blob, ok := Encode(in)
	if !ok {
		return false
	}
	got, err := Decode(blob, len(in))
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if !bytes.Equal(got, in) {
		t.Fatalf("roundtrip mismatch: %d in, %d out", len(in), len(got))
	}
	return true
}

func TestRoundtripText(t *testing.T) {
	in := []byte(strings.Repeat(`{"id":17,"name":"alice","status":"active"}`, 50))
	if !roundtrip(t, in) {
		t.Fatal("json-like input declined")
	}
	blob, _ := Encode(in)
	if len(blob) >= len(in) {
		t.Errorf("no compression: %d -> %d", len(in), len(blob))
	}
}

func TestRoundtripSkewed(t *testing.T) {
	// two-symbol distribution compresses far below 8 bits/byte
	rng := rand.New(rand.NewSource(3))
	in := make([]byte, 10000)
	for i := range in {
		if rng.Intn(4) == 0 {
			in[i] = 'b'
		} else {
			in[i] = 'a'
		}
	}
	if !roundtrip(t, in) {
		t.Fatal("skewed input declined")
	}
}

func TestRoundtripTwoStreams(t *testing.T) {
	// above 4096 bytes the encoder interleaves two states
	rng := rand.New(rand.NewSource(4))
	in := make([]byte, 9001)
	for i := range in {
		in[i] = byte(rng.Intn(16)) // 4-bit entropy
	}
	blob, ok := Encode(in)
	if !ok {
		t.Fatal("16-symbol input declined")
	}
	if blob[0] != modeTANS || blob[1] != 2 {
		t.Fatalf("mode/streams = %d/%d", blob[0], blob[1])
	}
	got, err := Decode(blob, len(in))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, in) {
		t.Fatal("two-stream roundtrip mismatch")
	}
}

func TestDominantShortcut(t *testing.T) {
	in := bytes.Repeat([]byte{0}, 5000)
	for i := 0; i < 50; i++ {
		in[i*100+7] = byte(i)
	}
	blob, ok := Encode(in)
	if !ok {
		t.Fatal("dominant input declined")
	}
	if blob[0] != modeDominant {
		t.Fatalf("mode = %d, want dominant", blob[0])
	}
	got, err := Decode(blob, len(in))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, in) {
		t.Fatal("dominant roundtrip mismatch")
	}
}

func TestPolicyDeclines(t *testing.T) {
	if _, ok := Encode([]byte("short")); ok {
		t.Error("sub-minimum input accepted")
	}
	// high-entropy random bytes gain nothing
	rng := rand.New(rand.NewSource(5))
	in := make([]byte, 8192)
	rng.Read(in)
	if _, ok := Encode(in); ok {
		t.Error("uniform random input accepted")
	}
}

func TestRoundtripAllLengths(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	for _, n := range []int{256, 257, 1000, 4095, 4096, 4097} {
		in := make([]byte, n)
		for i := range in {
			in[i] = "abcd"[rng.Intn(4)]
		}
		if !roundtrip(t, in) {
			t.Errorf("length %d declined", n)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(nil, 10); err == nil {
		t.Error("empty blob accepted")
	}
	if _, err := Decode([]byte{99}, 10); err == nil {
		t.Error("unknown mode accepted")
	}
	if _, err := Decode([]byte{modeTANS, 7}, 10); err == nil {
		t.Error("bad stream count accepted")
	}
}

func TestEstimateEntropy(t *testing.T) {
	if e := EstimateEntropy(bytes.Repeat([]byte{'x'}, 1000)); e > 0.1 {
		t.Errorf("constant input entropy = %f", e)
	}
	in := make([]byte, 25600)
	for i := range in {
		in[i] = byte(i)
	}
	if e := EstimateEntropy(in); e < 7.9 || e > 8.1 {
		t.Errorf("uniform input entropy = %f", e)
	}
}
