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

package stream

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/frame"
	"github.com/fluxproto/flux/jsonval"
)

func canonical(t *testing.T, src string) []byte {
	t.Helper()
	v, err := jsonval.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return jsonval.Encode(nil, v)
}

func step(t *testing.T, tx, rx *Stream, src string) []byte {
	t.Helper()
	f, err := tx.Update([]byte(src))
	if err != nil {
		t.Fatalf("update(%s): %s", src, err)
	}
	got, err := rx.Receive(f)
	if err != nil {
		t.Fatalf("receive(%s): %s", src, err)
	}
	if want := canonical(t, src); !bytes.Equal(got, want) {
		t.Fatalf("state after %s:\nwant %s\n got %s", src, want, got)
	}
	return f
}

func msgType(t *testing.T, f []byte) byte {
	t.Helper()
	h, payload, _, err := frame.Parse(f)
	if err != nil {
		t.Fatal(err)
	}
	if h.Flags&flux.FlagDeltaMessage == 0 || h.Flags&flux.FlagStreaming == 0 {
		t.Fatalf("flags = %#02x", h.Flags)
	}
	return payload[0]
}

func TestDeltaScenario(t *testing.T) {
	// spec scenario 4
	tx, rx := New(), New()
	f1 := step(t, tx, rx, `{"count":0,"users":[]}`)
	if msgType(t, f1) != MsgFullSync {
		t.Fatal("first update is not a full sync")
	}
	f2 := step(t, tx, rx, `{"count":1,"users":["alice"]}`)
	if msgType(t, f2) != MsgDelta {
		t.Fatal("second update is not a delta")
	}
	// sender and receiver agree on the state hash
	want := jsonval.Hash64(mustParse(t, `{"count":1,"users":["alice"]}`))
	if tx.PrevHash() != want || rx.PrevHash() != want {
		t.Fatalf("hashes: tx=%#x rx=%#x want=%#x", tx.PrevHash(), rx.PrevHash(), want)
	}
}

func mustParse(t *testing.T, src string) jsonval.Value {
	t.Helper()
	v, err := jsonval.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestDiffOps(t *testing.T) {
	prev := mustParse(t, `{"count":0,"users":[]}`)
	next := mustParse(t, `{"count":1,"users":["alice"]}`)
	ops := Diff(prev, next)
	if len(ops) != 2 {
		t.Fatalf("got %d ops: %+v", len(ops), ops)
	}
	if ops[0].Code != OpSet || !ops[0].Path[0].IsKey || ops[0].Path[0].Key != "count" {
		t.Errorf("op 0 = %+v", ops[0])
	}
	if ops[1].Code != OpAppend || ops[1].Path[0].Key != "users" {
		t.Errorf("op 1 = %+v", ops[1])
	}
}

func TestDiffPositional(t *testing.T) {
	prev := mustParse(t, `[1,2,3,4,5]`)
	next := mustParse(t, `[1,2,99,4]`)
	ops := Diff(prev, next)
	applied, err := Apply(prev, ops)
	if err != nil {
		t.Fatal(err)
	}
	if !jsonval.Equal(applied, next) {
		t.Fatalf("applied = %s", jsonval.Encode(nil, applied))
	}
}

func TestOpsCodecRoundtrip(t *testing.T) {
	ops := []Op{
		{Code: OpSet, Path: []Seg{KeySeg("a"), IndexSeg(3), KeySeg("b")}, Value: mustParse(t, `{"x":[1,2]}`)},
		{Code: OpDelete, Path: []Seg{KeySeg("gone")}},
		{Code: OpAppend, Path: []Seg{KeySeg("xs")}, Value: jsonval.String("tail")},
		{Code: OpInsert, Path: []Seg{KeySeg("xs")}, A: 2, Value: jsonval.Int(7)},
		{Code: OpRemove, Path: []Seg{KeySeg("xs")}, A: 0},
		{Code: OpMove, Path: []Seg{KeySeg("xs")}, A: 1, B: 0},
		{Code: OpIncrement, Path: []Seg{KeySeg("n")}, A: 5},
		{Code: OpDecrement, Path: []Seg{KeySeg("n")}, A: -3},
	}
	buf := AppendOps(nil, ops)
	got, n, err := ParseOps(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d of %d", n, len(buf))
	}
	if len(got) != len(ops) {
		t.Fatalf("%d ops", len(got))
	}
	for i := range ops {
		if got[i].Code != ops[i].Code || got[i].A != ops[i].A || got[i].B != ops[i].B {
			t.Errorf("op %d = %+v, want %+v", i, got[i], ops[i])
		}
		if ops[i].Value != nil && !jsonval.Equal(got[i].Value, ops[i].Value) {
			t.Errorf("op %d value mismatch", i)
		}
	}
}

func TestApplyForwardCompatOps(t *testing.T) {
	// MOVE and INCREMENT are never emitted by the diff but
	// must apply
	base := mustParse(t, `{"n":10,"xs":["a","b","c"]}`)
	ops := []Op{
		{Code: OpIncrement, Path: []Seg{KeySeg("n")}, A: 5},
		{Code: OpMove, Path: []Seg{KeySeg("xs")}, A: 2, B: 0},
		{Code: OpInsert, Path: []Seg{KeySeg("xs")}, A: 1, Value: jsonval.String("z")},
		{Code: OpDecrement, Path: []Seg{KeySeg("n")}, A: 1},
	}
	got, err := Apply(base, ops)
	if err != nil {
		t.Fatal(err)
	}
	want := canonical(t, `{"n":14,"xs":["c","z","a","b"]}`)
	if !bytes.Equal(jsonval.Encode(nil, got), want) {
		t.Fatalf("applied = %s, want %s", jsonval.Encode(nil, got), want)
	}
	// base untouched
	if string(jsonval.Encode(nil, base)) != `{"n":10,"xs":["a","b","c"]}` {
		t.Fatal("Apply mutated its input")
	}
}

func TestDesyncScenario(t *testing.T) {
	// spec scenario 5: an independent receiver applying only
	// the second frame desyncs and keeps its state
	tx := New()
	if _, err := tx.Update([]byte(`{"count":0,"users":[]}`)); err != nil {
		t.Fatal(err)
	}
	delta, err := tx.Update([]byte(`{"count":1,"users":["alice"]}`))
	if err != nil {
		t.Fatal(err)
	}
	cold := New()
	_, err = cold.Receive(delta)
	if flux.CodeOf(err) != flux.ErrStateDesync {
		t.Fatalf("got %v, want STATE_DESYNC", err)
	}
	if cold.PrevHash() != 0 {
		t.Error("desync mutated receiver state")
	}
	// recovery: a fresh full sync lands
	full, err := tx.Update([]byte(`{"count":2,"users":["alice","bob"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if msgType(t, full) == MsgDelta {
		// the sender still believes in deltas; force resync
		// the way a protocol layer would
		tx.Reset()
		full, err = tx.Update([]byte(`{"count":2,"users":["alice","bob"]}`))
		if err != nil {
			t.Fatal(err)
		}
	}
	out, err := cold.Receive(full)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, canonical(t, `{"count":2,"users":["alice","bob"]}`)) {
		t.Fatalf("recovered state = %s", out)
	}
}

func TestLongStateSequence(t *testing.T) {
	tx, rx := New(), New()
	state := `{"tick":0,"users":[],"flags":{"on":true}}`
	step(t, tx, rx, state)
	for i := 1; i <= 30; i++ {
		users := ""
		for j := 0; j <= i%5; j++ {
			if j > 0 {
				users += ","
			}
			users += fmt.Sprintf(`"u%d"`, j)
		}
		state = fmt.Sprintf(`{"tick":%d,"users":[%s],"flags":{"on":%v}}`, i, users, i%2 == 0)
		step(t, tx, rx, state)
	}
	st := tx.Stats()
	if st.UpdatesSent != 31 {
		t.Fatalf("updates = %d", st.UpdatesSent)
	}
	if st.DeltaSends == 0 {
		t.Fatal("no deltas in a drifting sequence")
	}
	if st.FullSends+st.DeltaSends != st.UpdatesSent {
		t.Fatalf("stats inconsistent: %+v", st)
	}
	if st.DeltaEfficiency <= 0 || st.DeltaEfficiency > 1 {
		t.Fatalf("efficiency = %f", st.DeltaEfficiency)
	}
}

func TestDeltaSmallerThanFull(t *testing.T) {
	big := `{"users":[{"id":1,"name":"alice","email":"alice@example.com"},` +
		`{"id":2,"name":"bob","email":"bob@example.com"},` +
		`{"id":3,"name":"carol","email":"carol@example.com"}],"total":3,"page":1}`
	bigPage2 := big[:len(big)-2] + `2}`
	tx, rx := New(), New()
	full := step(t, tx, rx, big)
	delta := step(t, tx, rx, bigPage2)
	if msgType(t, delta) != MsgDelta {
		t.Fatal("one-field change did not produce a delta")
	}
	if len(delta) >= len(full)/2 {
		t.Errorf("delta %d bytes vs full %d bytes", len(delta), len(full))
	}
}

func TestKeyReorderFallsBackToFull(t *testing.T) {
	// positional diff cannot express a key reorder; the
	// sender must detect this and send a snapshot
	tx, rx := New(), New()
	step(t, tx, rx, `{"a":1,"b":2}`)
	f := step(t, tx, rx, `{"b":2,"a":1}`)
	if msgType(t, f) != MsgFullSync {
		t.Fatal("key reorder sent as delta")
	}
}

func TestResetFrame(t *testing.T) {
	tx, rx := New(), New()
	step(t, tx, rx, `{"x":1}`)
	rf, err := tx.ResetFrame()
	if err != nil {
		t.Fatal(err)
	}
	if msgType(t, rf) != MsgReset {
		t.Fatal("not a reset frame")
	}
	out, err := rx.Receive(rf)
	if err != nil || out != nil {
		t.Fatalf("reset returned (%v, %v)", out, err)
	}
	if rx.PrevHash() != 0 || tx.PrevHash() != 0 {
		t.Error("reset left state behind")
	}
	// next update is a full sync again
	f := step(t, tx, rx, `{"x":2}`)
	if msgType(t, f) != MsgFullSync {
		t.Fatal("post-reset update is not a full sync")
	}
}

func TestTamperedDeltaRejected(t *testing.T) {
	tx, rx := New(), New()
	step(t, tx, rx, `{"n":1}`)
	f, err := tx.Update([]byte(`{"n":2}`))
	if err != nil {
		t.Fatal(err)
	}
	f[frame.HeaderLen] ^= 0x40
	if _, err := rx.Receive(f); err == nil {
		t.Fatal("tampered frame accepted")
	}
	if rx.PrevHash() != jsonval.Hash64(mustParse(t, `{"n":1}`)) {
		t.Error("failed receive mutated state")
	}
}

func TestDestroy(t *testing.T) {
	s := New()
	s.Destroy()
	if _, err := s.Update([]byte(`{}`)); err == nil {
		t.Error("update after destroy")
	}
	if _, err := s.Receive(nil); err == nil {
		t.Error("receive after destroy")
	}
}
