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

package schema

import (
	"testing"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/jsonval"
)

func infer(t *testing.T, src string) *Schema {
	t.Helper()
	v, err := jsonval.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return Infer(v)
}

func TestInferSimple(t *testing.T) {
	s := infer(t, `{"id":1,"name":"alice","score":1.5,"ok":true,"note":null}`)
	want := []struct {
		name     string
		tag      Tag
		nullable bool
	}{
		{"id", TagInt, false},
		{"name", TagString, false},
		{"score", TagFloat, false},
		{"ok", TagBool, false},
		{"note", TagNull, true},
	}
	if len(s.Fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(s.Fields), len(want))
	}
	for i, w := range want {
		f := s.Fields[i]
		if f.Name != w.name || f.Type.Tag != w.tag || f.Nullable != w.nullable {
			t.Errorf("field %d = {%q %#02x %v}, want %+v", i, f.Name, uint8(f.Type.Tag), f.Nullable, w)
		}
	}
}

func TestInferExtended(t *testing.T) {
	s := infer(t, `{
		"uuid": "550e8400-e29b-41d4-a716-446655440000",
		"ts": "2024-01-15T10:30:00Z",
		"day": "2024-01-15",
		"clock": "10:30:00",
		"price": "19.99",
		"text": "not-a-uuid"
	}`)
	want := []Tag{TagUUID, TagTimestamp, TagDate, TagTime, TagDecimal, TagString}
	for i, tag := range want {
		if s.Fields[i].Type.Tag != tag {
			t.Errorf("field %q: tag %#02x, want %#02x", s.Fields[i].Name, uint8(s.Fields[i].Type.Tag), uint8(tag))
		}
	}
}

func TestInferStability(t *testing.T) {
	a := infer(t, `{"id":1,"name":"alice"}`)
	b := infer(t, `{"id":2,"name":"bob"}`)
	if a.Hash != b.Hash || !a.Equal(b) {
		t.Error("same shape, different schema")
	}
	c := infer(t, `{"name":"alice","id":1}`)
	if a.Hash == c.Hash {
		t.Error("field order should change the hash")
	}
}

func TestScalarRoot(t *testing.T) {
	s := infer(t, `42`)
	if len(s.Fields) != 1 || s.Fields[0].Name != "" || s.Fields[0].Type.Tag != TagInt {
		t.Fatalf("scalar root schema = %+v", s.Fields)
	}
}

func TestMergeNullable(t *testing.T) {
	// a field toggling between null and int promotes to
	// nullable int, not a union
	a := infer(t, `{"a":1}`)
	b := infer(t, `{"a":null}`)
	m := MergeSchemas(a, b)
	if m.Fields[0].Type.Tag != TagInt || !m.Fields[0].Nullable {
		t.Fatalf("merge(int, null) = %+v", m.Fields[0])
	}
	// the merge is symmetric
	m = MergeSchemas(b, a)
	if m.Fields[0].Type.Tag != TagInt || !m.Fields[0].Nullable {
		t.Fatalf("merge(null, int) = %+v", m.Fields[0])
	}
}

func TestMergeMissingField(t *testing.T) {
	a := infer(t, `{"id":1,"name":"alice"}`)
	b := infer(t, `{"id":2,"name":"bob","email":"bob@x.test"}`)
	m := MergeSchemas(a, b)
	if len(m.Fields) != 3 {
		t.Fatalf("got %d fields", len(m.Fields))
	}
	var email *FieldDef
	for i := range m.Fields {
		if m.Fields[i].Name == "email" {
			email = &m.Fields[i]
		}
	}
	if email == nil || !email.Nullable {
		t.Fatalf("email field = %+v", email)
	}
}

func TestMergeLattice(t *testing.T) {
	intT := Scalar(TagInt)
	floatT := Scalar(TagFloat)
	strT := Scalar(TagString)
	if got := Merge(intT, floatT); got.Tag != TagFloat {
		t.Errorf("int+float = %#02x", uint8(got.Tag))
	}
	if got := Merge(intT, strT); got.Tag != TagUnion || len(got.Members) != 2 {
		t.Errorf("int+string = %+v", got)
	}
	// union members stay sorted and deduplicated
	u := Merge(Merge(strT, intT), intT)
	if u.Tag != TagUnion || len(u.Members) != 2 || u.Members[0].Tag != TagInt {
		t.Errorf("union = %+v", u)
	}
	// empty-array Unknown merges away
	if got := Merge(ArrayOf(Scalar(TagUnknown)), ArrayOf(intT)); got.Elem.Tag != TagInt {
		t.Errorf("unknown-elem merge = %+v", got)
	}
	// null element forces a union at the element level
	if got := Merge(intT, Scalar(TagNull)); got.Tag != TagUnion {
		t.Errorf("int+null = %+v", got)
	}
}

func TestMarshalRoundtrip(t *testing.T) {
	srcs := []string{
		`{"id":1,"name":"alice"}`,
		`{"nested":{"a":[1,2],"b":{"c":null}},"list":[{"x":1},{"x":2}]}`,
		`{"mixed":[1,"two",3.5],"empty":[]}`,
		`[{"id":1},{"id":2}]`,
		`"2024-01-15T10:30:00Z"`,
	}
	for _, src := range srcs {
		s := infer(t, src)
		buf := s.Marshal(nil)
		got, n, err := Unmarshal(buf)
		if err != nil {
			t.Fatalf("Unmarshal(%s): %s", src, err)
		}
		if n != len(buf) {
			t.Errorf("consumed %d of %d bytes", n, len(buf))
		}
		if !s.Equal(got) || s.Hash != got.Hash {
			t.Errorf("roundtrip(%s): hash %#x vs %#x", src, s.Hash, got.Hash)
		}
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	s := infer(t, `{"id":1,"name":"alice","tags":["x"]}`)
	buf := s.Marshal(nil)
	for i := 0; i < len(buf); i++ {
		if _, _, err := Unmarshal(buf[:i]); err == nil {
			t.Fatalf("Unmarshal of %d-byte prefix succeeded", i)
		}
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	a := infer(t, `{"id":1}`)
	id, fresh, err := c.Register(a)
	if err != nil || id != 1 || !fresh {
		t.Fatalf("first register: id=%d fresh=%v err=%v", id, fresh, err)
	}
	id2, fresh, err := c.Register(infer(t, `{"id":99}`))
	if err != nil || id2 != 1 || fresh {
		t.Fatalf("re-register: id=%d fresh=%v err=%v", id2, fresh, err)
	}
	got, err := c.Lookup(1)
	if err != nil || !got.Equal(a) {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := c.Lookup(2); flux.CodeOf(err) != flux.ErrSchemaNotFound {
		t.Fatalf("missing id: %v", err)
	}
	b := infer(t, `{"other":true}`)
	id3, fresh, _ := c.Register(b)
	if id3 != 2 || !fresh {
		t.Fatalf("second schema: id=%d fresh=%v", id3, fresh)
	}
}

func TestCacheEviction(t *testing.T) {
	c := NewCache()
	c.cap = 2
	s1 := infer(t, `{"a":1}`)
	s2 := infer(t, `{"b":1}`)
	s3 := infer(t, `{"c":1}`)
	c.Register(s1)
	c.Register(s2)
	c.Register(s1) // refresh s1; s2 is now LRU
	c.Register(s3) // evicts s2
	if _, err := c.Lookup(2); flux.CodeOf(err) != flux.ErrSchemaNotFound {
		t.Fatalf("s2 should be evicted, got %v", err)
	}
	if _, err := c.Lookup(1); err != nil {
		t.Fatalf("s1 evicted: %v", err)
	}
	// ids keep increasing after eviction
	id, _, _ := c.Register(infer(t, `{"d":1}`))
	if id != 4 {
		t.Fatalf("id after eviction = %d, want 4", id)
	}
}
