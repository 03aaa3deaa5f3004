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
)

// maxDictEntryLen bounds the strings admitted to the shared
// dictionary; longer values rarely repeat and would crowd out
// useful entries.
const maxDictEntryLen = 64

// Dict is the session-scoped shared string dictionary. Both
// peers grow it symmetrically: the encoder admits a literal
// while encoding, the decoder admits the same literal while
// decoding, so ids always agree. Entries are never evicted
// (earlier messages may still reference them in flight);
// growth simply stops at the cap.
type Dict struct {
	entries []string
	index   map[string]uint32
	limit   int
	dirty   bool
}

// NewDict returns a dictionary preloaded with the protocol's
// static seed table.
func NewDict(limit int) *Dict {
	if limit <= 0 || limit > flux.MaxDictSize {
		limit = flux.MaxDictSize
	}
	d := &Dict{
		index: make(map[string]uint32, len(flux.SeedDict)),
		limit: limit,
	}
	for _, s := range flux.SeedDict {
		d.admit(s)
	}
	d.dirty = false
	return d
}

// Lookup returns the id of s if it is interned.
func (d *Dict) Lookup(s string) (uint32, bool) {
	id, ok := d.index[s]
	return id, ok
}

// At returns the string interned under id.
func (d *Dict) At(id uint32) (string, bool) {
	if int(id) >= len(d.entries) {
		return "", false
	}
	return d.entries[id], true
}

// Len returns the number of interned strings.
func (d *Dict) Len() int { return len(d.entries) }

// admit interns s if it qualifies and there is room.
func (d *Dict) admit(s string) {
	if len(s) == 0 || len(s) > maxDictEntryLen {
		return
	}
	if _, ok := d.index[s]; ok {
		return
	}
	if len(d.entries) >= d.limit {
		return
	}
	d.index[s] = uint32(len(d.entries))
	d.entries = append(d.entries, s)
	d.dirty = true
}

// Dirty reports whether entries were admitted since the last
// ClearDirty; the session uses it to set the
// DICTIONARY_UPDATE frame flag.
func (d *Dict) Dirty() bool { return d.dirty }

// ClearDirty resets the dirty flag at a message boundary.
func (d *Dict) ClearDirty() { d.dirty = false }

// Reset restores the dictionary to its seeded state.
func (d *Dict) Reset() {
	d.entries = d.entries[:0]
	d.index = make(map[string]uint32, len(flux.SeedDict))
	d.dirty = false
	for _, s := range flux.SeedDict {
		d.admit(s)
	}
	d.dirty = false
}
