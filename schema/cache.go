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
	"github.com/fluxproto/flux"
)

// DefaultCacheCap is the number of schemas a session retains.
// Past this, registering a new schema evicts the
// least-recently-used entry, whatever the session state. Both peers see the same
// message sequence and therefore evict identically.
const DefaultCacheCap = 1024

// Cache is the per-session bidirectional schema map:
// hash -> id and id -> schema. Ids start at 1 and are never
// reused; 0 is reserved for "no schema".
type Cache struct {
	byHash map[uint64]uint32
	byID   map[uint32]*Schema
	recent []uint32 // LRU order, oldest first
	nextID uint32
	cap    int
}

// NewCache returns an empty cache with the default capacity.
func NewCache() *Cache {
	return &Cache{
		byHash: make(map[uint64]uint32),
		byID:   make(map[uint32]*Schema),
		nextID: 1,
		cap:    DefaultCacheCap,
	}
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int { return len(c.byID) }

// AtCap reports whether the next miss would evict.
func (c *Cache) AtCap() bool { return len(c.byID) >= c.cap }

// Register returns the id for s, allocating a new one on
// first sight. fresh is true when the schema was not cached
// before, i.e. its definition must be emitted on the wire.
// A hash collision with a non-equal cached schema is an error.
func (c *Cache) Register(s *Schema) (id uint32, fresh bool, err error) {
	if id, ok := c.byHash[s.Hash]; ok {
		cached := c.byID[id]
		if !cached.Equal(s) {
			return 0, false, flux.Errorf(flux.ErrDecode, "schema hash collision on %#016x", s.Hash)
		}
		c.touch(id)
		return id, false, nil
	}
	if len(c.byID) >= c.cap {
		c.evict()
	}
	id = c.nextID
	c.nextID++
	c.byHash[s.Hash] = id
	c.byID[id] = s
	c.recent = append(c.recent, id)
	return id, true, nil
}

// Lookup returns the schema registered under id.
func (c *Cache) Lookup(id uint32) (*Schema, error) {
	s, ok := c.byID[id]
	if !ok {
		return nil, flux.Errorf(flux.ErrSchemaNotFound, "schema id %d not in cache", id)
	}
	c.touch(id)
	return s, nil
}

func (c *Cache) touch(id uint32) {
	for i := len(c.recent) - 1; i >= 0; i-- {
		if c.recent[i] == id {
			copy(c.recent[i:], c.recent[i+1:])
			c.recent[len(c.recent)-1] = id
			return
		}
	}
}

func (c *Cache) evict() {
	if len(c.recent) == 0 {
		return
	}
	id := c.recent[0]
	c.recent = c.recent[1:]
	if s, ok := c.byID[id]; ok {
		delete(c.byHash, s.Hash)
		delete(c.byID, id)
	}
}

// Reset drops all cached schemas and restarts id allocation.
func (c *Cache) Reset() {
	c.byHash = make(map[uint64]uint32)
	c.byID = make(map[uint32]*Schema)
	c.recent = c.recent[:0]
	c.nextID = 1
}
