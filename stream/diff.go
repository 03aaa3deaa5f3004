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
	"github.com/fluxproto/flux/jsonval"
)

// Diff computes a positional structural diff transforming
// prev into next. Objects diff by key; arrays diff
// element-wise at matching indices, with APPEND for new tail
// elements and REMOVE for dropped ones. (An LCS alignment
// would sometimes produce smaller deltas; positional
// semantics are the protocol's fixed behavior.)
func Diff(prev, next jsonval.Value) []Op {
	return diffValue(nil, nil, prev, next)
}

func diffValue(ops []Op, path []Seg, prev, next jsonval.Value) []Op {
	if jsonval.Equal(prev, next) {
		return ops
	}
	if po, ok := prev.(jsonval.Object); ok {
		if no, ok := next.(jsonval.Object); ok {
			return diffObject(ops, path, po, no)
		}
	}
	if pa, ok := prev.(jsonval.Array); ok {
		if na, ok := next.(jsonval.Array); ok {
			return diffArray(ops, path, pa, na)
		}
	}
	return append(ops, Op{Code: OpSet, Path: clonePath(path), Value: next})
}

func diffObject(ops []Op, path []Seg, prev, next jsonval.Object) []Op {
	for i := range prev {
		if _, ok := next.Get(prev[i].Key); !ok {
			ops = append(ops, Op{Code: OpDelete, Path: childKey(path, prev[i].Key)})
		}
	}
	for i := range next {
		key := next[i].Key
		pv, ok := prev.Get(key)
		if !ok {
			ops = append(ops, Op{Code: OpSet, Path: childKey(path, key), Value: next[i].Value})
			continue
		}
		ops = diffValue(ops, append(path, KeySeg(key)), pv, next[i].Value)
	}
	return ops
}

func diffArray(ops []Op, path []Seg, prev, next jsonval.Array) []Op {
	n := len(prev)
	if len(next) < n {
		n = len(next)
	}
	for i := 0; i < n; i++ {
		ops = diffValue(ops, append(path, IndexSeg(i)), prev[i], next[i])
	}
	// removals run back to front so that each index is valid
	// at application time
	for i := len(prev) - 1; i >= len(next); i-- {
		ops = append(ops, Op{Code: OpRemove, Path: clonePath(path), A: int64(i)})
	}
	for i := len(prev); i < len(next); i++ {
		ops = append(ops, Op{Code: OpAppend, Path: clonePath(path), Value: next[i]})
	}
	return ops
}

func childKey(path []Seg, key string) []Seg {
	out := clonePath(path)
	return append(out, KeySeg(key))
}

func clonePath(path []Seg) []Seg {
	out := make([]Seg, len(path))
	copy(out, path)
	return out
}
