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
	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/jsonval"
)

// Apply applies ops to base and returns the resulting value.
// base itself is never mutated: application works on a deep
// copy, so a failed patch leaves the caller's state intact.
func Apply(base jsonval.Value, ops []Op) (jsonval.Value, error) {
	v := jsonval.Clone(base)
	var err error
	for i := range ops {
		v, err = applyOp(v, &ops[i])
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func applyOp(v jsonval.Value, op *Op) (jsonval.Value, error) {
	switch op.Code {
	case OpSet:
		if len(op.Path) == 0 {
			return op.Value, nil
		}
		parent, last := op.Path[:len(op.Path)-1], op.Path[len(op.Path)-1]
		return applyAt(v, parent, func(p jsonval.Value) (jsonval.Value, error) {
			if last.IsKey {
				obj, ok := p.(jsonval.Object)
				if !ok {
					return nil, pathError("set key on non-object")
				}
				if i := obj.Index(last.Key); i >= 0 {
					obj[i].Value = op.Value
					return obj, nil
				}
				return append(obj, jsonval.Member{Key: last.Key, Value: op.Value}), nil
			}
			arr, ok := p.(jsonval.Array)
			if !ok {
				return nil, pathError("set index on non-array")
			}
			if last.Index >= len(arr) {
				return nil, pathError("set index out of range")
			}
			arr[last.Index] = op.Value
			return arr, nil
		})
	case OpDelete:
		if len(op.Path) == 0 {
			return nil, pathError("delete of the root")
		}
		parent, last := op.Path[:len(op.Path)-1], op.Path[len(op.Path)-1]
		return applyAt(v, parent, func(p jsonval.Value) (jsonval.Value, error) {
			if last.IsKey {
				obj, ok := p.(jsonval.Object)
				if !ok {
					return nil, pathError("delete key on non-object")
				}
				i := obj.Index(last.Key)
				if i < 0 {
					return nil, pathError("delete of a missing key")
				}
				return append(obj[:i], obj[i+1:]...), nil
			}
			arr, ok := p.(jsonval.Array)
			if !ok {
				return nil, pathError("delete index on non-array")
			}
			if last.Index >= len(arr) {
				return nil, pathError("delete index out of range")
			}
			return append(arr[:last.Index], arr[last.Index+1:]...), nil
		})
	case OpAppend:
		return applyAt(v, op.Path, func(p jsonval.Value) (jsonval.Value, error) {
			arr, ok := p.(jsonval.Array)
			if !ok {
				return nil, pathError("append to non-array")
			}
			return append(arr, op.Value), nil
		})
	case OpInsert:
		return applyAt(v, op.Path, func(p jsonval.Value) (jsonval.Value, error) {
			arr, ok := p.(jsonval.Array)
			if !ok {
				return nil, pathError("insert into non-array")
			}
			i := int(op.A)
			if i > len(arr) {
				return nil, pathError("insert index out of range")
			}
			out := make(jsonval.Array, 0, len(arr)+1)
			out = append(out, arr[:i]...)
			out = append(out, op.Value)
			return append(out, arr[i:]...), nil
		})
	case OpRemove:
		return applyAt(v, op.Path, func(p jsonval.Value) (jsonval.Value, error) {
			arr, ok := p.(jsonval.Array)
			if !ok {
				return nil, pathError("remove from non-array")
			}
			i := int(op.A)
			if i >= len(arr) {
				return nil, pathError("remove index out of range")
			}
			return append(arr[:i], arr[i+1:]...), nil
		})
	case OpMove:
		return applyAt(v, op.Path, func(p jsonval.Value) (jsonval.Value, error) {
			arr, ok := p.(jsonval.Array)
			if !ok {
				return nil, pathError("move within non-array")
			}
			from, to := int(op.A), int(op.B)
			if from >= len(arr) || to >= len(arr) {
				return nil, pathError("move index out of range")
			}
			elem := arr[from]
			arr = append(arr[:from], arr[from+1:]...)
			out := make(jsonval.Array, 0, len(arr)+1)
			out = append(out, arr[:to]...)
			out = append(out, elem)
			return append(out, arr[to:]...), nil
		})
	case OpIncrement, OpDecrement:
		return applyAt(v, op.Path, func(p jsonval.Value) (jsonval.Value, error) {
			n, ok := p.(jsonval.Int)
			if !ok {
				return nil, pathError("increment of a non-integer")
			}
			d := op.A
			if op.Code == OpDecrement {
				d = -d
			}
			return jsonval.Int(int64(n) + d), nil
		})
	}
	return nil, flux.Errorf(flux.ErrDecode, "unknown op code %#02x", op.Code)
}

// applyAt navigates to the value at path, applies f, and
// writes the result back through the containers on the way
// up.
func applyAt(v jsonval.Value, path []Seg, f func(jsonval.Value) (jsonval.Value, error)) (jsonval.Value, error) {
	if len(path) == 0 {
		return f(v)
	}
	seg := path[0]
	if seg.IsKey {
		obj, ok := v.(jsonval.Object)
		if !ok {
			return nil, pathError("key segment on non-object")
		}
		i := obj.Index(seg.Key)
		if i < 0 {
			return nil, pathError("path key not found")
		}
		child, err := applyAt(obj[i].Value, path[1:], f)
		if err != nil {
			return nil, err
		}
		obj[i].Value = child
		return obj, nil
	}
	arr, ok := v.(jsonval.Array)
	if !ok {
		return nil, pathError("index segment on non-array")
	}
	if seg.Index >= len(arr) {
		return nil, pathError("path index out of range")
	}
	child, err := applyAt(arr[seg.Index], path[1:], f)
	if err != nil {
		return nil, err
	}
	arr[seg.Index] = child
	return arr, nil
}

func pathError(msg string) error {
	return flux.Errorf(flux.ErrDecode, "patch: %s", msg)
}
