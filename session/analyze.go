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

package session

import (
	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/fse"
	"github.com/fluxproto/flux/jsonval"
)

// Algorithm is the recommendation Analyze returns.
type Algorithm uint8

const (
	// AlgoFlux: run the input through a flux session.
	AlgoFlux Algorithm = iota
	// AlgoByteCodec: the generic byte codec will do as well
	// or better; the structural pipeline has nothing to
	// exploit.
	AlgoByteCodec
)

func (a Algorithm) String() string {
	if a == AlgoFlux {
		return "flux-session"
	}
	return "byte-codec"
}

// Recommendation explains an Analyze verdict.
type Recommendation struct {
	Algorithm Algorithm
	// EntropyBits is the estimated Shannon entropy of the
	// input in bits per byte.
	EntropyBits float64
	Reason      string
}

// Analyze inspects one message and recommends a compression
// algorithm. JSON holding a non-empty object, or an array
// with more than one element or a structured element, goes to
// the session pipeline unless it is shorter than
// flux.EntropyMinBlock with more than 7.2 bits of entropy per
// byte; everything else goes to the byte codec.
func Analyze(input []byte) Recommendation {
	rec := Recommendation{EntropyBits: fse.EstimateEntropy(input)}
	v, err := jsonval.Parse(input)
	if err != nil {
		rec.Algorithm = AlgoByteCodec
		rec.Reason = "input is not JSON"
		return rec
	}
	if !hasStructure(v, 0) {
		rec.Algorithm = AlgoByteCodec
		rec.Reason = "no object or array structure to exploit"
		return rec
	}
	if len(input) < flux.EntropyMinBlock && rec.EntropyBits > 7.2 {
		rec.Algorithm = AlgoByteCodec
		rec.Reason = "short high-entropy message"
		return rec
	}
	rec.Algorithm = AlgoFlux
	rec.Reason = "structured JSON"
	return rec
}

func hasStructure(v jsonval.Value, depth int) bool {
	switch v := v.(type) {
	case jsonval.Object:
		return len(v) > 0
	case jsonval.Array:
		if len(v) > 1 {
			return true
		}
		for i := range v {
			if hasStructure(v[i], depth+1) {
				return true
			}
		}
	}
	return false
}
