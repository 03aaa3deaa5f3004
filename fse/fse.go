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

// Package fse implements the tANS entropy coder used for the
// optional entropy stage of the pipeline: symbol frequencies
// are normalized to a 4096-slot table and the byte stream is
// folded through a state machine whose emitted bit counts
// approach the Shannon bound.
package fse

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/vint"
)

const (
	tableLog  = 12
	tableSize = 1 << tableLog // normalized frequency total

	modeTANS     = 1
	modeDominant = 2
)

// MinBlock is the smallest input the policy will code.
const MinBlock = flux.EntropyMinBlock

// Encode compresses b. ok is false when the policy declines:
// input shorter than MinBlock, distribution too uniform, or
// the coded form (including the header) not at least 10%
// smaller. The blob is self-contained except for the input
// length, which the caller conveys out of band.
func Encode(b []byte) (blob []byte, ok bool) {
	if len(b) < MinBlock {
		return nil, false
	}
	var freq [256]int
	for _, c := range b {
		freq[c]++
	}
	// single dominant symbol: a table is a waste
	maxFreq, maxSym := 0, 0
	nsyms := 0
	minFreq := len(b)
	for s, f := range freq {
		if f == 0 {
			continue
		}
		nsyms++
		if f > maxFreq {
			maxFreq, maxSym = f, s
		}
		if f < minFreq {
			minFreq = f
		}
	}
	if nsyms == 1 || maxFreq*10 >= len(b)*9 {
		return encodeDominant(b, byte(maxSym))
	}
	// near-uniform distribution: store raw
	if nsyms == 256 && float64(maxFreq)/float64(minFreq) < 1.1 {
		return nil, false
	}
	// entropy lower bound must beat the input by 10%
	if est := estimateBits(&freq, len(b)); est/8 >= len(b)*9/10 {
		return nil, false
	}
	blob = encodeTANS(b, &freq)
	if blob == nil || len(blob) >= len(b)*9/10 {
		return nil, false
	}
	return blob, true
}

// Decode reconstructs the n input bytes of a blob produced by
// Encode.
func Decode(blob []byte, n int) ([]byte, error) {
	if n < 0 || n > flux.MaxFrameSize {
		return nil, flux.Errorf(flux.ErrBufferOverflow, "entropy output length %d", n)
	}
	if len(blob) == 0 {
		return nil, flux.Errorf(flux.ErrDecode, "empty entropy blob")
	}
	switch blob[0] {
	case modeTANS:
		return decodeTANS(blob[1:], n)
	case modeDominant:
		return decodeDominant(blob[1:], n)
	default:
		return nil, flux.Errorf(flux.ErrDecode, "unknown entropy mode %#02x", blob[0])
	}
}

// EstimateEntropy returns the Shannon entropy of b in bits
// per byte.
func EstimateEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var freq [256]int
	for _, c := range b {
		freq[c]++
	}
	return float64(estimateBits(&freq, len(b))) / float64(len(b))
}

func estimateBits(freq *[256]int, total int) int {
	sum := 0.0
	for _, f := range freq {
		if f == 0 {
			continue
		}
		p := float64(f) / float64(total)
		sum -= float64(f) * math.Log2(p)
	}
	return int(math.Ceil(sum))
}

// dominant mode: one symbol plus an exception list of
// (gap, literal) pairs.
func encodeDominant(b []byte, sym byte) ([]byte, bool) {
	blob := []byte{modeDominant, sym}
	last := -1
	count := 0
	var body []byte
	for i, c := range b {
		if c == sym {
			continue
		}
		body = vint.Append(body, uint64(i-last-1))
		body = append(body, c)
		last = i
		count++
	}
	blob = vint.Append(blob, uint64(count))
	blob = append(blob, body...)
	if len(blob) >= len(b)*9/10 {
		return nil, false
	}
	return blob, true
}

func decodeDominant(blob []byte, n int) ([]byte, error) {
	if len(blob) < 1 {
		return nil, flux.Errorf(flux.ErrDecode, "truncated dominant header")
	}
	sym := blob[0]
	pos := 1
	count, used, err := vint.Uvarint(blob[pos:])
	if err != nil {
		return nil, err
	}
	pos += used
	out := make([]byte, n)
	for i := range out {
		out[i] = sym
	}
	at := -1
	for i := uint64(0); i < count; i++ {
		gap, used, err := vint.Uvarint(blob[pos:])
		if err != nil {
			return nil, err
		}
		pos += used
		if pos >= len(blob) {
			return nil, flux.Errorf(flux.ErrDecode, "truncated exception list")
		}
		at += int(gap) + 1
		if at >= n {
			return nil, flux.Errorf(flux.ErrDecode, "exception offset %d past output", at)
		}
		out[at] = blob[pos]
		pos++
	}
	return out, nil
}

// normalize scales freq so it sums exactly to tableSize with
// every present symbol >= 1, using largest remainders.
func normalize(freq *[256]int, total int) [256]int {
	var norm [256]int
	type rem struct {
		sym  int
		frac float64
	}
	var rems []rem
	assigned := 0
	for s, f := range freq {
		if f == 0 {
			continue
		}
		exact := float64(f) * tableSize / float64(total)
		n := int(exact)
		if n == 0 {
			n = 1
		}
		norm[s] = n
		assigned += n
		rems = append(rems, rem{s, exact - float64(n)})
	}
	// distribute or claw back the difference deterministically
	for assigned < tableSize {
		best := -1
		for i := range rems {
			if best == -1 || rems[i].frac > rems[best].frac {
				best = i
			}
		}
		norm[rems[best].sym]++
		rems[best].frac -= 1
		assigned++
	}
	for assigned > tableSize {
		best := -1
		for i := range rems {
			if norm[rems[i].sym] <= 1 {
				continue
			}
			if best == -1 || rems[i].frac < rems[best].frac {
				best = i
			}
		}
		if best == -1 {
			break
		}
		norm[rems[best].sym]--
		rems[best].frac += 1
		assigned--
	}
	return norm
}

// table spreading and transition tables shared by the encoder
// and decoder. States live in [tableSize, 2*tableSize).
type tables struct {
	spread    [tableSize]byte
	encodeTab [tableSize]uint32 // indexed by cumul[s] + (sub - norm[s])
	cumul     [257]int
	decSym    [tableSize]byte
	decSub    [tableSize]uint32 // substate in [norm, 2*norm)
}

func buildTables(norm *[256]int) *tables {
	t := &tables{}
	for s := 0; s < 256; s++ {
		t.cumul[s+1] = t.cumul[s] + norm[s]
	}
	pos := 0
	const step = (tableSize >> 1) + (tableSize >> 3) + 3
	for s := 0; s < 256; s++ {
		for i := 0; i < norm[s]; i++ {
			t.spread[pos] = byte(s)
			pos = (pos + step) & (tableSize - 1)
		}
	}
	var next [256]int
	for s := range next {
		next[s] = norm[s]
	}
	for slot := 0; slot < tableSize; slot++ {
		s := t.spread[slot]
		sub := next[s]
		next[s]++
		t.decSym[slot] = s
		t.decSub[slot] = uint32(sub)
		t.encodeTab[t.cumul[s]+sub-norm[s]] = uint32(slot + tableSize)
	}
	return t
}

// header: norm table as (gap, freq) pairs over ascending
// symbols, accumulating to tableSize.
func appendNormTable(dst []byte, norm *[256]int) []byte {
	gap := 0
	total := 0
	for s := 0; s < 256 && total < tableSize; s++ {
		if norm[s] == 0 {
			gap++
			continue
		}
		dst = vint.Append(dst, uint64(gap))
		dst = vint.Append(dst, uint64(norm[s]))
		total += norm[s]
		gap = 0
	}
	return dst
}

func parseNormTable(buf []byte) ([256]int, int, error) {
	var norm [256]int
	total := 0
	pos := 0
	sym := 0
	for total < tableSize {
		gap, n, err := vint.Uvarint(buf[pos:])
		if err != nil {
			return norm, 0, err
		}
		pos += n
		f, n, err := vint.Uvarint(buf[pos:])
		if err != nil {
			return norm, 0, err
		}
		pos += n
		sym += int(gap)
		if sym > 255 || f == 0 || f > tableSize {
			return norm, 0, flux.Errorf(flux.ErrDecode, "bad frequency table entry")
		}
		norm[sym] = int(f)
		total += int(f)
		sym++
	}
	if total != tableSize {
		return norm, 0, flux.Errorf(flux.ErrDecode, "frequency table sums to %d", total)
	}
	return norm, pos, nil
}

// encodeTANS produces: mode byte, stream count, norm table,
// final state per stream (2 bytes), bit count varint, bits.
func encodeTANS(b []byte, freq *[256]int) []byte {
	norm := normalize(freq, len(b))
	t := buildTables(&norm)
	nstreams := 1
	if len(b) >= 4096 {
		nstreams = 2
	}
	states := make([]uint32, nstreams)
	for i := range states {
		states[i] = tableSize
	}
	var w bitWriter
	// symbols are encoded in reverse so that decoding runs
	// forward; stream choice is the symbol's input parity
	for i := len(b) - 1; i >= 0; i-- {
		s := b[i]
		x := states[i%nstreams]
		lim := uint32(norm[s]) << 1
		nb := 0
		for x >= lim {
			nb++
			x >>= 1
		}
		w.write(uint64(states[i%nstreams]&((1<<nb)-1)), nb)
		states[i%nstreams] = t.encodeTab[t.cumul[s]+int(x)-norm[s]]
	}
	blob := []byte{modeTANS, byte(nstreams)}
	blob = appendNormTable(blob, &norm)
	for _, st := range states {
		blob = binary.LittleEndian.AppendUint16(blob, uint16(st-tableSize))
	}
	blob = vint.Append(blob, uint64(w.bits))
	return append(blob, w.buf...)
}

func decodeTANS(blob []byte, n int) ([]byte, error) {
	if len(blob) < 1 {
		return nil, flux.Errorf(flux.ErrDecode, "truncated entropy header")
	}
	nstreams := int(blob[0])
	if nstreams != 1 && nstreams != 2 {
		return nil, flux.Errorf(flux.ErrDecode, "unsupported stream count %d", nstreams)
	}
	pos := 1
	norm, used, err := parseNormTable(blob[pos:])
	if err != nil {
		return nil, err
	}
	pos += used
	if len(blob)-pos < 2*nstreams {
		return nil, flux.Errorf(flux.ErrDecode, "truncated entropy states")
	}
	states := make([]uint32, nstreams)
	for i := range states {
		states[i] = uint32(binary.LittleEndian.Uint16(blob[pos:])) + tableSize
		if states[i] >= 2*tableSize {
			return nil, flux.Errorf(flux.ErrDecode, "entropy state %d out of range", states[i])
		}
		pos += 2
	}
	nbits, used, err := vint.Uvarint(blob[pos:])
	if err != nil {
		return nil, err
	}
	pos += used
	stream := blob[pos:]
	if uint64(len(stream))*8 < nbits {
		return nil, flux.Errorf(flux.ErrDecode, "entropy bitstream truncated")
	}
	t := buildTables(&norm)
	r := bitReader{buf: stream, pos: int(nbits)}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		x := states[i%nstreams]
		slot := x - tableSize
		s := t.decSym[slot]
		out[i] = s
		sub := t.decSub[slot]
		nb := tableLog + 1 - bits.Len32(sub)
		states[i%nstreams] = sub<<nb | uint32(r.read(nb))
	}
	return out, nil
}
