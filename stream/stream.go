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
	"encoding/binary"

	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/frame"
	"github.com/fluxproto/flux/jsonval"
	"github.com/fluxproto/flux/session"
)

// Delta message types.
const (
	MsgDelta    = 0x01
	MsgFullSync = 0x02
	MsgReset    = 0x03
)

// deltaHeaderLen: message type byte plus base and new hashes.
const deltaHeaderLen = 17

// fullSendThreshold: a delta op list at or above this
// fraction of the full encoding's size is not worth sending.
const fullSendThreshold = 0.7

// fullSyncOverhead approximates the framing cost of a
// full-sync message beyond its encoded state: the embedded
// snapshot frame, the delta header, and the checksums. The
// estimate deliberately avoids running the real snapshot
// encoder, which would mutate the schema cache and the
// shared dictionary for a frame that may never be sent.
const fullSyncOverhead = 2*frame.HeaderLen + deltaHeaderLen + 8

// Stats are the cumulative counters of a stream's sender
// side.
type Stats struct {
	UpdatesSent     uint64  `json:"updatesSent"`
	FullSends       uint64  `json:"fullSends"`
	DeltaSends      uint64  `json:"deltaSends"`
	BytesFull       uint64  `json:"bytesFull"`
	BytesDelta      uint64  `json:"bytesDelta"`
	DeltaEfficiency float64 `json:"deltaEfficiency"`
}

// Stream layers delta compression over a Session: each update
// transmits either a structural diff against the last
// acknowledged state or a full snapshot. The base-hash check
// on receive enforces strict FIFO delivery.
type Stream struct {
	sess     *session.Session
	prev     jsonval.Value
	prevHash uint64
	stats    Stats
	closed   bool
}

// New returns a stream with the default configuration.
func New() *Stream {
	return NewWithConfig(flux.DefaultConfig())
}

// NewWithConfig returns a stream with an explicit
// configuration.
func NewWithConfig(cfg flux.Config) *Stream {
	return &Stream{sess: session.NewWithConfig(cfg)}
}

// PrevHash returns the canonical hash of the last committed
// state, or 0 when no state is established.
func (t *Stream) PrevHash() uint64 { return t.prevHash }

// Update encodes the next state. The first update, any update
// whose diff is not worth sending, and any state the diff
// cannot reproduce yields a full-sync message; otherwise a
// delta.
func (t *Stream) Update(input []byte) ([]byte, error) {
	if t.closed {
		return nil, flux.Errorf(flux.ErrDecode, "stream destroyed")
	}
	v, err := jsonval.Parse(input)
	if err != nil {
		return nil, err
	}
	newHash := jsonval.Hash64(v)
	cfg := t.sess.Config()

	var body []byte
	useDelta := false
	if t.prev != nil && cfg.Delta {
		ops := Diff(t.prev, v)
		opsBody := AppendOps(nil, ops)
		// the size gate compares against the stateless tagged
		// encoding so that rejected full encodings leave no
		// session side effects behind
		fullEstimate := len(jsonval.AppendBinary(nil, v)) + fullSyncOverhead
		if float64(len(opsBody)) < fullSendThreshold*float64(fullEstimate) {
			// the positional diff cannot express every
			// transformation (e.g. object key reordering);
			// verify before trusting it
			if applied, err := Apply(t.prev, ops); err == nil && jsonval.Hash64(applied) == newHash {
				body = opsBody
				useDelta = true
			}
		}
	}

	var payload []byte
	if useDelta {
		payload = appendDeltaHeader(nil, MsgDelta, t.prevHash, newHash)
		payload = append(payload, body...)
	} else {
		snapshot, err := t.sess.CompressValue(v)
		if err != nil {
			return nil, err
		}
		payload = appendDeltaHeader(nil, MsgFullSync, 0, newHash)
		payload = append(payload, snapshot...)
	}

	out, err := t.appendFrame(payload)
	if err != nil {
		return nil, err
	}
	t.prev = jsonval.Clone(v)
	t.prevHash = newHash
	t.stats.UpdatesSent++
	if useDelta {
		t.stats.DeltaSends++
		t.stats.BytesDelta += uint64(len(out))
	} else {
		t.stats.FullSends++
		t.stats.BytesFull += uint64(len(out))
	}
	return out, nil
}

// Receive applies one incoming frame and returns the
// resulting state as canonical JSON. A RESET message returns
// nil. On STATE_DESYNC the stream state is left untouched;
// the caller's protocol layer is expected to request a full
// sync.
func (t *Stream) Receive(input []byte) ([]byte, error) {
	if t.closed {
		return nil, flux.Errorf(flux.ErrDecode, "stream destroyed")
	}
	cfg := t.sess.Config()
	h, payload, _, err := frame.ParseMax(input, cfg.MaxFrameSize)
	if err != nil {
		return nil, err
	}
	if h.Flags&flux.FlagDeltaMessage == 0 {
		return nil, flux.Errorf(flux.ErrDecode, "frame is not a delta message")
	}
	if len(payload) < deltaHeaderLen {
		return nil, flux.Errorf(flux.ErrDecode, "delta body of %d bytes", len(payload))
	}
	msgType := payload[0]
	baseHash := binary.LittleEndian.Uint64(payload[1:])
	newHash := binary.LittleEndian.Uint64(payload[9:])
	body := payload[deltaHeaderLen:]

	switch msgType {
	case MsgReset:
		t.prev = nil
		t.prevHash = 0
		return nil, nil
	case MsgFullSync:
		v, err := t.sess.DecodeValueFrame(body)
		if err != nil {
			return nil, err
		}
		if jsonval.Hash64(v) != newHash {
			return nil, flux.Errorf(flux.ErrStateDesync, "snapshot hash does not match new_hash %#016x", newHash)
		}
		t.prev = v
		t.prevHash = newHash
		return jsonval.Encode(nil, v), nil
	case MsgDelta:
		if t.prev == nil || baseHash != t.prevHash {
			return nil, flux.Errorf(flux.ErrStateDesync, "delta base %#016x, state %#016x", baseHash, t.prevHash)
		}
		ops, n, err := ParseOps(body)
		if err != nil {
			return nil, err
		}
		if n != len(body) {
			return nil, flux.Errorf(flux.ErrDecode, "%d trailing bytes after ops", len(body)-n)
		}
		applied, err := Apply(t.prev, ops)
		if err != nil {
			return nil, err
		}
		if jsonval.Hash64(applied) != newHash {
			return nil, flux.Errorf(flux.ErrStateDesync, "patched state does not match new_hash %#016x", newHash)
		}
		t.prev = applied
		t.prevHash = newHash
		return jsonval.Encode(nil, applied), nil
	}
	return nil, flux.Errorf(flux.ErrDecode, "unknown delta message type %#02x", msgType)
}

// ResetFrame clears the local state and returns a RESET
// message for the peer.
func (t *Stream) ResetFrame() ([]byte, error) {
	if t.closed {
		return nil, flux.Errorf(flux.ErrDecode, "stream destroyed")
	}
	t.prev = nil
	t.prevHash = 0
	payload := appendDeltaHeader(nil, MsgReset, 0, 0)
	return t.appendFrame(payload)
}

func (t *Stream) appendFrame(payload []byte) ([]byte, error) {
	flags := uint8(flux.FlagDeltaMessage | flux.FlagStreaming)
	if t.sess.Config().Checksum {
		flags |= flux.FlagChecksumPresent
	}
	h := &frame.Header{Version: flux.Version, Flags: flags}
	return frame.Append(nil, h, payload)
}

func appendDeltaHeader(dst []byte, msgType byte, baseHash, newHash uint64) []byte {
	dst = append(dst, msgType)
	dst = binary.LittleEndian.AppendUint64(dst, baseHash)
	return binary.LittleEndian.AppendUint64(dst, newHash)
}

// Stats returns a snapshot of the stream counters.
func (t *Stream) Stats() Stats {
	st := t.stats
	if st.UpdatesSent > 0 {
		st.DeltaEfficiency = float64(st.DeltaSends) / float64(st.UpdatesSent)
	}
	return st
}

// Session exposes the underlying session (for its stats).
func (t *Stream) Session() *session.Session { return t.sess }

// Reset clears the stream and its session.
func (t *Stream) Reset() {
	t.prev = nil
	t.prevHash = 0
	t.stats = Stats{}
	t.sess.Reset()
}

// Destroy resets the stream and rejects further use.
func (t *Stream) Destroy() {
	t.Reset()
	t.closed = true
}
