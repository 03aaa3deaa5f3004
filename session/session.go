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

// Package session implements stateful one-shot compression:
// it orchestrates schema inference, the schema cache, the
// columnar transform, the encoding selector, and framing.
//
// A Session is owned by a single logical stream of messages;
// operations on one session must be serialized by the caller.
// Distinct sessions are fully independent.
package session

import (
	"github.com/fluxproto/flux"
	"github.com/fluxproto/flux/colenc"
	"github.com/fluxproto/flux/compr"
	"github.com/fluxproto/flux/frame"
	"github.com/fluxproto/flux/jsonval"
	"github.com/fluxproto/flux/schema"
)

// Row-body format bytes; the first byte of a non-columnar,
// non-raw payload body.
const (
	bodyObject = 0x00 // schema-guided object root
	bodyTagged = 0x01 // self-describing tagged value
	bodyScalar = 0x02 // schema-guided non-object root
)

// learningMessages is the message count after which a session
// leaves the learning state.
const learningMessages = 16

// sessionState tracks the session lifecycle: fresh until the
// first message, learning until learningMessages messages
// have been compressed, then steady.
type sessionState uint8

const (
	stateFresh sessionState = iota
	stateLearning
	stateSteady
)

// Stats are the cumulative counters of a session.
type Stats struct {
	Messages      uint64  `json:"messages"`
	BytesIn       uint64  `json:"bytesIn"`
	BytesOut      uint64  `json:"bytesOut"`
	SchemasCached int     `json:"schemasCached"`
	CacheHits     uint64  `json:"cacheHits"`
	CacheMisses   uint64  `json:"cacheMisses"`
	Ratio         float64 `json:"ratio"`
}

// Session carries the coupled compressor state: the schema
// cache and the shared string dictionary. Peers must process
// the same frame sequence in the same order.
type Session struct {
	cfg    flux.Config
	cache  *schema.Cache
	dict   *colenc.Dict
	stats  Stats
	state  sessionState
	closed bool
}

// New returns a session with the default configuration.
func New() *Session {
	return NewWithConfig(flux.DefaultConfig())
}

// NewWithConfig returns a session with an explicit
// configuration.
func NewWithConfig(cfg flux.Config) *Session {
	return &Session{
		cfg:   cfg,
		cache: schema.NewCache(),
		dict:  colenc.NewDict(cfg.MaxDictSize),
	}
}

// Config returns the session's configuration.
func (s *Session) Config() flux.Config { return s.cfg }

// Compress encodes one JSON message into a frame. Input that
// is not valid JSON falls back to the generic byte codec and
// travels with schema id 0.
func (s *Session) Compress(input []byte) ([]byte, error) {
	if s.closed {
		return nil, flux.Errorf(flux.ErrDecode, "session destroyed")
	}
	s.advance()
	s.stats.Messages++
	s.stats.BytesIn += uint64(len(input))
	v, err := jsonval.Parse(input)
	if err != nil {
		out, err := s.compressRaw(input)
		if err != nil {
			return nil, err
		}
		s.stats.BytesOut += uint64(len(out))
		return out, nil
	}
	out, err := s.compressValue(nil, v)
	if err != nil {
		return nil, err
	}
	s.stats.BytesOut += uint64(len(out))
	return out, nil
}

func (s *Session) compressRaw(input []byte) ([]byte, error) {
	blob, err := compr.Encode(input, s.cfg.Level)
	if err != nil {
		return nil, err
	}
	h := &frame.Header{Version: flux.Version, Flags: s.baseFlags()}
	return frame.Append(nil, h, blob)
}

func (s *Session) baseFlags() uint8 {
	if s.cfg.Checksum {
		return flux.FlagChecksumPresent
	}
	return 0
}

// compressValue builds a frame for an already-parsed value.
// The stream layer reuses it for snapshots.
func (s *Session) compressValue(dst []byte, v jsonval.Value) ([]byte, error) {
	s.dict.ClearDirty()
	sch := schema.Infer(v)
	id, fresh, err := s.cache.Register(sch)
	if err != nil {
		return nil, err
	}
	if fresh {
		s.stats.CacheMisses++
	} else {
		s.stats.CacheHits++
	}
	s.stats.SchemasCached = s.cache.Len()

	flags := s.baseFlags()
	var payload []byte
	if fresh {
		payload = sch.Marshal(payload)
		flags |= flux.FlagSchemaIncluded
	}
	payload, flags, err = s.encodeBody(payload, flags, sch, v)
	if err != nil {
		return nil, err
	}
	if s.dict.Dirty() {
		flags |= flux.FlagDictionaryUpdate
	}
	h := &frame.Header{Version: flux.Version, Flags: flags, SchemaID: id}
	return frame.Append(dst, h, payload)
}

func (s *Session) encodeBody(payload []byte, flags uint8, sch *schema.Schema, v jsonval.Value) ([]byte, uint8, error) {
	// columnar path: a homogeneous array of objects
	if arr, ok := v.(jsonval.Array); ok && s.cfg.Columnar {
		if t := rootArrayElem(sch); t != nil && colenc.Eligible(arr, t) {
			body, entropyUsed, err := colenc.EncodeBlock(nil, arr, t, &colenc.BlockOptions{
				Entropy: s.cfg.Entropy,
				Dict:    s.dict,
			})
			if err != nil {
				return nil, 0, err
			}
			flags |= flux.FlagColumnar
			if entropyUsed {
				flags |= flux.FlagEntropyCoded
			}
			return append(payload, body...), flags, nil
		}
	}
	// row path: schema-guided when the value conforms
	// (including key order), self-describing otherwise
	if obj, ok := v.(jsonval.Object); ok {
		t := schema.ObjectOf(sch.Fields)
		if colenc.Matches(&t, obj) {
			payload = append(payload, bodyObject)
			return appendOrFail(payload, flags, func(dst []byte) ([]byte, error) {
				return colenc.EncodeObject(dst, sch.Fields, obj, s.dict)
			})
		}
	} else if len(sch.Fields) == 1 && sch.Fields[0].Name == "" {
		t := sch.Fields[0].Type
		if colenc.Matches(&t, v) {
			payload = append(payload, bodyScalar)
			return appendOrFail(payload, flags, func(dst []byte) ([]byte, error) {
				return colenc.EncodeTyped(dst, &t, v, s.dict)
			})
		}
	}
	payload = append(payload, bodyTagged)
	return jsonval.AppendBinary(payload, v), flags, nil
}

func appendOrFail(payload []byte, flags uint8, enc func([]byte) ([]byte, error)) ([]byte, uint8, error) {
	out, err := enc(payload)
	if err != nil {
		return nil, 0, err
	}
	return out, flags, nil
}

func rootArrayElem(sch *schema.Schema) *schema.FieldType {
	if len(sch.Fields) != 1 || sch.Fields[0].Name != "" {
		return nil
	}
	t := &sch.Fields[0].Type
	if t.Tag != schema.TagArray || t.Elem.Tag != schema.TagObject {
		return nil
	}
	return t.Elem
}

// Decompress decodes one frame and returns the message
// bytes: canonical JSON for schema frames, the original
// bytes for raw fallback frames.
func (s *Session) Decompress(input []byte) ([]byte, error) {
	if s.closed {
		return nil, flux.Errorf(flux.ErrDecode, "session destroyed")
	}
	v, raw, err := s.decodeFrame(input)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return raw, nil
	}
	return jsonval.Encode(nil, v), nil
}

// CompressValue builds a frame for an already-parsed value.
// The stream layer uses it for full-state snapshots so that
// snapshots share the session's schema cache and dictionary.
func (s *Session) CompressValue(v jsonval.Value) ([]byte, error) {
	if s.closed {
		return nil, flux.Errorf(flux.ErrDecode, "session destroyed")
	}
	return s.compressValue(nil, v)
}

// DecodeValueFrame decodes a frame that must carry a JSON
// value (not a raw fallback payload).
func (s *Session) DecodeValueFrame(input []byte) (jsonval.Value, error) {
	if s.closed {
		return nil, flux.Errorf(flux.ErrDecode, "session destroyed")
	}
	v, raw, err := s.decodeFrame(input)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return nil, flux.Errorf(flux.ErrDecode, "raw frame where a value frame was expected")
	}
	return v, nil
}

func (s *Session) decodeFrame(input []byte) (jsonval.Value, []byte, error) {
	h, payload, _, err := frame.ParseMax(input, s.cfg.MaxFrameSize)
	if err != nil {
		return nil, nil, err
	}
	if h.Flags&flux.FlagDeltaMessage != 0 {
		return nil, nil, flux.Errorf(flux.ErrDecode, "delta frame outside a stream session")
	}
	pos := 0
	if h.Flags&flux.FlagSchemaIncluded != 0 {
		sch, n, err := schema.Unmarshal(payload)
		if err != nil {
			return nil, nil, err
		}
		pos += n
		id, _, err := s.cache.Register(sch)
		if err != nil {
			return nil, nil, err
		}
		if h.SchemaID != 0 && id != h.SchemaID {
			return nil, nil, flux.Errorf(flux.ErrDecode, "schema registered as id %d, frame says %d", id, h.SchemaID)
		}
	}
	if h.SchemaID == 0 {
		raw, err := compr.Decode(payload[pos:])
		if err != nil {
			return nil, nil, err
		}
		if raw == nil {
			raw = []byte{}
		}
		return nil, raw, nil
	}
	sch, err := s.cache.Lookup(h.SchemaID)
	if err != nil {
		return nil, nil, err
	}
	body := payload[pos:]
	if h.Flags&flux.FlagColumnar != 0 {
		elem := rootArrayElem(sch)
		if elem == nil {
			return nil, nil, flux.Errorf(flux.ErrDecode, "columnar frame under a non-array schema")
		}
		arr, n, err := colenc.DecodeBlock(body, elem, s.dict)
		if err != nil {
			return nil, nil, err
		}
		if n != len(body) {
			return nil, nil, flux.Errorf(flux.ErrDecode, "%d trailing bytes after columnar block", len(body)-n)
		}
		return arr, nil, nil
	}
	if len(body) < 1 {
		return nil, nil, flux.Errorf(flux.ErrDecode, "empty frame body")
	}
	var v jsonval.Value
	var n int
	switch body[0] {
	case bodyObject:
		v, n, err = colenc.DecodeObject(body[1:], sch.Fields, s.dict)
	case bodyScalar:
		if len(sch.Fields) != 1 {
			return nil, nil, flux.Errorf(flux.ErrDecode, "scalar body under a %d-field schema", len(sch.Fields))
		}
		v, n, err = colenc.DecodeTyped(body[1:], &sch.Fields[0].Type, s.dict)
	case bodyTagged:
		v, n, err = jsonval.DecodeBinary(body[1:], false)
	default:
		return nil, nil, flux.Errorf(flux.ErrDecode, "unknown body format %#02x", body[0])
	}
	if err != nil {
		return nil, nil, err
	}
	if n != len(body)-1 {
		return nil, nil, flux.Errorf(flux.ErrDecode, "%d trailing bytes after body", len(body)-1-n)
	}
	return v, nil, nil
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := s.stats
	if st.BytesIn > 0 {
		st.Ratio = float64(st.BytesOut) / float64(st.BytesIn)
	}
	return st
}

// Reset clears all session state: schema cache, string
// dictionary, counters, and the lifecycle state.
func (s *Session) Reset() {
	s.cache.Reset()
	s.dict.Reset()
	s.stats = Stats{}
	s.state = stateFresh
}

// Destroy resets the session and rejects further use.
func (s *Session) Destroy() {
	s.Reset()
	s.closed = true
}

func (s *Session) advance() {
	switch s.state {
	case stateFresh:
		s.state = stateLearning
	case stateLearning:
		if s.stats.Messages >= learningMessages {
			s.state = stateSteady
		}
	}
}

// Compress is the one-shot helper: a throwaway session
// around a single message.
func Compress(input []byte) ([]byte, error) {
	return New().Compress(input)
}

// Decompress is the one-shot inverse of Compress.
func Decompress(input []byte) ([]byte, error) {
	return New().Decompress(input)
}
