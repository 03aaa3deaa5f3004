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

// Package frame implements the FLUX frame: a fixed 14-byte
// header (magic, version, flags, schema id, payload length),
// the payload, and an optional CRC32C trailer over the
// payload.
package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/fluxproto/flux"
)

// HeaderLen is the fixed size of the frame header.
const HeaderLen = 14

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the parsed frame header.
type Header struct {
	Version  uint8
	Flags    uint8
	SchemaID uint32
}

// Append serializes a complete frame: header, payload, and a
// CRC32C trailer when FlagChecksumPresent is set in h.Flags.
func Append(dst []byte, h *Header, payload []byte) ([]byte, error) {
	if len(payload) > flux.MaxFrameSize {
		return nil, flux.Errorf(flux.ErrBufferOverflow, "payload of %d bytes exceeds %d", len(payload), flux.MaxFrameSize)
	}
	dst = append(dst, flux.Magic[:]...)
	dst = append(dst, h.Version, h.Flags)
	dst = binary.LittleEndian.AppendUint32(dst, h.SchemaID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	if h.Flags&flux.FlagChecksumPresent != 0 {
		dst = binary.LittleEndian.AppendUint32(dst, crc32.Checksum(payload, castagnoli))
	}
	return dst, nil
}

// Parse validates buf and returns the header, the payload,
// and the total number of bytes the frame occupies.
// The payload aliases buf.
func Parse(buf []byte) (*Header, []byte, int, error) {
	return ParseMax(buf, flux.MaxFrameSize)
}

// ParseMax is Parse with an explicit payload cap for callers
// that opted into a different limit.
func ParseMax(buf []byte, maxPayload int) (*Header, []byte, int, error) {
	if len(buf) < HeaderLen {
		return nil, nil, 0, flux.Errorf(flux.ErrDecode, "frame of %d bytes is shorter than the header", len(buf))
	}
	if buf[0] != flux.Magic[0] || buf[1] != flux.Magic[1] || buf[2] != flux.Magic[2] || buf[3] != flux.Magic[3] {
		return nil, nil, 0, flux.Errorf(flux.ErrInvalidMagic, "magic %x", buf[:4])
	}
	h := &Header{
		Version:  buf[4],
		Flags:    buf[5],
		SchemaID: binary.LittleEndian.Uint32(buf[6:]),
	}
	if h.Version>>4 > flux.Version>>4 {
		return nil, nil, 0, flux.Errorf(flux.ErrVersionMismatch, "version %#02x exceeds supported %#02x", h.Version, flux.Version)
	}
	if h.Flags&(1<<7) != 0 {
		return nil, nil, 0, flux.Errorf(flux.ErrDecode, "reserved flag bit set")
	}
	plen := binary.LittleEndian.Uint32(buf[10:])
	if plen > uint32(maxPayload) {
		return nil, nil, 0, flux.Errorf(flux.ErrBufferOverflow, "declared payload of %d bytes exceeds %d", plen, maxPayload)
	}
	total := HeaderLen + int(plen)
	if h.Flags&flux.FlagChecksumPresent != 0 {
		total += 4
	}
	if len(buf) < total {
		return nil, nil, 0, flux.Errorf(flux.ErrDecode, "frame truncated: have %d bytes, need %d", len(buf), total)
	}
	payload := buf[HeaderLen : HeaderLen+int(plen)]
	if h.Flags&flux.FlagChecksumPresent != 0 {
		want := binary.LittleEndian.Uint32(buf[HeaderLen+int(plen):])
		if got := crc32.Checksum(payload, castagnoli); got != want {
			return nil, nil, 0, flux.Errorf(flux.ErrChecksumMismatch, "crc32c %#08x, header says %#08x", got, want)
		}
	}
	return h, payload, total, nil
}

// Describe returns a human-readable summary of a frame, used
// by the CLI's analyze command.
func Describe(buf []byte) (string, error) {
	h, payload, total, err := Parse(buf)
	if err != nil {
		return "", err
	}
	var names []string
	for bit, name := range map[uint8]string{
		flux.FlagSchemaIncluded:   "schema",
		flux.FlagColumnar:         "columnar",
		flux.FlagEntropyCoded:     "entropy",
		flux.FlagDeltaMessage:     "delta",
		flux.FlagChecksumPresent:  "crc",
		flux.FlagDictionaryUpdate: "dict",
		flux.FlagStreaming:        "stream",
	} {
		if h.Flags&bit != 0 {
			names = append(names, name)
		}
	}
	// map iteration order is not stable
	slices.Sort(names)
	return fmt.Sprintf("flux v%d.%d schema=%d payload=%d total=%d flags=[%s]",
		h.Version>>4, h.Version&0xf, h.SchemaID, len(payload), total,
		strings.Join(names, ",")), nil
}
