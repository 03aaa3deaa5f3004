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

// Package flux holds the protocol-level constants, configuration,
// and the stable error taxonomy shared by every layer of the
// FLUX compression pipeline.
//
// The actual compression machinery lives in the sub-packages:
// vint (integer primitives), jsonval (the value model), schema
// (inference and caching), colenc (column codecs and the columnar
// transform), fse (entropy coding), frame (wire framing), compr
// (the generic byte-codec fallback), session (stateful one-shot
// compression), and stream (delta compression).
package flux

// Magic is the four-byte frame preamble.
var Magic = [4]byte{'F', 'L', 'U', 'X'}

// Version is the supported protocol version: the high nibble
// is the major version, the low nibble the minor version.
const Version = 0x20

// Protocol limits. Decoders reject any input that would exceed
// these before allocating memory for it.
const (
	MaxSchemaFields  = 1024
	MaxStringLength  = 16 << 20
	MaxArrayLength   = 1 << 20
	MaxNestingDepth  = 64
	MaxDictSize      = 65536
	EntropyMinBlock  = 256
	ColumnarMinRows  = 4
	DefaultBufferLen = 64 << 10
	MaxFrameSize     = 64 << 20
)

// Frame flag bits.
const (
	FlagSchemaIncluded   = 1 << 0 // payload begins with a schema definition
	FlagColumnar         = 1 << 1 // body is a columnar block
	FlagEntropyCoded     = 1 << 2 // one or more columns are entropy-coded
	FlagDeltaMessage     = 1 << 3 // payload is a delta message body
	FlagChecksumPresent  = 1 << 4 // CRC32C trailer follows the payload
	FlagDictionaryUpdate = 1 << 5 // message added shared dictionary entries
	FlagStreaming        = 1 << 6 // frame belongs to a stream session
)
