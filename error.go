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

package flux

import (
	"errors"
	"fmt"
)

// Code is a stable numeric error code. Codes are part of the
// wire contract: peers may report them to each other, so the
// values never change between releases.
type Code uint8

const (
	// ErrOK is the zero code; it never appears in an *Error.
	ErrOK Code = 0x00
	// ErrInvalidMagic: the first four bytes are not "FLUX".
	ErrInvalidMagic Code = 0x01
	// ErrVersionMismatch: the frame's major version exceeds ours.
	ErrVersionMismatch Code = 0x02
	// ErrSchemaNotFound: a frame references an unknown schema id.
	ErrSchemaNotFound Code = 0x03
	// ErrChecksumMismatch: CRC32C verification failed.
	ErrChecksumMismatch Code = 0x04
	// ErrDecode: malformed varint, depth exceeded, truncated
	// buffer, or a non-canonical varint in strict mode.
	ErrDecode Code = 0x05
	// ErrStateDesync: a delta base_hash or new_hash mismatch.
	ErrStateDesync Code = 0x06
	// ErrBufferOverflow: a declared length exceeds the caps.
	ErrBufferOverflow Code = 0x07
	// ErrUnsupportedEncoding: unknown column-encoding tag.
	ErrUnsupportedEncoding Code = 0x08
)

func (c Code) String() string {
	switch c {
	case ErrInvalidMagic:
		return "INVALID_MAGIC"
	case ErrVersionMismatch:
		return "VERSION_MISMATCH"
	case ErrSchemaNotFound:
		return "SCHEMA_NOT_FOUND"
	case ErrChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	case ErrDecode:
		return "DECODE_ERROR"
	case ErrStateDesync:
		return "STATE_DESYNC"
	case ErrBufferOverflow:
		return "BUFFER_OVERFLOW"
	case ErrUnsupportedEncoding:
		return "UNSUPPORTED_ENCODING"
	default:
		return fmt.Sprintf("code(%#02x)", uint8(c))
	}
}

// Error is an error carrying one of the stable codes.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

// Errorf constructs an *Error with the given code.
func Errorf(code Code, f string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(f, args...)}
}

// CodeOf returns the code attached to err, or ErrOK if err
// is nil or carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrOK
}
