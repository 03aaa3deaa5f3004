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

// Package compr is the generic byte-codec fallback: the
// pipeline hands it opaque residuals and non-JSON messages
// and treats it as a black box with a three-level quality
// dial (0=store, 1=fast, 2=better).
package compr

import (
	"runtime"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/fluxproto/flux"
)

// Codec identifier bytes; the first byte of every blob.
const (
	codecStore = 0x00
	codecS2    = 0x01
	codecZstd  = 0x02
)

// Compressor compresses a block in one shot.
type Compressor interface {
	// Name is the codec's wire-stable name.
	Name() string
	// Compress appends the compressed form of src to dst.
	Compress(src, dst []byte) []byte
}

// Decompressor is the inverse of a Compressor. It must be
// safe for concurrent use.
type Decompressor interface {
	Name() string
	// Decompress appends the decoded form of src to dst.
	Decompress(src, dst []byte) ([]byte, error)
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	e, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	zstdEncoder = e
	d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)),
		zstd.WithDecoderMaxMemory(uint64(flux.MaxFrameSize)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = d
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return "zstd" }

func (zstdCompressor) Compress(src, dst []byte) []byte {
	return zstdEncoder.EncodeAll(src, dst)
}

func (zstdCompressor) Decompress(src, dst []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(src, dst)
}

type s2Compressor struct{}

func (s2Compressor) Name() string { return "s2" }

func (s2Compressor) Compress(src, dst []byte) []byte {
	return append(dst, s2.Encode(nil, src)...)
}

func (s2Compressor) Decompress(src, dst []byte) ([]byte, error) {
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, err
	}
	return append(dst, out...), nil
}

type storeCompressor struct{}

func (storeCompressor) Name() string { return "store" }

func (storeCompressor) Compress(src, dst []byte) []byte {
	return append(dst, src...)
}

func (storeCompressor) Decompress(src, dst []byte) ([]byte, error) {
	return append(dst, src...), nil
}

// Compression selects a compressor by name.
func Compression(name string) Compressor {
	switch name {
	case "store":
		return storeCompressor{}
	case "s2":
		return s2Compressor{}
	case "zstd":
		return zstdCompressor{}
	default:
		return nil
	}
}

// Decompression selects a decompressor by name.
func Decompression(name string) Decompressor {
	switch name {
	case "store":
		return storeCompressor{}
	case "s2":
		return s2Compressor{}
	case "zstd":
		return zstdCompressor{}
	default:
		return nil
	}
}

// Encode compresses src at the given quality level and
// prefixes the codec byte, making the blob self-describing
// for Decode.
func Encode(src []byte, level int) ([]byte, error) {
	switch level {
	case 0:
		return storeCompressor{}.Compress(src, []byte{codecStore}), nil
	case 1:
		return s2Compressor{}.Compress(src, []byte{codecS2}), nil
	case 2:
		return zstdCompressor{}.Compress(src, []byte{codecZstd}), nil
	default:
		return nil, flux.Errorf(flux.ErrUnsupportedEncoding, "byte codec level %d", level)
	}
}

// Decode reverses Encode.
func Decode(blob []byte) ([]byte, error) {
	if len(blob) < 1 {
		return nil, flux.Errorf(flux.ErrDecode, "empty byte-codec blob")
	}
	var d Decompressor
	switch blob[0] {
	case codecStore:
		d = storeCompressor{}
	case codecS2:
		d = s2Compressor{}
	case codecZstd:
		d = zstdCompressor{}
	default:
		return nil, flux.Errorf(flux.ErrUnsupportedEncoding, "byte codec id %#02x", blob[0])
	}
	out, err := d.Decompress(blob[1:], nil)
	if err != nil {
		return nil, flux.Errorf(flux.ErrDecode, "%s: %s", d.Name(), err)
	}
	if len(out) > flux.MaxFrameSize {
		return nil, flux.Errorf(flux.ErrBufferOverflow, "decoded output of %d bytes", len(out))
	}
	return out, nil
}
