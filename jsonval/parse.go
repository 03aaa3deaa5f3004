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

package jsonval

import (
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/fluxproto/flux"
)

// Parse decodes one JSON value from data. Object key order is
// preserved as it appears in the input. Trailing content after
// the value (other than whitespace) is an error, as is nesting
// deeper than flux.MaxNestingDepth.
func Parse(data []byte) (Value, error) {
	p := &parser{buf: data}
	p.space()
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	p.space()
	if p.pos != len(p.buf) {
		return nil, p.errf("trailing data at offset %d", p.pos)
	}
	return v, nil
}

type parser struct {
	buf []byte
	pos int
}

func (p *parser) errf(f string, args ...interface{}) error {
	return flux.Errorf(flux.ErrDecode, f, args...)
}

func (p *parser) space() {
	for p.pos < len(p.buf) {
		switch p.buf[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) value(depth int) (Value, error) {
	if depth > flux.MaxNestingDepth {
		return nil, p.errf("nesting deeper than %d", flux.MaxNestingDepth)
	}
	if p.pos >= len(p.buf) {
		return nil, p.errf("unexpected end of input")
	}
	switch c := p.buf[p.pos]; {
	case c == '{':
		return p.object(depth)
	case c == '[':
		return p.array(depth)
	case c == '"':
		s, err := p.string()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case c == 't':
		return p.literal("true", Bool(true))
	case c == 'f':
		return p.literal("false", Bool(false))
	case c == 'n':
		return p.literal("null", Null{})
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return nil, p.errf("unexpected character %q at offset %d", c, p.pos)
	}
}

func (p *parser) literal(lit string, v Value) (Value, error) {
	if p.pos+len(lit) > len(p.buf) || string(p.buf[p.pos:p.pos+len(lit)]) != lit {
		return nil, p.errf("bad literal at offset %d", p.pos)
	}
	p.pos += len(lit)
	return v, nil
}

func (p *parser) object(depth int) (Value, error) {
	p.pos++ // '{'
	obj := Object{}
	p.space()
	if p.pos < len(p.buf) && p.buf[p.pos] == '}' {
		p.pos++
		return obj, nil
	}
	for {
		p.space()
		if p.pos >= len(p.buf) || p.buf[p.pos] != '"' {
			return nil, p.errf("expected object key at offset %d", p.pos)
		}
		key, err := p.string()
		if err != nil {
			return nil, err
		}
		// duplicate keys cannot round-trip through a schema
		if _, dup := obj.Get(key); dup {
			return nil, p.errf("duplicate object key %q", key)
		}
		p.space()
		if p.pos >= len(p.buf) || p.buf[p.pos] != ':' {
			return nil, p.errf("expected ':' at offset %d", p.pos)
		}
		p.pos++
		p.space()
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		obj = append(obj, Member{Key: key, Value: v})
		p.space()
		if p.pos >= len(p.buf) {
			return nil, p.errf("unterminated object")
		}
		switch p.buf[p.pos] {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return obj, nil
		default:
			return nil, p.errf("expected ',' or '}' at offset %d", p.pos)
		}
	}
}

func (p *parser) array(depth int) (Value, error) {
	p.pos++ // '['
	arr := Array{}
	p.space()
	if p.pos < len(p.buf) && p.buf[p.pos] == ']' {
		p.pos++
		return arr, nil
	}
	for {
		p.space()
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
		if len(arr) > flux.MaxArrayLength {
			return nil, flux.Errorf(flux.ErrBufferOverflow, "array longer than %d", flux.MaxArrayLength)
		}
		p.space()
		if p.pos >= len(p.buf) {
			return nil, p.errf("unterminated array")
		}
		switch p.buf[p.pos] {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return arr, nil
		default:
			return nil, p.errf("expected ',' or ']' at offset %d", p.pos)
		}
	}
}

func (p *parser) string() (string, error) {
	p.pos++ // '"'
	start := p.pos
	// fast path: no escapes
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		if c == '"' {
			s := string(p.buf[start:p.pos])
			p.pos++
			return s, nil
		}
		if c == '\\' || c < 0x20 {
			break
		}
		p.pos++
	}
	// slow path with escapes
	var out []byte
	out = append(out, p.buf[start:p.pos]...)
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		switch {
		case c == '"':
			p.pos++
			if len(out) > flux.MaxStringLength {
				return "", flux.Errorf(flux.ErrBufferOverflow, "string longer than %d", flux.MaxStringLength)
			}
			return string(out), nil
		case c == '\\':
			p.pos++
			if p.pos >= len(p.buf) {
				return "", p.errf("unterminated escape")
			}
			e := p.buf[p.pos]
			p.pos++
			switch e {
			case '"', '\\', '/':
				out = append(out, e)
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'u':
				r, err := p.unicode()
				if err != nil {
					return "", err
				}
				out = utf8.AppendRune(out, r)
			default:
				return "", p.errf("bad escape %q", e)
			}
		case c < 0x20:
			return "", p.errf("raw control character in string")
		default:
			out = append(out, c)
			p.pos++
		}
	}
	return "", p.errf("unterminated string")
}

func (p *parser) unicode() (rune, error) {
	r, err := p.hex4()
	if err != nil {
		return 0, err
	}
	if utf16.IsSurrogate(r) {
		if p.pos+1 < len(p.buf) && p.buf[p.pos] == '\\' && p.buf[p.pos+1] == 'u' {
			p.pos += 2
			r2, err := p.hex4()
			if err != nil {
				return 0, err
			}
			if got := utf16.DecodeRune(r, r2); got != utf8.RuneError {
				return got, nil
			}
		}
		return utf8.RuneError, nil
	}
	return r, nil
}

func (p *parser) hex4() (rune, error) {
	if p.pos+4 > len(p.buf) {
		return 0, p.errf("truncated \\u escape")
	}
	var r rune
	for i := 0; i < 4; i++ {
		c := p.buf[p.pos+i]
		switch {
		case c >= '0' && c <= '9':
			r = r<<4 | rune(c-'0')
		case c >= 'a' && c <= 'f':
			r = r<<4 | rune(c-'a'+10)
		case c >= 'A' && c <= 'F':
			r = r<<4 | rune(c-'A'+10)
		default:
			return 0, p.errf("bad hex digit %q", c)
		}
	}
	p.pos += 4
	return r, nil
}

func (p *parser) number() (Value, error) {
	start := p.pos
	if p.buf[p.pos] == '-' {
		p.pos++
	}
	digits := 0
	for p.pos < len(p.buf) && p.buf[p.pos] >= '0' && p.buf[p.pos] <= '9' {
		p.pos++
		digits++
	}
	if digits == 0 {
		return nil, p.errf("bad number at offset %d", start)
	}
	integral := true
	if p.pos < len(p.buf) && p.buf[p.pos] == '.' {
		integral = false
		p.pos++
		frac := 0
		for p.pos < len(p.buf) && p.buf[p.pos] >= '0' && p.buf[p.pos] <= '9' {
			p.pos++
			frac++
		}
		if frac == 0 {
			return nil, p.errf("bad fraction at offset %d", start)
		}
	}
	if p.pos < len(p.buf) && (p.buf[p.pos] == 'e' || p.buf[p.pos] == 'E') {
		integral = false
		p.pos++
		if p.pos < len(p.buf) && (p.buf[p.pos] == '+' || p.buf[p.pos] == '-') {
			p.pos++
		}
		exp := 0
		for p.pos < len(p.buf) && p.buf[p.pos] >= '0' && p.buf[p.pos] <= '9' {
			p.pos++
			exp++
		}
		if exp == 0 {
			return nil, p.errf("bad exponent at offset %d", start)
		}
	}
	text := string(p.buf[start:p.pos])
	if integral {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(n), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errf("bad number %q", text)
	}
	return Float(f), nil
}
