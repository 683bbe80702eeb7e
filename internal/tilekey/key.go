// Package tilekey encodes tile identities into flat cache keys.
//
// A key looks like
//
//	EPSG_3A4326+3+5+12+roads+default+TIME=2024-01-01
//
// Fields are joined with '+'. Inside a field every byte outside [A-Za-z0-9-]
// is written as '_' followed by two upper-case hex digits, so the separator,
// path separators and filesystem-reserved characters never appear raw.
// Dimensions are appended as name=value pairs sorted by name.
package tilekey

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	fieldSep = '+'
	pairSep  = '='
	escByte  = '_'
	hexDigit = "0123456789ABCDEF"

	// set, level, row, col, layer, style
	fixedFields = 6
)

var ErrMalformedKey = errors.New("malformed tile key")

// Key identifies one tile request.
type Key struct {
	MatrixSet  string
	Level      int
	Row        int
	Col        int
	Layer      string
	Style      string
	Dimensions map[string]string
}

// Encode returns the canonical string form of k. Equal keys always encode to
// the same string and the encoding can be reversed with Decode.
func (k Key) Encode() string {
	var b strings.Builder
	b.Grow(64)

	escape(&b, k.MatrixSet)
	b.WriteByte(fieldSep)
	b.WriteString(strconv.Itoa(k.Level))
	b.WriteByte(fieldSep)
	b.WriteString(strconv.Itoa(k.Row))
	b.WriteByte(fieldSep)
	b.WriteString(strconv.Itoa(k.Col))
	b.WriteByte(fieldSep)
	escape(&b, k.Layer)
	b.WriteByte(fieldSep)
	escape(&b, k.Style)

	for _, name := range sortedNames(k.Dimensions) {
		b.WriteByte(fieldSep)
		escape(&b, name)
		b.WriteByte(pairSep)
		escape(&b, k.Dimensions[name])
	}

	return b.String()
}

func (k Key) String() string {
	return k.Encode()
}

// Decode parses a string produced by Encode.
func Decode(s string) (Key, error) {
	fields := strings.Split(s, string(fieldSep))
	if len(fields) < fixedFields {
		return Key{}, fmt.Errorf("%w: expected at least %d fields, got %d", ErrMalformedKey, fixedFields, len(fields))
	}

	var (
		k   Key
		err error
	)

	if k.MatrixSet, err = unescape(fields[0]); err != nil {
		return Key{}, err
	}
	if k.Level, err = parseIndex("level", fields[1]); err != nil {
		return Key{}, err
	}
	if k.Row, err = parseIndex("row", fields[2]); err != nil {
		return Key{}, err
	}
	if k.Col, err = parseIndex("col", fields[3]); err != nil {
		return Key{}, err
	}
	if k.Layer, err = unescape(fields[4]); err != nil {
		return Key{}, err
	}
	if k.Style, err = unescape(fields[5]); err != nil {
		return Key{}, err
	}

	if len(fields) == fixedFields {
		return k, nil
	}

	k.Dimensions = make(map[string]string, len(fields)-fixedFields)
	for _, pair := range fields[fixedFields:] {
		rawName, rawValue, ok := strings.Cut(pair, string(pairSep))
		if !ok {
			return Key{}, fmt.Errorf("%w: dimension %q has no value", ErrMalformedKey, pair)
		}
		name, err := unescape(rawName)
		if err != nil {
			return Key{}, err
		}
		value, err := unescape(rawValue)
		if err != nil {
			return Key{}, err
		}
		if _, dup := k.Dimensions[name]; dup {
			return Key{}, fmt.Errorf("%w: duplicate dimension %q", ErrMalformedKey, name)
		}
		k.Dimensions[name] = value
	}

	return k, nil
}

func sortedNames(dims map[string]string) []string {
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseIndex(field, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", ErrMalformedKey, field, s)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s %d is negative", ErrMalformedKey, field, n)
	}
	return n, nil
}

func isPlain(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}

func escape(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isPlain(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte(escByte)
		b.WriteByte(hexDigit[c>>4])
		b.WriteByte(hexDigit[c&0x0f])
	}
}

func unescape(s string) (string, error) {
	if strings.IndexByte(s, escByte) < 0 {
		for i := 0; i < len(s); i++ {
			if !isPlain(s[i]) {
				return "", fmt.Errorf("%w: unexpected byte %q", ErrMalformedKey, s[i])
			}
		}
		return s, nil
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isPlain(c):
			out = append(out, c)
		case c == escByte:
			if i+2 >= len(s) {
				return "", fmt.Errorf("%w: truncated escape in %q", ErrMalformedKey, s)
			}
			hi, lo := unhex(s[i+1]), unhex(s[i+2])
			if hi < 0 || lo < 0 {
				return "", fmt.Errorf("%w: bad escape in %q", ErrMalformedKey, s)
			}
			out = append(out, byte(hi<<4|lo))
			i += 2
		default:
			return "", fmt.Errorf("%w: unexpected byte %q", ErrMalformedKey, c)
		}
	}
	return string(out), nil
}

// unhex accepts only the upper-case digits Encode writes.
func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
