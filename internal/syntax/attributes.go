package syntax

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxAttributes bounds the number of pairs accepted from one tag string.
const MaxAttributes = 512

var ErrMalformedAttributeFormat = errors.New("malformed attribute format")

// MalformedAttributeError points at the byte of the rewritten tag where
// parsing stopped.
type MalformedAttributeError struct {
	Offset int
	Reason string
}

func (e *MalformedAttributeError) Error() string {
	return fmt.Sprintf("%s at offset %d: %s", ErrMalformedAttributeFormat, e.Offset, e.Reason)
}

func (e *MalformedAttributeError) Unwrap() error {
	return ErrMalformedAttributeFormat
}

// AttributeMap is an insertion-ordered string map. It marshals to a JSON
// object with keys in insertion order.
type AttributeMap struct {
	keys   []string
	values map[string]string
}

func NewAttributeMap() AttributeMap {
	return AttributeMap{values: make(map[string]string)}
}

// Set stores value under key. An existing key keeps its position.
func (m *AttributeMap) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m AttributeMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m AttributeMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

func (m AttributeMap) Len() int {
	return len(m.keys)
}

func (m AttributeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the order of the keys in data.
func (m *AttributeMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("attribute map: expected object, got %v", tok)
	}

	*m = NewAttributeMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("attribute map: unexpected key %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("attribute map: value of %q: %w", key, err)
		}
		m.Set(key, value)
	}

	_, err = dec.Token()
	return err
}

var attributeRewrites = []struct{ old, new string }{
	{"attribute { name: ", ""},
	{" value: ", ": "},
	{" } ", ",\n"},
}

// ParseAttributes converts a token tag of the form
//
//	attribute { name: "Number" value: "Sing" } attribute { name: "fPOS" value: "NOUN++NC" }
//
// into an ordered map. The blocks are first rewritten into a
// `"key": "value",` list, which is then read by a small string-only parser.
func ParseAttributes(tag string) (AttributeMap, error) {
	attrs := NewAttributeMap()

	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return attrs, nil
	}

	if !strings.HasSuffix(trimmed, "}") {
		return AttributeMap{}, &MalformedAttributeError{Offset: len(trimmed), Reason: "missing closing brace"}
	}

	text := trimmed + " "
	for _, r := range attributeRewrites {
		text = strings.ReplaceAll(text, r.old, r.new)
	}

	p := &pairParser{src: text}
	if err := p.parse(&attrs); err != nil {
		return AttributeMap{}, err
	}
	return attrs, nil
}

// pairParser reads: ws { string ws ":" ws string ws [ "," ] ws }
type pairParser struct {
	src string
	pos int
}

func (p *pairParser) parse(attrs *AttributeMap) error {
	count := 0
	p.skipSpace()
	for p.pos < len(p.src) {
		if count == MaxAttributes {
			return p.fail("more than %d attributes", MaxAttributes)
		}

		key, err := p.quoted()
		if err != nil {
			return err
		}
		p.skipSpace()
		if !p.consume(':') {
			return p.fail("expected ':' after key %q", key)
		}
		p.skipSpace()
		value, err := p.quoted()
		if err != nil {
			return err
		}

		attrs.Set(key, value)
		count++

		p.skipSpace()
		if p.pos == len(p.src) {
			break
		}
		if !p.consume(',') {
			return p.fail("expected ',' after value of %q", key)
		}
		p.skipSpace()
	}
	return nil
}

func (p *pairParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			p.pos++
		default:
			return
		}
	}
}

func (p *pairParser) consume(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *pairParser) fail(format string, args ...any) error {
	return &MalformedAttributeError{Offset: p.pos, Reason: fmt.Sprintf(format, args...)}
}

// quoted reads a single- or double-quoted literal. Octal and \x escapes
// produce raw bytes, which is how text-format protos carry UTF-8.
func (p *pairParser) quoted() (string, error) {
	if p.pos >= len(p.src) {
		return "", p.fail("unexpected end of input, expected string")
	}
	quote := p.src[p.pos]
	if quote != '"' && quote != '\'' {
		return "", p.fail("expected string, found %q", p.src[p.pos])
	}
	start := p.pos
	p.pos++

	var out []byte
	for {
		if p.pos >= len(p.src) {
			p.pos = start
			return "", p.fail("unterminated string")
		}
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			if !utf8.Valid(out) {
				return "", p.fail("string is not valid UTF-8")
			}
			return string(out), nil
		case c == '\n':
			return "", p.fail("newline in string")
		case c == '\\':
			b, err := p.escape()
			if err != nil {
				return "", err
			}
			out = append(out, b...)
		default:
			out = append(out, c)
			p.pos++
		}
	}
}

func (p *pairParser) escape() ([]byte, error) {
	p.pos++ // backslash
	if p.pos >= len(p.src) {
		return nil, p.fail("unterminated escape")
	}
	c := p.src[p.pos]
	p.pos++

	switch c {
	case '\\', '\'', '"':
		return []byte{c}, nil
	case 'n':
		return []byte{'\n'}, nil
	case 't':
		return []byte{'\t'}, nil
	case 'r':
		return []byte{'\r'}, nil
	case 'a':
		return []byte{'\a'}, nil
	case 'b':
		return []byte{'\b'}, nil
	case 'f':
		return []byte{'\f'}, nil
	case 'v':
		return []byte{'\v'}, nil
	case 'x':
		v, err := p.digits(2, 16)
		if err != nil {
			return nil, err
		}
		return []byte{byte(v)}, nil
	case 'u':
		v, err := p.digits(4, 16)
		if err != nil {
			return nil, err
		}
		return utf8.AppendRune(nil, rune(v)), nil
	case '0', '1', '2', '3', '4', '5', '6', '7':
		p.pos--
		n := 0
		for n < 3 && p.pos+n < len(p.src) && p.src[p.pos+n] >= '0' && p.src[p.pos+n] <= '7' {
			n++
		}
		v, err := p.digits(n, 8)
		if err != nil {
			return nil, err
		}
		if v > 0xff {
			return nil, p.fail("octal escape out of range")
		}
		return []byte{byte(v)}, nil
	}
	return nil, p.fail("unknown escape \\%c", c)
}

func (p *pairParser) digits(n int, base int) (uint64, error) {
	if p.pos+n > len(p.src) {
		return 0, p.fail("truncated escape")
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+n], base, 32)
	if err != nil {
		return 0, p.fail("invalid escape digits %q", p.src[p.pos:p.pos+n])
	}
	p.pos += n
	return v, nil
}
