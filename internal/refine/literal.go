// internal/refine/literal.go
package refine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

type literalKind int

const (
	literalScalar literalKind = iota
	literalString
	literalSeq
)

type literalValue struct {
	kind  literalKind
	str   string
	items []literalValue
}

// literalParser reads list/tuple literals of quoted strings. Scalars such as
// numbers, None or True are accepted and reported as literalScalar so that
// the shape filter can skip them.
type literalParser struct {
	src string
	pos int
}

func (p *literalParser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("literal at offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *literalParser) parseValue() (literalValue, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return literalValue{}, p.errorf("unexpected end of input")
	}
	switch ch := p.src[p.pos]; ch {
	case '[':
		return p.parseSeq(']')
	case '(':
		return p.parseSeq(')')
	case '"', '\'':
		return p.parseStrings()
	default:
		return p.parseScalar()
	}
}

func (p *literalParser) parseSeq(closer byte) (literalValue, error) {
	p.pos++ // opener
	v := literalValue{kind: literalSeq}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return literalValue{}, p.errorf("unterminated sequence")
		}
		if p.src[p.pos] == closer {
			p.pos++
			return v, nil
		}

		item, err := p.parseValue()
		if err != nil {
			return literalValue{}, err
		}
		v.items = append(v.items, item)

		p.skipSpace()
		if p.pos >= len(p.src) {
			return literalValue{}, p.errorf("unterminated sequence")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case closer:
			p.pos++
			return v, nil
		default:
			return literalValue{}, p.errorf("unexpected %q in sequence", p.src[p.pos])
		}
	}
}

// parseStrings reads one quoted string plus any adjacent quoted strings,
// which the literal syntax concatenates.
func (p *literalParser) parseStrings() (literalValue, error) {
	var b strings.Builder
	for {
		s, err := p.parseQuoted()
		if err != nil {
			return literalValue{}, err
		}
		b.WriteString(s)

		save := p.pos
		p.skipSpace()
		if p.pos < len(p.src) && (p.src[p.pos] == '"' || p.src[p.pos] == '\'') {
			continue
		}
		p.pos = save
		return literalValue{kind: literalString, str: b.String()}, nil
	}
}

func (p *literalParser) parseQuoted() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch {
		case ch == quote:
			p.pos++
			return b.String(), nil
		case ch == '\n':
			return "", p.errorf("newline in string")
		case ch == '\\':
			if err := p.parseEscape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(ch)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *literalParser) parseEscape(b *strings.Builder) error {
	if p.pos+1 >= len(p.src) {
		return p.errorf("dangling escape")
	}
	esc := p.src[p.pos+1]
	p.pos += 2
	switch esc {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case '\\', '\'', '"':
		b.WriteByte(esc)
	case '\n':
		// line continuation
	case 'x':
		return p.writeCodePoint(b, 2)
	case 'u':
		return p.writeCodePoint(b, 4)
	case 'U':
		return p.writeCodePoint(b, 8)
	default:
		// unknown escapes keep their backslash
		b.WriteByte('\\')
		b.WriteByte(esc)
	}
	return nil
}

func (p *literalParser) writeCodePoint(b *strings.Builder, digits int) error {
	if p.pos+digits > len(p.src) {
		return p.errorf("truncated escape")
	}
	n, err := strconv.ParseUint(p.src[p.pos:p.pos+digits], 16, 32)
	if err != nil {
		return p.errorf("bad escape %q", p.src[p.pos:p.pos+digits])
	}
	r := rune(n)
	if !utf8.ValidRune(r) {
		return p.errorf("invalid code point %x", n)
	}
	b.WriteRune(r)
	p.pos += digits
	return nil
}

func (p *literalParser) parseScalar() (literalValue, error) {
	start := p.pos
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == ',' || ch == ']' || ch == ')' || isSpace(ch) {
			break
		}
		if ch == '[' || ch == '(' || ch == '"' || ch == '\'' {
			return literalValue{}, p.errorf("unexpected %q", ch)
		}
		p.pos++
	}
	if p.pos == start {
		return literalValue{}, p.errorf("unexpected %q", p.src[p.pos])
	}
	return literalValue{kind: literalScalar, str: p.src[start:p.pos]}, nil
}
