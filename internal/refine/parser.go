// internal/refine/parser.go
package refine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

// Strategy names reported in ValidationMetadata.Strategy.
const (
	StrategyStructured = "structured"
	StrategyLiteral    = "literal"
	StrategyPattern    = "pattern"
)

// ErrParse is returned when no decoder produced a single line/direction pair.
var ErrParse = errors.New("no decode strategy produced script lines")

var errNoPairs = errors.New("no line/direction pairs found")

// Decoder turns raw agent text into script lines under one serialization dialect.
type Decoder interface {
	Name() string
	Decode(raw string) (models.Script, error)
}

// DefaultDecoders returns the decoders in the order Parse tries them.
func DefaultDecoders() []Decoder {
	return []Decoder{structuredDecoder{}, literalDecoder{}, patternDecoder{}}
}

// Parse decodes raw with the default decoders.
func Parse(raw string) (models.Script, string, error) {
	return ParseWith(raw, DefaultDecoders()...)
}

// ParseWith tries each decoder in order and returns the first non-empty result
// together with the decoder's name.
func ParseWith(raw string, decoders ...Decoder) (models.Script, string, error) {
	var errs []error
	for _, d := range decoders {
		script, err := d.Decode(raw)
		if err == nil && len(script) > 0 {
			return script, d.Name(), nil
		}
		if err == nil {
			err = errNoPairs
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	return nil, "", fmt.Errorf("%w: %w", ErrParse, errors.Join(errs...))
}

// structuredDecoder reads a JSON array, tolerating code fences, surrounding prose
// and stray terminators before closing brackets. Every '[' is tried as the start
// of the payload, so brackets in leading prose do not hide it.
type structuredDecoder struct{}

func (structuredDecoder) Name() string { return StrategyStructured }

func (structuredDecoder) Decode(raw string) (models.Script, error) {
	s := stripCodeFences(raw)
	var firstErr error
	for start := strings.IndexByte(s, '['); start >= 0; start = nextIndex(s, start, "[") {
		out, err := decodeStructuredArray(repairTerminators(s[start:]))
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		return nil, errors.New("no array found")
	}
	return nil, firstErr
}

// decodeStructuredArray decodes the first JSON value of s, ignoring anything after it.
func decodeStructuredArray(s string) (models.Script, error) {
	var elems []json.RawMessage
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&elems); err != nil {
		return nil, err
	}

	out := make(models.Script, 0, len(elems))
	for _, elem := range elems {
		if line, ok := decodeStructuredLine(elem); ok {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, errNoPairs
	}
	return out, nil
}

// nextIndex returns the position of the next byte from chars after from, or -1.
func nextIndex(s string, from int, chars string) int {
	i := strings.IndexAny(s[from+1:], chars)
	if i < 0 {
		return -1
	}
	return from + 1 + i
}

// decodeStructuredLine accepts ["line", "direction"] or {"line": ..., "artDirection": ...}.
func decodeStructuredLine(elem json.RawMessage) (models.ScriptLine, bool) {
	var pair []json.RawMessage
	if err := json.Unmarshal(elem, &pair); err == nil {
		if len(pair) != 2 {
			return models.ScriptLine{}, false
		}
		var line, direction string
		if json.Unmarshal(pair[0], &line) != nil || json.Unmarshal(pair[1], &direction) != nil {
			return models.ScriptLine{}, false
		}
		return models.ScriptLine{Line: line, ArtDirection: direction}, true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(elem, &obj); err != nil {
		return models.ScriptLine{}, false
	}
	rawLine, okLine := obj["line"]
	rawDirection, okDirection := obj["artDirection"]
	if !okLine || !okDirection {
		return models.ScriptLine{}, false
	}
	var line, direction string
	if json.Unmarshal(rawLine, &line) != nil || json.Unmarshal(rawDirection, &direction) != nil {
		return models.ScriptLine{}, false
	}
	return models.ScriptLine{Line: line, ArtDirection: direction}, true
}

// literalDecoder reads source-literal nested sequences such as
// [("line", 'direction'), ...].
type literalDecoder struct{}

func (literalDecoder) Name() string { return StrategyLiteral }

func (literalDecoder) Decode(raw string) (models.Script, error) {
	s := stripCodeFences(raw)
	start := strings.IndexAny(s, "[(")
	if start < 0 {
		return nil, errors.New("no sequence found")
	}

	var firstErr error
	for ; start >= 0; start = nextIndex(s, start, "[(") {
		out, err := decodeLiteralAt(s, start)
		if err == nil {
			return out, nil
		}
		if firstErr == nil || errors.Is(firstErr, errNoPairs) {
			firstErr = err
		}
	}
	return nil, firstErr
}

func decodeLiteralAt(s string, start int) (models.Script, error) {
	p := &literalParser{src: s, pos: start}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	out := make(models.Script, 0, len(v.items))
	for _, item := range v.items {
		if item.kind != literalSeq || len(item.items) != 2 {
			continue
		}
		if item.items[0].kind != literalString || item.items[1].kind != literalString {
			continue
		}
		out = append(out, models.ScriptLine{Line: item.items[0].str, ArtDirection: item.items[1].str})
	}
	if len(out) == 0 {
		return nil, errNoPairs
	}
	return out, nil
}

var pairPattern = regexp.MustCompile(`\(\s*"((?:[^"\\]|\\.)*)"\s*,\s*"((?:[^"\\]|\\.)*)"\s*\)`)

var patternUnescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\n`, "\n", `\t`, "\t")

// patternDecoder scans for ("line", "direction") groups anywhere in the text.
type patternDecoder struct{}

func (patternDecoder) Name() string { return StrategyPattern }

func (patternDecoder) Decode(raw string) (models.Script, error) {
	matches := pairPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, errNoPairs
	}
	out := make(models.Script, 0, len(matches))
	for _, m := range matches {
		out = append(out, models.ScriptLine{
			Line:         patternUnescaper.Replace(m[1]),
			ArtDirection: patternUnescaper.Replace(m[2]),
		})
	}
	return out, nil
}

// stripCodeFences returns the body of the first fenced block if one exists,
// otherwise the trimmed text.
func stripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	rest := s[open+3:]
	// drop the language tag line, e.g. ```json
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// repairTerminators drops a ',' '.' or ';' that sits outside a string and is
// followed, after optional whitespace, by ']' or ')'.
func repairTerminators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}
		if ch == ',' || ch == '.' || ch == ';' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == ')') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
