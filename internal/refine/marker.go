// internal/refine/marker.go
package refine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

// Marker vocabulary shared by the encoder and the stripper.
const (
	selectedOpen  = "[[SELECTED FOR MODIFICATION:"
	preserveOpen  = "[[PRESERVE:"
	indexClose    = "]]"
	selectedClose = "[[END SELECTED]]"
	preserveClose = "[[END PRESERVE]]"
)

var (
	// complete opening markers, tolerant of the spacing agents tend to rewrite
	openMarkerPattern = regexp.MustCompile(
		`(?:` + regexp.QuoteMeta(selectedOpen) + `|` + regexp.QuoteMeta(preserveOpen) + `)` +
			`\s*\d*\s*` + regexp.QuoteMeta(indexClose))

	closeMarkers = []string{selectedClose, preserveClose}

	// bare prefixes go last, once no complete marker can still be reassembled
	markerFragments = []string{selectedClose, preserveClose, selectedOpen, preserveOpen}
)

// AnnotatedLine is one script line with both fields wrapped in markers.
type AnnotatedLine struct {
	Index        int
	Selected     bool
	Line         string
	ArtDirection string
}

// Annotated is the marked-up copy of a script sent to the agent. It is never persisted.
type Annotated []AnnotatedLine

// Render serializes the annotated script as a JSON array of [line, direction] pairs,
// one pair per row.
func (a Annotated) Render() string {
	if len(a) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteString("[\n")
	for i, l := range a {
		b.WriteString("  [")
		b.WriteString(quoteJSON(l.Line))
		b.WriteString(", ")
		b.WriteString(quoteJSON(l.ArtDirection))
		b.WriteString("]")
		if i < len(a)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("]")
	return b.String()
}

// Encode wraps every line of original in SELECTED or PRESERVE markers and builds
// the instruction that tells the agent which lines it may touch.
func Encode(original models.Script, selected models.SelectionSet) (Annotated, string) {
	annotated := make(Annotated, len(original))
	for i, l := range original {
		isSelected := selected.Contains(i)
		annotated[i] = AnnotatedLine{
			Index:        i,
			Selected:     isSelected,
			Line:         wrap(l.Line, i, isSelected),
			ArtDirection: wrap(l.ArtDirection, i, isSelected),
		}
	}
	return annotated, instruction(len(original), selected.Within(len(original)))
}

func wrap(text string, index int, selected bool) string {
	if selected {
		return selectedOpen + " " + strconv.Itoa(index) + indexClose + " " + text + " " + selectedClose
	}
	return preserveOpen + " " + strconv.Itoa(index) + indexClose + " " + text + " " + preserveClose
}

func instruction(length int, indices []int) string {
	lines := []string{
		"Every line of the script below is wrapped in markers that carry its index.",
		fmt.Sprintf("1. Only content wrapped in %s i%s ... %s may be changed.", selectedOpen, indexClose, selectedClose),
		fmt.Sprintf("2. Content wrapped in %s i%s ... %s must be returned unmodified and verbatim.", preserveOpen, indexClose, preserveClose),
	}

	if len(indices) == 0 {
		lines = append(lines, "3. No line is selected for modification: every line must be returned exactly as given.")
	} else {
		parts := make([]string, len(indices))
		for i, idx := range indices {
			parts[i] = strconv.Itoa(idx)
		}
		lines = append(lines, "3. Lines selected for modification: "+strings.Join(parts, ", ")+".")
	}

	lines = append(lines, fmt.Sprintf(
		"4. Return exactly %d entries in the original order as a JSON array of [\"line\", \"art direction\"] pairs, with all markers removed and no other text.",
		length))
	return strings.Join(lines, "\n")
}

// StripText removes every marker substring from s. It is idempotent and leaves
// text that never contained a marker untouched. Surrounding whitespace is
// trimmed only when something was removed.
func StripText(s string) string {
	out, removed := s, false
	for {
		next := openMarkerPattern.ReplaceAllString(out, "")
		for _, tag := range closeMarkers {
			next = strings.ReplaceAll(next, tag, "")
		}
		if next == out {
			next = strings.ReplaceAll(next, selectedOpen, "")
			next = strings.ReplaceAll(next, preserveOpen, "")
		}
		if next == out {
			break
		}
		out, removed = next, true
	}
	if removed {
		out = strings.TrimSpace(out)
	}
	return out
}

// ContainsMarker reports whether s still carries any marker substring.
func ContainsMarker(s string) bool {
	if openMarkerPattern.MatchString(s) {
		return true
	}
	for _, frag := range markerFragments {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}

func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
