// internal/models/script.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScriptLine is one spoken line of an ad script together with its performance note.
type ScriptLine struct {
	Line         string `json:"line"`
	ArtDirection string `json:"artDirection"`
}

// Equal reports positional equality: both fields match byte for byte.
func (l ScriptLine) Equal(other ScriptLine) bool {
	return l.Line == other.Line && l.ArtDirection == other.ArtDirection
}

// UnmarshalJSON accepts both the object form {"line": ..., "artDirection": ...}
// and the pair form ["line", "direction"] that older clients send.
func (l *ScriptLine) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []string
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return fmt.Errorf("script line pair: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("script line pair: expected 2 elements, got %d", len(pair))
		}
		l.Line, l.ArtDirection = pair[0], pair[1]
		return nil
	}

	type plain ScriptLine
	var obj plain
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("script line: %w", err)
	}
	*l = ScriptLine(obj)
	return nil
}

// Script is an ordered sequence of lines. The index is the unit of addressing.
type Script []ScriptLine

// Clone returns an independent copy.
func (s Script) Clone() Script {
	if s == nil {
		return nil
	}
	out := make(Script, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both scripts are positionally equal at every index.
func (s Script) Equal(other Script) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if !s[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Pairs returns the script as [line, direction] tuples.
func (s Script) Pairs() [][2]string {
	out := make([][2]string, len(s))
	for i, l := range s {
		out[i] = [2]string{l.Line, l.ArtDirection}
	}
	return out
}

// SpokenText joins the spoken lines with single spaces, ignoring art direction.
func (s Script) SpokenText() string {
	parts := make([]string, 0, len(s))
	for _, l := range s {
		parts = append(parts, l.Line)
	}
	return strings.Join(parts, " ")
}

// SelectionSet is the set of original indices a refinement may modify.
type SelectionSet map[int]struct{}

// NewSelectionSet builds a set from indices. Negative indices are dropped.
func NewSelectionSet(indices ...int) SelectionSet {
	set := make(SelectionSet, len(indices))
	for _, i := range indices {
		if i >= 0 {
			set[i] = struct{}{}
		}
	}
	return set
}

// Contains reports membership. A nil set contains nothing.
func (s SelectionSet) Contains(i int) bool {
	_, ok := s[i]
	return ok
}

// Len returns the number of indices in the set.
func (s SelectionSet) Len() int {
	return len(s)
}

// Sorted returns the indices in ascending order.
func (s SelectionSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Within returns the sorted indices that address a script of the given length.
func (s SelectionSet) Within(length int) []int {
	out := make([]int, 0, len(s))
	for _, i := range s.Sorted() {
		if i < length {
			out = append(out, i)
		}
	}
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s SelectionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of indices.
func (s *SelectionSet) UnmarshalJSON(data []byte) error {
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return fmt.Errorf("selection: %w", err)
	}
	*s = NewSelectionSet(indices...)
	return nil
}

// RevertedChange records an edit the agent made to a line it was not allowed to touch.
type RevertedChange struct {
	Index     int        `json:"index"`
	Original  ScriptLine `json:"original"`
	Attempted ScriptLine `json:"attempted"`
}

// ValidationMetadata is the audit record of one reconciliation.
type ValidationMetadata struct {
	RevertedChanges        []RevertedChange `json:"reverted_changes"`
	HadUnauthorizedChanges bool             `json:"had_unauthorized_changes"`
	HadLengthMismatch      bool             `json:"had_length_mismatch"`
	OriginalLength         int              `json:"original_length"`
	ReceivedLength         int              `json:"received_length"`
	Error                  string           `json:"error,omitempty"`
	Strategy               string           `json:"strategy,omitempty"`
}

// AdLength is the ad duration in seconds. It decodes from 30 or "30s".
type AdLength int

func (a *AdLength) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = 0
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		raw = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(raw)), "s")
		if raw == "" {
			*a = 0
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("ad length %q: %w", raw, err)
		}
		*a = AdLength(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("ad length: %w", err)
	}
	*a = AdLength(n)
	return nil
}

// String renders the length the way prompts expect it, e.g. "30s".
func (a AdLength) String() string {
	return strconv.Itoa(int(a)) + "s"
}

// AdBrief holds the product inputs for generating a script.
type AdBrief struct {
	ProductName      string   `json:"product_name" toml:"product_name"`
	TargetAudience   string   `json:"target_audience" toml:"target_audience"`
	KeySellingPoints string   `json:"key_selling_points" toml:"key_selling_points"`
	Tone             string   `json:"tone" toml:"tone"`
	AdLength         AdLength `json:"ad_length" toml:"ad_length"`
	SpeakerVoice     string   `json:"speaker_voice,omitempty" toml:"speaker_voice"`
}

// RefineRequest asks the agent to rewrite the selected lines of a script.
type RefineRequest struct {
	ScriptID               string       `json:"script_id,omitempty"`
	SelectedSentences      SelectionSet `json:"selected_sentences"`
	ImprovementInstruction string       `json:"improvement_instruction"`
	CurrentScript          Script       `json:"current_script"`
	ProductName            string       `json:"product_name,omitempty"`
	TargetAudience         string       `json:"target_audience,omitempty"`
	KeySellingPoints       string       `json:"key_selling_points,omitempty"`
	Tone                   string       `json:"tone,omitempty"`
	AdLength               AdLength     `json:"ad_length,omitempty"`
	SpeakerVoice           string       `json:"speaker_voice,omitempty"`
}

// Brief collects the ad inputs carried alongside the script.
func (r RefineRequest) Brief() AdBrief {
	return AdBrief{
		ProductName:      r.ProductName,
		TargetAudience:   r.TargetAudience,
		KeySellingPoints: r.KeySellingPoints,
		Tone:             r.Tone,
		AdLength:         r.AdLength,
		SpeakerVoice:     r.SpeakerVoice,
	}
}

// Revision is one stored version of a script.
type Revision struct {
	ScriptID    string              `json:"script_id"`
	Number      int                 `json:"number"`
	Lines       Script              `json:"script"`
	Instruction string              `json:"instruction,omitempty"`
	Selected    SelectionSet        `json:"selected,omitempty"`
	Validation  *ValidationMetadata `json:"validation,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ScriptSession is a generated script with its revision history head.
type ScriptSession struct {
	ID        string    `json:"script_id"`
	Brief     AdBrief   `json:"brief"`
	Latest    Revision  `json:"latest"`
	CreatedAt time.Time `json:"created_at"`
}
