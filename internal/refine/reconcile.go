// internal/refine/reconcile.go
package refine

import (
	"github.com/Corphon/AdScriptStudio/internal/models"
)

// Reconcile decodes raw agent output and enforces it against original: the result
// always has len(original) lines and every index outside selected equals the
// original line. Failures are reported in the metadata, never returned.
func Reconcile(raw string, original models.Script, selected models.SelectionSet) (models.Script, models.ValidationMetadata) {
	meta := models.ValidationMetadata{
		RevertedChanges: []models.RevertedChange{},
		OriginalLength:  len(original),
	}

	candidate, strategy, err := Parse(raw)
	if err != nil {
		meta.Error = err.Error()
		return original.Clone(), meta
	}
	meta.Strategy = strategy
	meta.ReceivedLength = len(candidate)

	normalized, mismatch := Normalize(candidate, original)
	meta.HadLengthMismatch = mismatch

	verified, reverted := Enforce(StripMarkers(normalized), original, selected)
	if len(reverted) > 0 {
		meta.RevertedChanges = reverted
		meta.HadUnauthorizedChanges = true
	}
	return verified, meta
}

// Normalize truncates or pads candidate to the length of original. Padding copies
// the original lines at the missing trailing indices. The bool reports whether
// the lengths differed.
func Normalize(candidate, original models.Script) (models.Script, bool) {
	out := make(models.Script, len(original))
	n := copy(out, candidate)
	copy(out[n:], original[n:])
	return out, len(candidate) != len(original)
}

// StripMarkers returns a copy of s with markers removed from both fields of every line.
func StripMarkers(s models.Script) models.Script {
	out := make(models.Script, len(s))
	for i, l := range s {
		out[i] = models.ScriptLine{Line: StripText(l.Line), ArtDirection: StripText(l.ArtDirection)}
	}
	return out
}

// Enforce compares candidate with original index by index. Selected indices
// keep the candidate line; any other index that differs is reverted and recorded.
// candidate must already be normalized to len(original).
func Enforce(candidate, original models.Script, selected models.SelectionSet) (models.Script, []models.RevertedChange) {
	verified := make(models.Script, len(original))
	var reverted []models.RevertedChange
	for i := range original {
		attempted := original[i]
		if i < len(candidate) {
			attempted = candidate[i]
		}
		switch {
		case selected.Contains(i):
			verified[i] = attempted
		case attempted.Equal(original[i]):
			verified[i] = original[i]
		default:
			reverted = append(reverted, models.RevertedChange{
				Index:     i,
				Original:  original[i],
				Attempted: attempted,
			})
			verified[i] = original[i]
		}
	}
	return verified, reverted
}
