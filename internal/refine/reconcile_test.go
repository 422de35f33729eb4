package refine

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

func fourLines() models.Script {
	return models.Script{
		{Line: "Original line 1", ArtDirection: "Original art direction 1"},
		{Line: "Original line 2", ArtDirection: "Original art direction 2"},
		{Line: "Original line 3", ArtDirection: "Original art direction 3"},
		{Line: "Original line 4", ArtDirection: "Original art direction 4"},
	}
}

func TestReconcileOnlyAuthorizedChanges(t *testing.T) {
	raw := `[
        ("Original line 1", "Original art direction 1"),
        ("Modified line 2", "Modified art direction 2"),
        ("Modified line 3", "Modified art direction 3"),
        ("Original line 4", "Original art direction 4")
    ]`
	want := models.Script{
		{Line: "Original line 1", ArtDirection: "Original art direction 1"},
		{Line: "Modified line 2", ArtDirection: "Modified art direction 2"},
		{Line: "Modified line 3", ArtDirection: "Modified art direction 3"},
		{Line: "Original line 4", ArtDirection: "Original art direction 4"},
	}

	got, meta := Reconcile(raw, fourLines(), models.NewSelectionSet(1, 2))

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("verified script mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, meta.HadUnauthorizedChanges)
	assert.False(t, meta.HadLengthMismatch)
	assert.Empty(t, meta.RevertedChanges)
	assert.Equal(t, 4, meta.OriginalLength)
	assert.Equal(t, 4, meta.ReceivedLength)
	assert.Equal(t, StrategyLiteral, meta.Strategy)
	assert.Empty(t, meta.Error)
}

func TestReconcileRevertsUnauthorizedChanges(t *testing.T) {
	raw := `[
        ("THIS SHOULD BE REVERTED", "THIS SHOULD ALSO BE REVERTED"),
        ("Modified line 2", "Modified art direction 2"),
        ("THIS SHOULD BE REVERTED TOO", "AND THIS"),
        ("YET ANOTHER UNAUTHORIZED CHANGE", "ANOTHER ONE")
    ]`
	original := fourLines()

	got, meta := Reconcile(raw, original, models.NewSelectionSet(1))

	require.Len(t, got, 4)
	assert.Equal(t, original[0], got[0])
	assert.Equal(t, models.ScriptLine{Line: "Modified line 2", ArtDirection: "Modified art direction 2"}, got[1])
	assert.Equal(t, original[2], got[2])
	assert.Equal(t, original[3], got[3])

	assert.True(t, meta.HadUnauthorizedChanges)
	assert.False(t, meta.HadLengthMismatch)
	require.Len(t, meta.RevertedChanges, 3)

	indices := []int{meta.RevertedChanges[0].Index, meta.RevertedChanges[1].Index, meta.RevertedChanges[2].Index}
	assert.Equal(t, []int{0, 2, 3}, indices)
	assert.Equal(t, models.RevertedChange{
		Index:     2,
		Original:  original[2],
		Attempted: models.ScriptLine{Line: "THIS SHOULD BE REVERTED TOO", ArtDirection: "AND THIS"},
	}, meta.RevertedChanges[1])
}

func TestReconcilePadsMissingLines(t *testing.T) {
	raw := `[
        ("Original line 1", "Original art direction 1"),
        ("Original line 2", "Original art direction 2")
    ]`

	got, meta := Reconcile(raw, fourLines(), models.NewSelectionSet(2, 3))

	assert.Equal(t, fourLines(), got)
	assert.True(t, meta.HadLengthMismatch)
	assert.Equal(t, 2, meta.ReceivedLength)
	assert.Equal(t, 4, meta.OriginalLength)
	assert.False(t, meta.HadUnauthorizedChanges)
	assert.Empty(t, meta.RevertedChanges)
}

func TestReconcileTruncatesExtraLines(t *testing.T) {
	raw := `[
        ("Modified line 1", "Modified art direction 1"),
        ("Original line 2", "Original art direction 2"),
        ("Original line 3", "Original art direction 3"),
        ("Original line 4", "Original art direction 4"),
        ("EXTRA LINE THAT SHOULD BE REMOVED", "EXTRA ART DIRECTION")
    ]`

	got, meta := Reconcile(raw, fourLines(), models.NewSelectionSet(0))

	require.Len(t, got, 4)
	assert.Equal(t, models.ScriptLine{Line: "Modified line 1", ArtDirection: "Modified art direction 1"}, got[0])
	assert.Equal(t, fourLines()[1:], got[1:])
	assert.True(t, meta.HadLengthMismatch)
	assert.Equal(t, 5, meta.ReceivedLength)
	assert.False(t, meta.HadUnauthorizedChanges)
}

func TestReconcileGarbageFallsBackToOriginal(t *testing.T) {
	original := fourLines()

	got, meta := Reconcile("I'm sorry, I can't do that right now.", original, models.NewSelectionSet(1))

	assert.Equal(t, original, got)
	assert.NotEmpty(t, meta.Error)
	assert.Equal(t, 0, meta.ReceivedLength)
	assert.Equal(t, 4, meta.OriginalLength)
	assert.False(t, meta.HadUnauthorizedChanges)
	assert.Empty(t, meta.Strategy)

	got[0].Line = "mutated"
	assert.Equal(t, "Original line 1", original[0].Line, "fallback must not alias the caller's script")
}

func TestReconcileStripsLeftoverMarkers(t *testing.T) {
	original := fourLines()[:3]
	raw := `[
        ("[[PRESERVE: 0]] Original line 1 [[END PRESERVE]]", "[[PRESERVE: 0]] Original art direction 1 [[END PRESERVE]]"),
        ("[[SELECTED FOR MODIFICATION: 1]] Modified line 2 [[END SELECTED]]", "[[SELECTED FOR MODIFICATION: 1]] Modified art direction 2 [[END SELECTED]]"),
        ("[[PRESERVE: 2]] Original line 3 [[END PRESERVE]]", "[[PRESERVE: 2]] Original art direction 3 [[END PRESERVE]]")
    ]`

	got, meta := Reconcile(raw, original, models.NewSelectionSet(1))

	assert.Equal(t, models.Script{
		original[0],
		{Line: "Modified line 2", ArtDirection: "Modified art direction 2"},
		original[2],
	}, got)
	assert.False(t, meta.HadUnauthorizedChanges)
	assert.False(t, meta.HadLengthMismatch)
	for _, l := range got {
		assert.False(t, ContainsMarker(l.Line))
		assert.False(t, ContainsMarker(l.ArtDirection))
	}
}

func TestReconcileFindsPayloadAfterBracketedProse(t *testing.T) {
	original := models.Script{{Line: "a", ArtDirection: "b"}, {Line: "c", ArtDirection: "d"}}
	raw := "Here is the revised script [v2]:\n[[\"a\", \"b\"], [\"C2\", \"D2\"]]"

	got, meta := Reconcile(raw, original, models.NewSelectionSet(1))

	assert.Empty(t, meta.Error)
	assert.Equal(t, StrategyStructured, meta.Strategy)
	assert.Equal(t, models.Script{original[0], {Line: "C2", ArtDirection: "D2"}}, got)
}

func TestReconcileUnchangedIsNoOp(t *testing.T) {
	original := coffeeScript()
	raw, err := json.Marshal(original.Pairs())
	require.NoError(t, err)

	got, meta := Reconcile(string(raw), original, models.NewSelectionSet(0, 1))

	assert.Equal(t, original, got)
	assert.False(t, meta.HadUnauthorizedChanges)
	assert.False(t, meta.HadLengthMismatch)
	assert.Equal(t, StrategyStructured, meta.Strategy)
}

func TestReconcileEmptySelectionKeepsOriginal(t *testing.T) {
	raw := `[["a", "b"], ["c", "d"], ["e", "f"], ["g", "h"]]`

	got, meta := Reconcile(raw, fourLines(), nil)

	assert.Equal(t, fourLines(), got)
	assert.True(t, meta.HadUnauthorizedChanges)
	assert.Len(t, meta.RevertedChanges, 4)
}

func TestReconcileMetadataJSON(t *testing.T) {
	_, meta := Reconcile(`[["Original line 1", "Original art direction 1"]]`, fourLines()[:1], models.NewSelectionSet(0))

	data, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"reverted_changes": [],
		"had_unauthorized_changes": false,
		"had_length_mismatch": false,
		"original_length": 1,
		"received_length": 1,
		"strategy": "structured"
	}`, string(data))
}

func TestNormalize(t *testing.T) {
	original := fourLines()

	short, mismatch := Normalize(original[:1], original)
	assert.True(t, mismatch)
	assert.Equal(t, original, short)

	long, mismatch := Normalize(append(fourLines(), models.ScriptLine{Line: "extra"}), original)
	assert.True(t, mismatch)
	assert.Equal(t, original, long)

	same, mismatch := Normalize(original, original)
	assert.False(t, mismatch)
	assert.Equal(t, original, same)
}

func TestEnforceToleratesOutOfRangeSelection(t *testing.T) {
	original := fourLines()
	candidate := fourLines()
	candidate[3].Line = "changed"

	got, reverted := Enforce(candidate, original, models.NewSelectionSet(9, 42))

	assert.Equal(t, original, got)
	require.Len(t, reverted, 1)
	assert.Equal(t, 3, reverted[0].Index)
}

// randomScript mixes plain words with marker text and quotes so every decoder
// path gets exercised.
func randomScript(r *rand.Rand, n int) models.Script {
	words := []string{"coffee", "bold", "[[PRESERVE: 1]]", "[[END SELECTED]]", `"quoted"`, "it's", "sale", "\\", "now."}
	pick := func() string {
		parts := make([]string, 1+r.IntN(4))
		for i := range parts {
			parts[i] = words[r.IntN(len(words))]
		}
		return strings.Join(parts, " ")
	}
	out := make(models.Script, n)
	for i := range out {
		out[i] = models.ScriptLine{Line: pick(), ArtDirection: pick()}
	}
	return out
}

func TestReconcileInvariantsHoldForArbitraryOutput(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	for iter := 0; iter < 500; iter++ {
		original := make(models.Script, 1+r.IntN(6))
		for i := range original {
			original[i] = models.ScriptLine{
				Line:         fmt.Sprintf("Line %d of the spot", i),
				ArtDirection: fmt.Sprintf("Direction %d", i),
			}
		}
		selected := models.NewSelectionSet()
		for i := range original {
			if r.IntN(2) == 0 {
				selected[i] = struct{}{}
			}
		}

		var raw string
		candidate := randomScript(r, r.IntN(8))
		switch r.IntN(3) {
		case 0:
			b, _ := json.Marshal(candidate.Pairs())
			raw = string(b)
		case 1:
			parts := make([]string, len(candidate))
			for i, l := range candidate {
				parts[i] = fmt.Sprintf("(%q, %q)", l.Line, l.ArtDirection)
			}
			raw = "Here you go: [" + strings.Join(parts, ", ") + "]"
		default:
			raw = candidate.SpokenText()
		}

		got, meta := Reconcile(raw, original, selected)

		require.Len(t, got, len(original), "iteration %d", iter)
		assert.Equal(t, len(original), meta.OriginalLength)
		for i := range original {
			if !selected.Contains(i) {
				require.Equal(t, original[i], got[i], "iteration %d index %d raw %q", iter, i, raw)
			}
			require.False(t, ContainsMarker(got[i].Line), "iteration %d index %d", iter, i)
			require.False(t, ContainsMarker(got[i].ArtDirection), "iteration %d index %d", iter, i)
		}
		for _, rc := range meta.RevertedChanges {
			assert.False(t, selected.Contains(rc.Index))
		}
		assert.Equal(t, len(meta.RevertedChanges) > 0, meta.HadUnauthorizedChanges)
	}
}

func FuzzReconcile(f *testing.F) {
	f.Add(`[["a", "b"]]`, uint8(1))
	f.Add(`[("x", 'y'),]`, uint8(0))
	f.Add(`("[[PRESERVE: 0]] a [[END PRESERVE]]", "b")`, uint8(3))
	f.Add("", uint8(2))

	original := fourLines()
	f.Fuzz(func(t *testing.T, raw string, mask uint8) {
		selected := models.NewSelectionSet()
		for i := range original {
			if mask&(1<<i) != 0 {
				selected[i] = struct{}{}
			}
		}
		got, _ := Reconcile(raw, original, selected)
		if len(got) != len(original) {
			t.Fatalf("length %d, want %d", len(got), len(original))
		}
		for i := range original {
			if !selected.Contains(i) && !got[i].Equal(original[i]) {
				t.Fatalf("index %d changed without selection", i)
			}
		}
	})
}
