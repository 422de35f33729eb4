package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/refine"
)

func brief() models.AdBrief {
	return models.AdBrief{
		ProductName:      "Fresh Roast",
		TargetAudience:   "Commuters",
		KeySellingPoints: "Organic, fair trade",
		Tone:             "Upbeat",
		AdLength:         30,
		SpeakerVoice:     "Female",
	}
}

func TestGenerate(t *testing.T) {
	lib, err := Load()
	require.NoError(t, err)

	system, user, err := lib.Generate(brief())
	require.NoError(t, err)
	assert.NotEmpty(t, system)
	assert.Contains(t, user, `"Fresh Roast"`)
	assert.Contains(t, user, "Ad length: 30s")
	assert.Contains(t, user, "Speaker voice: Female")
}

func TestGenerateOmitsEmptyVoice(t *testing.T) {
	lib, err := Load()
	require.NoError(t, err)

	b := brief()
	b.SpeakerVoice = ""
	_, user, err := lib.Generate(b)
	require.NoError(t, err)
	assert.NotContains(t, user, "Speaker voice")
}

func TestRefineEmbedsAnnotatedScript(t *testing.T) {
	lib, err := Load()
	require.NoError(t, err)

	script := models.Script{{Line: "Hello", ArtDirection: "Wave"}, {Line: "Bye", ArtDirection: "Fade"}}
	annotated, rules := refine.Encode(script, models.NewSelectionSet(1))

	_, user, err := lib.Refine(RefineInput{
		Brief:       brief(),
		Instruction: "Make it punchier",
		Rules:       rules,
		Annotated:   annotated.Render(),
	})
	require.NoError(t, err)
	assert.Contains(t, user, "Improvement instruction: Make it punchier")
	assert.Contains(t, user, "[[PRESERVE: 0]] Hello [[END PRESERVE]]")
	assert.Contains(t, user, "[[SELECTED FOR MODIFICATION: 1]] Bye [[END SELECTED]]")
	assert.Contains(t, user, rules)
}

func TestParseRejectsIncompleteDocument(t *testing.T) {
	_, err := Parse([]byte("generate:\n  user: hi\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("generate: [unclosed"))
	assert.Error(t, err)
}

func TestParseRejectsBadTemplate(t *testing.T) {
	_, err := Parse([]byte("generate:\n  user: \"{{.Nope\"\nrefine:\n  user: ok\n"))
	assert.Error(t, err)
}
