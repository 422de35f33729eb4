package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

const twoLineScript = `[["Meet Brew", "Warm"], ["Coffee that waits", "Slow"]]`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEncode(t *testing.T) {
	path := writeFile(t, "script.json", twoLineScript)

	out, err := execute(t, "", "encode", "--script", path, "--select", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"[[PRESERVE: 0]] Meet Brew [[END PRESERVE]]"`)
	assert.Contains(t, out, `"[[SELECTED FOR MODIFICATION: 1]] Coffee that waits [[END SELECTED]]"`)
}

func TestEncodeRequiresScript(t *testing.T) {
	_, err := execute(t, "", "encode")
	assert.Error(t, err)
}

func TestReconcileJSON(t *testing.T) {
	path := writeFile(t, "script.yaml", "- line: Meet Brew\n  artDirection: Warm\n- line: Coffee that waits\n  artDirection: Slow\n")
	reply := `[["Meet Brew!!", "Loud"], ["Coffee that never waits", "Fast"], ["Extra", "Extra"]]`

	out, err := execute(t, reply, "reconcile", "--script", path, "--select", "1", "--json")
	require.NoError(t, err)

	var got report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, models.Script{
		{Line: "Meet Brew", ArtDirection: "Warm"},
		{Line: "Coffee that never waits", ArtDirection: "Fast"},
	}, got.Script)
	assert.True(t, got.Validation.HadUnauthorizedChanges)
	assert.True(t, got.Validation.HadLengthMismatch)
	assert.Equal(t, 3, got.Validation.ReceivedLength)
	require.Len(t, got.Validation.RevertedChanges, 1)
	assert.Equal(t, 0, got.Validation.RevertedChanges[0].Index)
}

func TestReconcileTable(t *testing.T) {
	script := writeFile(t, "script.json", twoLineScript)
	reply := writeFile(t, "reply.txt", "total nonsense")

	out, err := execute(t, "", "reconcile", "--script", script, "--output", reply, "--select", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Coffee that waits")
	assert.Contains(t, out, "error:")
	assert.NotContains(t, out, "\x1b[", "no colour when stdout is not a terminal")
}

func TestExamples(t *testing.T) {
	out, err := execute(t, "", "examples")
	require.NoError(t, err)
	assert.Contains(t, out, "Example 1: Only authorized changes")
	assert.Contains(t, out, "Example 5: Marker removal")
	assert.NotContains(t, out, "[[")
	assert.NotContains(t, out, "EXTRA LINE")
}

func TestExamplesJSON(t *testing.T) {
	out, err := execute(t, "", "examples", "--json")
	require.NoError(t, err)

	var results []scenarioResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, len(scenarios))

	assert.False(t, results[0].Validation.HadUnauthorizedChanges)
	assert.Equal(t, "Modified line 2", results[0].Script[1].Line)

	assert.Len(t, results[1].Validation.RevertedChanges, 3)
	assert.Equal(t, numberedScript(4)[0], results[1].Script[0])

	assert.True(t, results[2].Validation.HadLengthMismatch)
	assert.Len(t, results[2].Script, 4)

	assert.Equal(t, 5, results[3].Validation.ReceivedLength)
	assert.Len(t, results[3].Script, 4)

	assert.Equal(t, models.Script{
		{Line: "Original line 1", ArtDirection: "Original art direction 1"},
		{Line: "Modified line 2", ArtDirection: "Modified art direction 2"},
		{Line: "Original line 3", ArtDirection: "Original art direction 3"},
	}, results[4].Script)
}

func TestExamplesOnly(t *testing.T) {
	out, err := execute(t, "", "examples", "--only", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Example 3")
	assert.NotContains(t, out, "Example 1")

	_, err = execute(t, "", "examples", "--only", "9")
	assert.Error(t, err)
}

func TestRefine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{
				"message":       map[string]string{"content": `[["Changed", "Changed"], ["Coffee, ready when you are", "Bright"]]`},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("LLM_BASE_URL", server.URL)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	path := writeFile(t, "script.json", twoLineScript)
	out, err := execute(t, "", "refine", "--script", path, "--select", "1",
		"-i", "make it friendlier", "--product", "Brew", "--json")
	require.NoError(t, err)

	var got report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, models.Script{
		{Line: "Meet Brew", ArtDirection: "Warm"},
		{Line: "Coffee, ready when you are", ArtDirection: "Bright"},
	}, got.Script)
	assert.True(t, got.Validation.HadUnauthorizedChanges)
}

func TestRefineReadsSavedConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer saved-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{
				"message":       map[string]string{"content": `[["Meet Brew", "Warm"], ["Coffee, ready when you are", "Bright"]]`},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "unused"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_BASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	dataDir := filepath.Join(dir, "settings")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	saved := "llm_provider = \"openai\"\n\n[llm_config]\napi_key = \"saved-key\"\nbase_url = \"" + server.URL + "\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.toml"), []byte(saved), 0o600))

	path := writeFile(t, "script.json", twoLineScript)
	out, err := execute(t, "", "refine", "--data-dir", dataDir, "--script", path, "--select", "1",
		"-i", "make it friendlier", "--json")
	require.NoError(t, err)

	var got report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Coffee, ready when you are", got.Script[1].Line)
	assert.NoDirExists(t, filepath.Join(dir, "unused"))
}

func TestEncodeLeavesDataDirAlone(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))

	path := writeFile(t, "script.json", twoLineScript)
	_, err := execute(t, "", "encode", "--script", path, "--select", "0")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "data"))
}

func TestRefineRequiresSelection(t *testing.T) {
	t.Setenv("DATA_DIR", filepath.Join(t.TempDir(), "data"))
	path := writeFile(t, "script.json", twoLineScript)
	_, err := execute(t, "", "refine", "--script", path, "-i", "x")
	assert.ErrorContains(t, err, "--select")
}
