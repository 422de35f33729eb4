package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

func TestResponseCacheExpiry(t *testing.T) {
	cache := NewResponseCache(10, time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Set("k", "v")
	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestResponseCacheEvictsLeastRecentlyRead(t *testing.T) {
	cache := NewResponseCache(5, time.Hour)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		cache.Set(k, k)
	}
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Set("f", "f")
	assert.Equal(t, 5, cache.Len())
	_, ok = cache.Get("b")
	assert.False(t, ok, "b was read least recently")
	_, ok = cache.Get("a")
	assert.True(t, ok)
}

func TestResponseCacheCleanup(t *testing.T) {
	cache := NewResponseCache(0, 0)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }
	cache.Set("old", "x")
	now = now.Add(10 * time.Minute)
	cache.Set("new", "y")

	cache.cleanupExpired()
	assert.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestExporterRoundTrip(t *testing.T) {
	exporter, err := NewExporter(t.TempDir())
	require.NoError(t, err)

	rev := models.Revision{
		ScriptID:    "abc",
		Number:      2,
		Instruction: "punchier",
		Lines:       models.Script{{Line: "A | B", ArtDirection: "two\nlines"}},
		Validation:  &models.ValidationMetadata{RevertedChanges: []models.RevertedChange{{Index: 0}}},
	}
	path, err := exporter.SaveRevision(models.AdBrief{ProductName: "Fresh Roast", AdLength: 15, Tone: "Fun"}, rev)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(exporter.BaseDir, "abc", "revision-2.md"), path)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	content, err := exporter.LoadRevision("abc", 2)
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.HasPrefix(text, "# Fresh Roast (revision 2)"))
	assert.Contains(t, text, "- Length: 15s")
	assert.Contains(t, text, `| 0 | A \| B | two<br>lines |`)
	assert.Contains(t, text, "1 unauthorized change(s) reverted.")
}

func TestExporterRejectsPathEscape(t *testing.T) {
	exporter, err := NewExporter(t.TempDir())
	require.NoError(t, err)

	_, err = exporter.SaveRevision(models.AdBrief{}, models.Revision{ScriptID: "../x"})
	assert.Error(t, err)

	_, err = exporter.LoadRevision("missing", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
