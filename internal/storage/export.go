// internal/storage/export.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

// Exporter writes each revision as a Markdown table under <base>/<script id>/.
type Exporter struct {
	BaseDir string

	fileLocks sync.Map // path -> *sync.RWMutex
}

// NewExporter creates baseDir if needed.
func NewExporter(baseDir string) (*Exporter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{BaseDir: baseDir}, nil
}

func (e *Exporter) fileLock(fullPath string) *sync.RWMutex {
	value, _ := e.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// RevisionFilename names the file a revision is exported to.
func RevisionFilename(number int) string {
	return "revision-" + strconv.Itoa(number) + ".md"
}

// SaveRevision renders rev and writes it atomically. It returns the written path.
func (e *Exporter) SaveRevision(brief models.AdBrief, rev models.Revision) (string, error) {
	return e.save(rev.ScriptID, RevisionFilename(rev.Number), []byte(RenderMarkdown(brief, rev)))
}

// LoadRevision reads a previously exported revision.
func (e *Exporter) LoadRevision(scriptID string, number int) ([]byte, error) {
	if err := checkSegment(scriptID); err != nil {
		return nil, err
	}
	fullPath := filepath.Join(e.BaseDir, scriptID, RevisionFilename(number))

	lock := e.fileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("export %s/%d: %w", scriptID, number, ErrNotFound)
		}
		return nil, fmt.Errorf("read export: %w", err)
	}
	return content, nil
}

func (e *Exporter) save(dir, filename string, content []byte) (string, error) {
	if err := checkSegment(dir); err != nil {
		return "", err
	}
	fullDir := filepath.Join(e.BaseDir, dir)
	fullPath := filepath.Join(fullDir, filename)

	lock := e.fileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write temp export: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("rename export: %w", err)
	}
	return fullPath, nil
}

// checkSegment keeps ids from escaping BaseDir.
func checkSegment(segment string) error {
	if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, `/\`) {
		return fmt.Errorf("invalid script id %q", segment)
	}
	return nil
}

// RenderMarkdown formats a revision as a two-column Markdown table.
func RenderMarkdown(brief models.AdBrief, rev models.Revision) string {
	var b strings.Builder
	title := brief.ProductName
	if title == "" {
		title = rev.ScriptID
	}
	fmt.Fprintf(&b, "# %s (revision %d)\n\n", title, rev.Number)
	if brief.AdLength > 0 || brief.Tone != "" {
		fmt.Fprintf(&b, "- Length: %s\n- Tone: %s\n", brief.AdLength, brief.Tone)
		if brief.TargetAudience != "" {
			fmt.Fprintf(&b, "- Audience: %s\n", brief.TargetAudience)
		}
		b.WriteString("\n")
	}
	if rev.Instruction != "" {
		fmt.Fprintf(&b, "> %s\n\n", rev.Instruction)
	}
	b.WriteString("| # | Line | Art direction |\n|---|------|---------------|\n")
	for i, l := range rev.Lines {
		fmt.Fprintf(&b, "| %d | %s | %s |\n", i, escapeCell(l.Line), escapeCell(l.ArtDirection))
	}
	if rev.Validation != nil && len(rev.Validation.RevertedChanges) > 0 {
		fmt.Fprintf(&b, "\n%d unauthorized change(s) reverted.\n", len(rev.Validation.RevertedChanges))
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", "<br>")
}
