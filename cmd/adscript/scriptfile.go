package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/refine"
)

type yamlLine struct {
	Line         string `yaml:"line"`
	ArtDirection string `yaml:"artDirection"`
}

// loadScript reads a script file. YAML files hold a list of line/artDirection
// maps; anything else is decoded like an agent reply (JSON or tuple literals).
func loadScript(path string) (models.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var lines []yamlLine
		if err := yaml.Unmarshal(data, &lines); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		script := make(models.Script, len(lines))
		for i, l := range lines {
			script[i] = models.ScriptLine{Line: l.Line, ArtDirection: l.ArtDirection}
		}
		return script, nil
	default:
		script, _, err := refine.Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return script, nil
	}
}

// readText reads path, or stdin when path is "-".
func readText(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read agent output: %w", err)
	}
	return string(data), nil
}
