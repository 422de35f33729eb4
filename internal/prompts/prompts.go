// Package prompts renders the system and user prompts sent to the agent.
// Templates are baked into the binary from templates.yaml.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

//go:embed templates.yaml
var embeddedTemplates []byte

// Pair is one system/user template couple.
type Pair struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type document struct {
	Generate Pair `yaml:"generate"`
	Refine   Pair `yaml:"refine"`
}

// Library holds the parsed templates.
type Library struct {
	generateSystem string
	refineSystem   string
	generateUser   *template.Template
	refineUser     *template.Template
}

// RefineInput is what the refine template needs.
type RefineInput struct {
	Brief       models.AdBrief
	Instruction string
	// Rules and Annotated come from refine.Encode.
	Rules     string
	Annotated string
}

// Load parses the embedded templates.
func Load() (*Library, error) {
	return Parse(embeddedTemplates)
}

// Parse builds a Library from a YAML document with generate and refine pairs.
func Parse(data []byte) (*Library, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("prompts: decode templates: %w", err)
	}
	if strings.TrimSpace(doc.Generate.User) == "" || strings.TrimSpace(doc.Refine.User) == "" {
		return nil, fmt.Errorf("prompts: generate.user and refine.user are required")
	}

	generateUser, err := template.New("generate").Option("missingkey=error").Parse(doc.Generate.User)
	if err != nil {
		return nil, fmt.Errorf("prompts: parse generate template: %w", err)
	}
	refineUser, err := template.New("refine").Option("missingkey=error").Parse(doc.Refine.User)
	if err != nil {
		return nil, fmt.Errorf("prompts: parse refine template: %w", err)
	}

	return &Library{
		generateSystem: strings.TrimSpace(doc.Generate.System),
		refineSystem:   strings.TrimSpace(doc.Refine.System),
		generateUser:   generateUser,
		refineUser:     refineUser,
	}, nil
}

// Generate renders the script-generation prompt for brief.
func (l *Library) Generate(brief models.AdBrief) (system, user string, err error) {
	user, err = execute(l.generateUser, brief)
	if err != nil {
		return "", "", err
	}
	return l.generateSystem, user, nil
}

// Refine renders the selective-refinement prompt.
func (l *Library) Refine(in RefineInput) (system, user string, err error) {
	data := struct {
		models.AdBrief
		Instruction string
		Rules       string
		Annotated   string
	}{in.Brief, in.Instruction, in.Rules, in.Annotated}

	user, err = execute(l.refineUser, data)
	if err != nil {
		return "", "", err
	}
	return l.refineSystem, user, nil
}

func execute(tmpl *template.Template, data interface{}) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(b.String()), nil
}
