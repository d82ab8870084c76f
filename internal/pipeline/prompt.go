package pipeline

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
)

//go:embed defaults/prompt.tmpl
var defaultPrompt string

//go:embed defaults/requirements.json
var defaultRules string

// Prompt renders the classification request sent to the language model
type Prompt struct {
	tmpl *template.Template
}

type promptData struct {
	Rules string
	Text  string
}

// NewPrompt parses a prompt template. An empty source selects the built-in one.
func NewPrompt(source string) (*Prompt, error) {
	if strings.TrimSpace(source) == "" {
		source = defaultPrompt
	}

	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &Prompt{tmpl: tmpl}, nil
}

// LoadPrompt reads a prompt template from path, or uses the built-in one
// when path is empty
func LoadPrompt(path string) (*Prompt, error) {
	if path == "" {
		return NewPrompt("")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template: %w", err)
	}
	return NewPrompt(string(data))
}

// LoadRules reads the nutrition requirements file, or returns the built-in
// rules when path is empty
func LoadRules(path string) (string, error) {
	if path == "" {
		return defaultRules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}
	return string(data), nil
}

// Render fills the template with the extracted label text and the rules
func (p *Prompt) Render(text, rules string) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, promptData{Rules: rules, Text: text}); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
