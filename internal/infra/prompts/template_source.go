// Package prompts renders per-action prompt templates.
package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
)

//go:embed default.yaml
var defaultTemplates []byte

var _ adapter.PromptSource = (*TemplateSource)(nil)

type templateFile struct {
	Actions map[string]templateSpec `yaml:"actions"`
}

type templateSpec struct {
	System    string `yaml:"system"`
	User      string `yaml:"user"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type compiled struct {
	system    *template.Template
	user      *template.Template
	model     string
	maxTokens int
}

// TemplateSource is an adapter.PromptSource backed by YAML templates.
type TemplateSource struct {
	byAction map[model.Action]compiled
}

// NewDefaultSource loads the embedded templates.
func NewDefaultSource() (*TemplateSource, error) {
	return Parse(defaultTemplates)
}

// Load reads templates from path, or the embedded defaults when path is empty.
func Load(path string) (*TemplateSource, error) {
	if path == "" {
		return NewDefaultSource()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return Parse(b)
}

// Parse compiles a templates document. Every known action must be present.
func Parse(doc []byte) (*TemplateSource, error) {
	var f templateFile
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	src := &TemplateSource{byAction: make(map[model.Action]compiled, len(f.Actions))}
	for name, spec := range f.Actions {
		action, err := model.ParseAction(name)
		if err != nil {
			return nil, fmt.Errorf("prompts: %w", err)
		}
		c := compiled{model: spec.Model, maxTokens: spec.MaxTokens}
		if c.system, err = compile(name+".system", spec.System); err != nil {
			return nil, err
		}
		if c.user, err = compile(name+".user", spec.User); err != nil {
			return nil, err
		}
		src.byAction[action] = c
	}
	for _, a := range model.Actions() {
		if _, ok := src.byAction[a]; !ok {
			return nil, fmt.Errorf("prompts: no template for %s", a)
		}
	}
	return src, nil
}

var funcs = template.FuncMap{"text": renderValue}

func compile(name, body string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("prompts: %s: %w", name, err)
	}
	return t, nil
}

// Build validates input for action and renders its prompt.
func (s *TemplateSource) Build(action model.Action, input model.JobInput) (adapter.Prompt, error) {
	if err := action.Validate(input); err != nil {
		return adapter.Prompt{}, err
	}
	c, ok := s.byAction[action]
	if !ok {
		return adapter.Prompt{}, fmt.Errorf("%w: %q", domain.ErrUnknownAction, string(action))
	}
	data := map[string]any(input)
	system, err := execute(c.system, data)
	if err != nil {
		return adapter.Prompt{}, err
	}
	user, err := execute(c.user, data)
	if err != nil {
		return adapter.Prompt{}, err
	}
	return adapter.Prompt{System: system, User: user, Model: c.model, MaxTokens: c.maxTokens}, nil
}

func execute(t *template.Template, data map[string]any) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: render %s: %v", domain.ErrInvalidArgument, t.Name(), err)
	}
	return strings.TrimSpace(b.String()), nil
}

// renderValue flattens an input value into prompt text.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []string:
		return strings.Join(t, "\n\n")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := renderValue(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")
	default:
		b, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
