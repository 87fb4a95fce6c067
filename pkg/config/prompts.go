package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts holds the instruction templates used by the workflow stages.
type Prompts struct {
	IntentNotice      string `yaml:"intent_notice"`
	ListTablesSummary string `yaml:"list_tables_summary"`
	GenerateQuery     string `yaml:"generate_query"`
	CheckQuery        string `yaml:"check_query"`
	DataExtraction    string `yaml:"data_extraction"`
	ValidateAnswer    string `yaml:"validate_answer"`
	Summarize         string `yaml:"summarize"`
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	p, err := PromptsFromYAML(defaultPromptsYAML)
	if err != nil {
		panic(fmt.Sprintf("config: built-in prompts: %v", err))
	}
	return p
}

// PromptsFromYAML parses a complete set of templates.
func PromptsFromYAML(data []byte) (Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts: %w", err)
	}
	return p, p.validate()
}

// LoadPrompts overlays the file at path onto the built-in templates.
// An empty path returns the built-ins.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts: %w", err)
	}
	return p, p.validate()
}

func (p Prompts) validate() error {
	var errs []error
	for name, v := range map[string]string{
		"intent_notice":       p.IntentNotice,
		"list_tables_summary": p.ListTablesSummary,
		"generate_query":      p.GenerateQuery,
		"check_query":         p.CheckQuery,
		"data_extraction":     p.DataExtraction,
		"validate_answer":     p.ValidateAnswer,
		"summarize":           p.Summarize,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("prompt %s is empty", name))
		}
	}
	return errors.Join(errs...)
}
