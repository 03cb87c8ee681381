package presets

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var raw []byte

// Template is a ready-made task definition
type Template struct {
	Name      string               `yaml:"name" json:"name"`
	Prompt    string               `yaml:"prompt" json:"prompt"`
	Frequency recurrence.Frequency `yaml:"frequency" json:"frequency"`
	Hour      int                  `yaml:"hour" json:"hour"`
	Minute    int                  `yaml:"minute" json:"minute"`
	Days      []int                `yaml:"days,omitempty" json:"days,omitempty"`
}

// Task builds an unsaved scheduled task from the template
func (t Template) Task() *db.Task {
	return &db.Task{
		Title:      t.Name,
		Prompt:     t.Prompt,
		Type:       db.TaskTypeScheduled,
		Frequency:  t.Frequency,
		Hour:       t.Hour,
		Minute:     t.Minute,
		DaysOfWeek: append([]int(nil), t.Days...),
		Status:     db.TaskStatusActive,
		Source:     db.SourceManual,
	}
}

// Provider is a known endpoint preset
type Provider struct {
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider" json:"provider"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Model    string `yaml:"model" json:"model"`
}

// Apply copies the preset's endpoint onto cfg, keeping the key and tuning
func (p Provider) Apply(cfg chat.ModelConfig) chat.ModelConfig {
	cfg.Provider = p.Provider
	cfg.BaseURL = p.BaseURL
	cfg.Model = p.Model
	return cfg
}

type catalog struct {
	Templates []Template `yaml:"templates"`
	Providers []Provider `yaml:"providers"`
}

var (
	loadOnce sync.Once
	loaded   catalog
	loadErr  error
)

func load() (catalog, error) {
	loadOnce.Do(func() {
		loaded, loadErr = parse(raw)
	})
	return loaded, loadErr
}

func parse(data []byte) (catalog, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse presets: %w", err)
	}
	return c, nil
}

// Templates returns the built-in task templates
func Templates() ([]Template, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	return append([]Template(nil), c.Templates...), nil
}

// Providers returns the built-in provider presets
func Providers() ([]Provider, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	return append([]Provider(nil), c.Providers...), nil
}

// FindTemplate looks a template up by name, ignoring case
func FindTemplate(name string) (Template, bool) {
	templates, err := Templates()
	if err != nil {
		return Template{}, false
	}
	for _, t := range templates {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Template{}, false
}

// FindProvider looks a provider preset up by its provider id
func FindProvider(id string) (Provider, bool) {
	providers, err := Providers()
	if err != nil {
		return Provider{}, false
	}
	for _, p := range providers {
		if strings.EqualFold(p.Provider, id) {
			return p, true
		}
	}
	return Provider{}, false
}
