// Package persona provides named assistant definitions: a system
// prompt template plus metadata, loaded from YAML. A built-in
// concierge persona ships embedded; files in a configured directory
// shadow built-ins of the same name.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default is the persona used when the config names none.
const Default = "concierge"

// Persona is one assistant definition.
type Persona struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// SystemPrompt is a template; Prompt expands its placeholders.
	SystemPrompt string `yaml:"system_prompt"`

	Source     Source `yaml:"-"`
	SourcePath string `yaml:"-"`
}

// Source indicates where a persona was loaded from.
type Source int

const (
	SourceBuiltin Source = iota
	SourceUser
)

func (s Source) String() string {
	switch s {
	case SourceBuiltin:
		return "builtin"
	case SourceUser:
		return "user"
	default:
		return "unknown"
	}
}

// Load resolves a persona by name. A <name>.yaml file in dir wins
// over a built-in of the same name; dir may be empty.
func Load(name, dir string) (*Persona, error) {
	if name == "" {
		name = Default
	}
	if dir != "" {
		path := filepath.Join(dir, name+".yaml")
		if data, err := os.ReadFile(path); err == nil {
			return parse(data, name, SourceUser, path)
		}
	}
	return loadBuiltin(name)
}

// List returns every available persona, built-ins first, each name
// appearing once with user files shadowing built-ins.
func List(dir string) []*Persona {
	seen := make(map[string]bool)
	var personas []*Persona

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
					continue
				}
				path := filepath.Join(dir, entry.Name())
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				name := strings.TrimSuffix(entry.Name(), ".yaml")
				p, err := parse(data, name, SourceUser, path)
				if err != nil {
					continue
				}
				if !seen[p.Name] {
					seen[p.Name] = true
					personas = append(personas, p)
				}
			}
		}
	}

	for _, name := range builtinNames {
		if seen[name] {
			continue
		}
		if p, err := loadBuiltin(name); err == nil {
			seen[name] = true
			personas = append(personas, p)
		}
	}

	sort.Slice(personas, func(i, j int) bool {
		if personas[i].Source != personas[j].Source {
			return personas[i].Source < personas[j].Source
		}
		return personas[i].Name < personas[j].Name
	})
	return personas
}

func parse(data []byte, fallbackName string, source Source, path string) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona %s: %w", fallbackName, err)
	}
	if p.Name == "" {
		p.Name = fallbackName
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return nil, fmt.Errorf("persona %s has no system prompt", p.Name)
	}
	p.Source = source
	p.SourcePath = path
	return &p, nil
}

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Prompt renders the system prompt for one user at one moment.
// Unknown placeholders are left untouched.
func (p *Persona) Prompt(userID string, now time.Time) string {
	return placeholderPattern.ReplaceAllStringFunc(p.SystemPrompt, func(match string) string {
		switch strings.Trim(match, "{}") {
		case "date":
			return now.UTC().Format("2006-01-02")
		case "user_id":
			return userID
		default:
			return match
		}
	})
}

// PromptFunc adapts the persona to the orchestrator's system prompt
// hook, stamping each turn with the current date.
func (p *Persona) PromptFunc() func(userID string) string {
	return func(userID string) string {
		return p.Prompt(userID, time.Now())
	}
}
