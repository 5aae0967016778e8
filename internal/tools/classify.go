package tools

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/gatherly/concierge/internal/config"
)

// Classification decides how the orchestrator treats a finalized tool
// call.
type Classification int

const (
	// Auto tools execute immediately within the turn.
	Auto Classification = iota
	// Confirm tools park the turn until the user approves the call.
	Confirm
)

func (c Classification) String() string {
	if c == Confirm {
		return "confirm"
	}
	return "auto"
}

// Classifier resolves a tool's execution mode from its own
// side-effect default plus config glob overrides. Patterns come from
// tools.auto, tools.confirm and tools.disabled in the config file.
type Classifier struct {
	auto     []glob.Glob
	confirm  []glob.Glob
	disabled []glob.Glob
}

// NewClassifier compiles the override patterns. Invalid patterns are
// configuration errors, reported at startup rather than at call time.
func NewClassifier(cfg config.ToolsConfig) (*Classifier, error) {
	c := &Classifier{}
	var err error
	if c.auto, err = compilePatterns("tools.auto", cfg.Auto); err != nil {
		return nil, err
	}
	if c.confirm, err = compilePatterns("tools.confirm", cfg.Confirm); err != nil {
		return nil, err
	}
	if c.disabled, err = compilePatterns("tools.disabled", cfg.Disabled); err != nil {
		return nil, err
	}
	return c, nil
}

func compilePatterns(key string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", key, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Classify returns the execution mode for a tool. A confirm override
// beats an auto override when both match; the tool's own default
// applies when neither does.
func (c *Classifier) Classify(name string, sideEffecting bool) Classification {
	if matchAny(c.confirm, name) {
		return Confirm
	}
	if matchAny(c.auto, name) {
		return Auto
	}
	if sideEffecting {
		return Confirm
	}
	return Auto
}

// Disabled reports whether the named tool is switched off entirely.
func (c *Classifier) Disabled(name string) bool {
	return matchAny(c.disabled, name)
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
