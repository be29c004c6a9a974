package render

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Patterns is a compiled list of glob patterns. Without separators "*"
// also matches "/", so "**/Change Log" matches "Intro/Change Log".
type Patterns []glob.Glob

func CompilePatterns(patterns []string) (Patterns, error) {
	ret := make(Patterns, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		ret = append(ret, g)
	}
	return ret, nil
}

func (p Patterns) Match(value string) bool {
	for _, g := range p {
		if g.Match(value) {
			return true
		}
	}
	return false
}
