package models

import (
	"fmt"
	"strings"
)

// SearchMode selects how the index ranks results.
type SearchMode string

const (
	// ModeVector ranks by embedding similarity only.
	ModeVector SearchMode = "vector"
	// ModeHybrid fuses embedding similarity with lexical matching.
	ModeHybrid SearchMode = "hybrid"
)

func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeVector:
		return ModeVector, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown search mode %q", s)
	}
}
