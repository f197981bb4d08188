package config

import (
	"fmt"
	"io"
	"os"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/segmentation"
)

func loadRulesFile(path string) ([]domain.SegmentationRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rules file %s: %w", path, err)
	}
	defer f.Close()

	rules, err := segmentation.ParseRules(f, path)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// PrintRules writes one line per rule describing its host glob, match
// constraints and resolved policy, in the order they were loaded. It backs
// --validate-rules: parse everything, print what was understood, exit 0.
func PrintRules(w io.Writer, rules []domain.SegmentationRule) {
	for i, r := range rules {
		origin := r.Source
		if origin == "" {
			origin = "inline"
		}
		fmt.Fprintf(w, "[%d] %s %s\n", i, origin, segmentation.FormatRule(r))
	}
}
