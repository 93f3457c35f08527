package adapter

import (
	"fmt"
	"regexp"

	"covtrace.dev/pkg/covtrace/internal/domain"
)

// RegexFilter keeps files that match an include pattern (or any file when
// there are none) and no exclude pattern.
type RegexFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewRegexFilter compiles the include and exclude patterns.
func NewRegexFilter(include, exclude []string) (*RegexFilter, error) {
	inc, err := compileAll(include)
	if err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}

	exc, err := compileAll(exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}

	return &RegexFilter{include: inc, exclude: exc}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))

	for _, p := range patterns {
		if p == "" {
			continue
		}

		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}

		out = append(out, re)
	}

	return out, nil
}

// Match reports whether file takes part in coverage.
func (f *RegexFilter) Match(file string) bool {
	for _, re := range f.exclude {
		if re.MatchString(file) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}

	for _, re := range f.include {
		if re.MatchString(file) {
			return true
		}
	}

	return false
}

// Filter adapts f to the index predicate.
func (f *RegexFilter) Filter() domain.Filter {
	return f.Match
}
