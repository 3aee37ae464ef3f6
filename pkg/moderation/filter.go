package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harun/mosaic/internal/config"
)

// ErrBlocked is returned for content the filter rejects.
var ErrBlocked = errors.New("content blocked")

// ContentFilter checks content against configured terms, patterns and a
// length limit.
type ContentFilter struct {
	enabled   bool
	maxLength int
	terms     []string
	patterns  []*regexp.Regexp
}

// New creates a new content filter.
func New(cfg config.ModerationConfig) (*ContentFilter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	terms := make([]string, 0, len(cfg.BlockedTerms))
	for _, t := range cfg.BlockedTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}

	return &ContentFilter{
		enabled:   cfg.Enabled,
		maxLength: cfg.MaxPromptLength,
		terms:     terms,
		patterns:  patterns,
	}, nil
}

// CheckPrompt returns an error wrapping ErrBlocked if the prompt is too long
// or contains blocked content.
func (f *ContentFilter) CheckPrompt(prompt string) error {
	if f == nil || !f.enabled {
		return nil
	}
	if f.maxLength > 0 && utf8.RuneCountInString(prompt) > f.maxLength {
		return fmt.Errorf("%w: prompt longer than %d characters", ErrBlocked, f.maxLength)
	}
	return f.check(prompt)
}

// CheckResponse returns an error wrapping ErrBlocked if a generated reply
// contains blocked content. Replies have no length limit.
func (f *ContentFilter) CheckResponse(response string) error {
	if f == nil || !f.enabled {
		return nil
	}
	return f.check(response)
}

func (f *ContentFilter) check(content string) error {
	normalized := strings.ToLower(content)
	for _, term := range f.terms {
		if strings.Contains(normalized, term) {
			return fmt.Errorf("%w: contains blocked term %q", ErrBlocked, term)
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(content) {
			return fmt.Errorf("%w: matches blocked pattern #%d", ErrBlocked, i+1)
		}
	}
	return nil
}
