package intent

import (
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/harun/mosaic/internal/config"
)

var (
	defaultFreshMarkers = []string{"new", "another", "different", "instead", "separate"}

	defaultCreationVerbs = []string{
		"generate", "create", "draw", "write", "make", "render", "produce",
		"design", "paint", "compose", "give", "show",
	}

	defaultDeterminers = []string{"a", "an", "some", "me"}

	defaultModifierVerbs = []string{
		"adjust", "change", "add", "remove", "make", "turn", "increase", "decrease",
		"replace", "swap", "keep", "set", "brighten", "darken", "zoom", "crop",
		"slow", "speed", "tweak", "fix", "edit", "update", "shift", "extend",
	}

	defaultComparatives = []string{
		"more", "less", "brighter", "darker", "bigger", "smaller", "faster",
		"slower", "warmer", "cooler", "lighter", "heavier", "longer", "shorter",
		"louder", "softer", "sharper", "higher", "lower",
	}

	defaultAnaphora = []string{"it", "this", "that", "them", "its", "these", "those"}

	defaultInterrogatives = []string{
		"what", "why", "how", "who", "whom", "whose", "when", "where", "which",
		"is", "are", "was", "were", "am", "do", "does", "did", "can", "could",
		"would", "should", "will", "shall", "may", "explain", "tell", "describe",
		"summarize", "summarise", "define", "translate",
	}

	// fillers are skipped before the lead word is judged.
	fillers = map[string]struct{}{
		"please": {}, "now": {}, "ok": {}, "okay": {}, "also": {}, "and": {},
		"then": {}, "just": {}, "actually": {}, "but": {}, "hmm": {}, "pls": {},
	}

	// politeModals open a request rather than a question when followed by "you".
	politeModals = map[string]struct{}{"can": {}, "could": {}, "would": {}, "will": {}}
)

// creationWindow is how many tokens after a creation verb may hold the
// determiner that introduces a new subject.
const creationWindow = 2

// Rules judges whether an instruction refines the active result. It is
// immutable; build a new one to change the word lists.
type Rules struct {
	fresh          map[string]struct{}
	creation       map[string]struct{}
	determiners    map[string]struct{}
	modifiers      map[string]struct{}
	comparative    map[string]struct{}
	anaphora       map[string]struct{}
	interrogatives map[string]struct{}
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return RulesFromConfig(config.RulesConfig{})
}

// RulesFromConfig builds rules, keeping the defaults for empty lists.
func RulesFromConfig(cfg config.RulesConfig) *Rules {
	pick := func(override, fallback []string) map[string]struct{} {
		words := fallback
		if len(override) > 0 {
			words = override
		}
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
		}
		return set
	}

	return &Rules{
		fresh:       pick(cfg.FreshMarkers, defaultFreshMarkers),
		creation:    pick(cfg.CreationVerbs, defaultCreationVerbs),
		determiners: pick(cfg.Determiners, defaultDeterminers),
		modifiers:   pick(cfg.ModifierVerbs, defaultModifierVerbs),
		comparative: pick(cfg.Comparatives, defaultComparatives),
		anaphora:    pick(cfg.Anaphora, defaultAnaphora),

		interrogatives: pick(cfg.Interrogatives, defaultInterrogatives),
	}
}

// Judge classifies an instruction. It is a pure function of its input.
//
// Only modifying language counts as a refinement: after fillers and a polite
// "can you" the instruction must open with a modifier verb or a comparative,
// or with an anaphor that is later modified ("it should be darker").
// Questions, fresh markers and creation verbs introducing a subject start a
// new request, as does anything else.
func (r *Rules) Judge(instruction string) Judgment {
	tokens := r.lead(tokenize(instruction))
	if len(tokens) == 0 {
		return NewRequest
	}

	for _, tok := range tokens {
		if _, ok := r.fresh[tok]; ok {
			return NewRequest
		}
	}

	first := tokens[0]
	if _, ok := r.interrogatives[first]; ok {
		return NewRequest
	}

	if _, ok := r.creation[first]; ok {
		for i := 1; i <= creationWindow && i < len(tokens); i++ {
			if _, ok := r.determiners[tokens[i]]; ok {
				return NewRequest
			}
		}
	}

	if r.modifying(first) {
		return Refinement
	}
	if _, ok := r.anaphora[first]; ok {
		for _, tok := range tokens[1:] {
			if r.modifying(tok) {
				return Refinement
			}
		}
	}

	return NewRequest
}

func (r *Rules) modifying(tok string) bool {
	if _, ok := r.modifiers[tok]; ok {
		return true
	}
	_, ok := r.comparative[tok]
	return ok
}

// lead drops leading fillers and a "can you" style opener.
func (r *Rules) lead(tokens []string) []string {
	for len(tokens) > 0 {
		if _, ok := fillers[tokens[0]]; ok {
			tokens = tokens[1:]
			continue
		}
		if _, ok := politeModals[tokens[0]]; ok && len(tokens) > 1 && tokens[1] == "you" {
			tokens = tokens[2:]
			continue
		}
		break
	}
	return tokens
}

// tokenize lower-cases s and splits it into word tokens. Apostrophes stay
// inside words so "it's" does not become "it".
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// RuleSet holds the current rules and allows swapping them at runtime.
type RuleSet struct {
	current atomic.Pointer[Rules]
}

// NewRuleSet creates a rule set. nil means DefaultRules.
func NewRuleSet(rules *Rules) *RuleSet {
	if rules == nil {
		rules = DefaultRules()
	}
	rs := &RuleSet{}
	rs.current.Store(rules)
	return rs
}

// Load returns the current rules.
func (rs *RuleSet) Load() *Rules {
	if rs == nil {
		return DefaultRules()
	}
	return rs.current.Load()
}

// Store replaces the current rules.
func (rs *RuleSet) Store(rules *Rules) {
	if rules != nil {
		rs.current.Store(rules)
	}
}
