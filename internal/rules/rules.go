// Package rules implements the rule engine: a small set of predicate
// types, each matched against a normalized email context, that the
// Importance Analyzer composes to score and explain its verdicts.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind identifies one of the fixed rule predicate types. The set is
// closed — ParseRule rejects anything outside it rather than silently
// ignoring an unrecognized configuration entry.
type Kind string

const (
	KindKeyword         Kind = "keyword"
	KindDomain          Kind = "domain"
	KindLabel           Kind = "label"
	KindNoReply         Kind = "no_reply"
	KindLargeAttachment Kind = "large_attachment"
)

// EmailContext is the normalized view of an email that rules evaluate
// against. It is independent of any Gmail wire type so rules never import
// the Gmail client package.
type EmailContext struct {
	Sender         string
	Subject        string
	Snippet        string
	Labels         []string
	HasAttachments bool
	SizeBytes      int64
}

// Result is the outcome of evaluating a single rule against a context.
type Result struct {
	Matched bool
	Weight  float64
	Reason  string
}

// Rule is a single configured predicate: a Kind plus the parameters and
// weight loaded from configuration.
type Rule struct {
	Name   string
	Kind   Kind
	Weight float64

	// Keyword/Domain/Label rules
	Terms []string
	// NoReply rule has no parameters beyond its weight.
	// LargeAttachment rule.
	MinSizeBytes int64

	// priority is the configured ordering attribute (high evaluates
	// first); it is independent of weight. insertionOrder is the rule's
	// position in its configured list, used only to break ties when two
	// rules share the same priority.
	priority       int
	insertionOrder int

	// keywordPatterns holds one compiled, word-boundary regexp per entry
	// in Terms, built once at parse time for KindKeyword rules.
	keywordPatterns []*regexp.Regexp
}

// RawRule is the shape rules are configured in (JSON/YAML), before
// ParseRule validates and converts it.
type RawRule struct {
	Name         string   `json:"name" yaml:"name"`
	Type         string   `json:"type" yaml:"type"`
	Priority     int      `json:"priority" yaml:"priority"`
	Weight       float64  `json:"weight" yaml:"weight"`
	Terms        []string `json:"terms" yaml:"terms"`
	MinSizeBytes int64    `json:"min_size_bytes" yaml:"min_size_bytes"`
}

// ParseRule validates and converts a RawRule into a Rule, failing fast on
// an unknown type rather than silently dropping it. insertionOrder is the
// rule's position within its configured list, used only as a tie-breaker
// when two rules share the same configured Priority.
func ParseRule(raw RawRule, insertionOrder int) (Rule, error) {
	kind := Kind(raw.Type)
	var keywordPatterns []*regexp.Regexp
	switch kind {
	case KindKeyword:
		if len(raw.Terms) == 0 {
			return Rule{}, fmt.Errorf("rule type %q requires at least one term", raw.Type)
		}
		keywordPatterns = make([]*regexp.Regexp, len(raw.Terms))
		for i, term := range raw.Terms {
			pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
			if err != nil {
				return Rule{}, fmt.Errorf("rule type %q has invalid term %q: %w", raw.Type, term, err)
			}
			keywordPatterns[i] = pattern
		}
	case KindDomain, KindLabel:
		if len(raw.Terms) == 0 {
			return Rule{}, fmt.Errorf("rule type %q requires at least one term", raw.Type)
		}
	case KindNoReply:
		// no parameters required
	case KindLargeAttachment:
		if raw.MinSizeBytes <= 0 {
			return Rule{}, fmt.Errorf("rule type %q requires a positive min_size_bytes", raw.Type)
		}
	default:
		return Rule{}, fmt.Errorf("unknown rule type %q", raw.Type)
	}

	weight := raw.Weight
	if weight == 0 {
		weight = 1.0
	}

	name := raw.Name
	if name == "" {
		name = fmt.Sprintf("%s_%d", kind, insertionOrder)
	}

	return Rule{
		Name:            name,
		Kind:            kind,
		Weight:          weight,
		Terms:           raw.Terms,
		MinSizeBytes:    raw.MinSizeBytes,
		priority:        raw.Priority,
		insertionOrder:  insertionOrder,
		keywordPatterns: keywordPatterns,
	}, nil
}

// Priority returns the rule's configured ordering attribute.
func (r Rule) Priority() int { return r.priority }

// Evaluate runs the rule against ctx. It is pure: no I/O, no mutation of
// ctx, and the same inputs always produce the same Result.
func (r Rule) Evaluate(ctx EmailContext) Result {
	switch r.Kind {
	case KindKeyword:
		return r.evaluateKeyword(ctx)
	case KindDomain:
		return r.evaluateDomain(ctx)
	case KindLabel:
		return r.evaluateLabel(ctx)
	case KindNoReply:
		return r.evaluateNoReply(ctx)
	case KindLargeAttachment:
		return r.evaluateLargeAttachment(ctx)
	default:
		return Result{Matched: false}
	}
}

func (r Rule) evaluateKeyword(ctx EmailContext) Result {
	haystack := ctx.Subject + " " + ctx.Snippet
	var matched []string
	for i, pattern := range r.keywordPatterns {
		if pattern.MatchString(haystack) {
			matched = append(matched, r.Terms[i])
		}
	}
	if len(matched) == 0 {
		return Result{Matched: false}
	}
	return Result{
		Matched: true,
		Weight:  float64(len(matched)) * r.Weight,
		Reason:  fmt.Sprintf("keywords matched: %s", strings.Join(matched, ", ")),
	}
}

func (r Rule) evaluateDomain(ctx EmailContext) Result {
	sender := strings.ToLower(ctx.Sender)
	for _, domain := range r.Terms {
		if strings.Contains(sender, strings.ToLower(domain)) {
			return Result{Matched: true, Weight: r.Weight, Reason: fmt.Sprintf("sender domain %q matched", domain)}
		}
	}
	return Result{Matched: false}
}

func (r Rule) evaluateLabel(ctx EmailContext) Result {
	var matched []string
	for _, want := range r.Terms {
		for _, have := range ctx.Labels {
			if strings.EqualFold(want, have) {
				matched = append(matched, want)
				break
			}
		}
	}
	if len(matched) == 0 {
		return Result{Matched: false}
	}
	return Result{
		Matched: true,
		Weight:  float64(len(matched)) * r.Weight,
		Reason:  fmt.Sprintf("labels matched: %s", strings.Join(matched, ", ")),
	}
}

func (r Rule) evaluateNoReply(ctx EmailContext) Result {
	sender := strings.ToLower(ctx.Sender)
	if strings.Contains(sender, "no-reply") || strings.Contains(sender, "noreply") || strings.Contains(sender, "donotreply") {
		return Result{Matched: true, Weight: r.Weight, Reason: "sender is a no-reply address"}
	}
	return Result{Matched: false}
}

func (r Rule) evaluateLargeAttachment(ctx EmailContext) Result {
	if ctx.HasAttachments && ctx.SizeBytes > r.MinSizeBytes {
		return Result{Matched: true, Weight: r.Weight, Reason: fmt.Sprintf("attachment size %d > threshold %d", ctx.SizeBytes, r.MinSizeBytes)}
	}
	return Result{Matched: false}
}

// Set is an ordered collection of rules, evaluated together.
type Set []Rule

// ParseRules converts a slice of RawRule into a Set. Each rule keeps its
// configured Priority; configuration order is recorded as the insertion
// order used to break priority ties. It fails fast on the first invalid
// rule.
func ParseRules(raw []RawRule) (Set, error) {
	set := make(Set, 0, len(raw))
	for i, r := range raw {
		parsed, err := ParseRule(r, i)
		if err != nil {
			return nil, fmt.Errorf("rule[%d]: %w", i, err)
		}
		set = append(set, parsed)
	}
	return set, nil
}

// EvaluateAll evaluates every rule in the set against ctx and returns the
// matches, ordered by descending priority with ties broken by insertion
// order. Every rule is evaluated regardless of order; no short-circuit.
func (s Set) EvaluateAll(ctx EmailContext) []Result {
	ordered := s.Ordered()
	var matches []Result
	for _, rule := range ordered {
		if res := rule.Evaluate(ctx); res.Matched {
			matches = append(matches, res)
		}
	}
	return matches
}

// Ordered returns a copy of s sorted by descending Priority, with ties
// broken by ascending insertion order — the order spec'd rules are applied
// in.
func (s Set) Ordered() Set {
	ordered := make(Set, len(s))
	copy(ordered, s)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].insertionOrder < ordered[j].insertionOrder
	})
	return ordered
}
