package option

import (
	"fmt"
	"regexp"
	"strings"
)

// SearchString is a compiled search-string expression.
//
// The mini-language is a flat chain of terms joined by a single operator
// kind: "a | b | c" matches if any term matches, "a & b & c" if all do.
// Mixing & and | in one expression is invalid. Terms come in three flavors:
//
//	foo        literal, case-insensitive substring match
//	~foo       fuzzy, edit distance <= 2 against any word in the text
//	/fo+/      regular expression
type SearchString struct {
	raw   string
	all   bool // true for &-chains, false for |-chains
	terms []searchTerm
}

type searchTerm struct {
	literal string
	fuzzy   string
	pattern *regexp.Regexp
}

// ParseSearchString compiles an expression, failing on empty input, mixed
// operators, empty terms, and malformed regex terms. Operators inside a
// /…/ term are part of the regex, not the chain.
func ParseSearchString(s string) (*SearchString, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("empty search string")
	}

	parts, all, err := splitSearchTerms(trimmed, s)
	if err != nil {
		return nil, err
	}

	ss := &SearchString{raw: s, all: all}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("search string has an empty term: %q", s)
		}
		term, err := parseSearchTerm(part)
		if err != nil {
			return nil, err
		}
		ss.terms = append(ss.terms, term)
	}
	return ss, nil
}

// splitSearchTerms breaks the expression on its single operator kind,
// treating /…/ regex bodies as opaque. orig is the caller's unmodified
// input, used only for error attribution.
func splitSearchTerms(s, orig string) (parts []string, all bool, err error) {
	var cur strings.Builder
	var op byte
	inRegex := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inRegex:
			cur.WriteByte(c)
			if c == '/' {
				inRegex = false
			}
		case c == '|' || c == '&':
			if op == 0 {
				op = c
			} else if op != c {
				return nil, false, fmt.Errorf("search string mixes & and | operators: %q", orig)
			}
			parts = append(parts, cur.String())
			cur.Reset()
		case c == '/' && strings.TrimSpace(cur.String()) == "":
			// A term that opens with / is a regex until the closing /.
			inRegex = true
			cur.WriteByte(c)
		default:
			cur.WriteByte(c)
		}
	}
	if inRegex {
		return nil, false, fmt.Errorf("search string has an unterminated regex term: %q", orig)
	}
	return append(parts, cur.String()), op == '&', nil
}

func parseSearchTerm(part string) (searchTerm, error) {
	switch {
	case strings.HasPrefix(part, "~"):
		body := strings.TrimSpace(part[1:])
		if body == "" {
			return searchTerm{}, fmt.Errorf("fuzzy term %q has no body", part)
		}
		return searchTerm{fuzzy: strings.ToLower(body)}, nil
	case len(part) > 1 && strings.HasPrefix(part, "/") && strings.HasSuffix(part, "/"):
		re, err := regexp.Compile(part[1 : len(part)-1])
		if err != nil {
			return searchTerm{}, fmt.Errorf("regex term %q: %w", part, err)
		}
		return searchTerm{pattern: re}, nil
	default:
		return searchTerm{literal: strings.ToLower(part)}, nil
	}
}

// String returns the original expression.
func (s *SearchString) String() string { return s.raw }

// Match reports whether text satisfies the expression.
func (s *SearchString) Match(text string) bool {
	for _, t := range s.terms {
		hit := t.match(text)
		if s.all && !hit {
			return false
		}
		if !s.all && hit {
			return true
		}
	}
	return s.all
}

func (t searchTerm) match(text string) bool {
	switch {
	case t.pattern != nil:
		return t.pattern.MatchString(text)
	case t.fuzzy != "":
		for _, word := range strings.Fields(strings.ToLower(text)) {
			if editDistance(word, t.fuzzy) <= 2 {
				return true
			}
		}
		return false
	default:
		return strings.Contains(strings.ToLower(text), t.literal)
	}
}

// editDistance computes Levenshtein distance with a rolling single-row table.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur := make([]int, len(rb)+1)
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev = cur
	}
	return prev[len(rb)]
}
