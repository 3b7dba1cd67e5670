// Package moderation screens relayed chat text for blocked terms and spam
// patterns. The gateway publishes every relayed text to the moderator over
// NATS; the moderator runs Filter.Check and answers with a verdict.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of Filter.Check. The zero value is a clean
// verdict.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term or spam check name
}

// Filter matches text against a keyword blocklist and the spam checks.
// It is read-only after construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

// NewFilter returns a Filter loaded with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms returns a Filter for the given terms. Terms containing
// whitespace are matched as whole-word phrases; blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		fields := strings.Fields(strings.ToLower(term))
		switch len(fields) {
		case 0:
		case 1:
			f.words[fields[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, fields)
		}
	}
	return f
}

// Check screens text. Blocked keywords win over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	if strings.TrimSpace(text) == "" {
		return FilterResult{}
	}
	lower := strings.ToLower(text)

	if term, ok := f.matchTokens(tokenizePlain(lower)); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	var leet []string
	for _, tok := range tokenizeLeet(lower) {
		leet = append(leet, tokenizePlain(normalizeLeet(tok))...)
	}
	if term, ok := f.matchTokens(leet); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.checkSpamPatterns(text)
}

func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsRun(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsRun(tokens, run []string) bool {
	for i := 0; i+len(run) <= len(tokens); i++ {
		match := true
		for j := range run {
			if tokens[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// normalizeLeet maps common character substitutions back to letters.
func normalizeLeet(s string) string {
	return leetReplacer.Replace(s)
}

// tokenizePlain splits on anything that is not a letter or digit.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace only so substitution characters stay
// inside their word.
func tokenizeLeet(s string) []string {
	return strings.Fields(s)
}
