package moderation

import (
	"regexp"
	"strings"
)

const (
	charFloodRun = 5 // identical runes in a row
	wordFloodRun = 3 // identical words in a row, case-insensitive
)

var (
	// Bare domains need a path so "v2.0" and "3.14" stay clean.
	linkRe = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|me|gg|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// Anchored on whitespace so short numbers inside sentences stay clean.
	phoneRe = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)

	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

	// Strangers trading off-platform handles, e.g. "snap: jdoe" or "add me on ig @jdoe".
	handleRe = regexp.MustCompile(`(?i)\b(snap(chat)?|insta(gram)?|ig|telegram|tg|whatsapp|kik|discord)\b\s*(:|@|-)\s*@?[a-z0-9_.]{3,}`)
)

// spamRule is one named spam check. The name is reported as the matched
// term.
type spamRule struct {
	name  string
	match func(text string) bool
}

// spamRules run in order; the first hit wins.
var spamRules = []spamRule{
	{"url", linkRe.MatchString},
	{"email", emailRe.MatchString},
	{"phone", phoneRe.MatchString},
	{"contact_handle", handleRe.MatchString},
	{"char_flood", hasCharFlood},
	{"word_flood", hasWordFlood},
}

func hasCharFlood(text string) bool {
	run, prev := 0, rune(-1)
	for _, r := range text {
		if r == prev {
			run++
		} else {
			run, prev = 1, r
		}
		if run >= charFloodRun {
			return true
		}
	}
	return false
}

func hasWordFlood(text string) bool {
	run, prev := 0, ""
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(w)
		if w == prev {
			run++
		} else {
			run, prev = 1, w
		}
		if run >= wordFloodRun {
			return true
		}
	}
	return false
}

func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, r := range spamRules {
		if r.match(text) {
			return FilterResult{Blocked: true, Reason: "spam_pattern", Term: r.name}
		}
	}
	return FilterResult{}
}
