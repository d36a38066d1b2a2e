// Package moderation screens outbound message content before the bridge
// relays it: configured blocked terms and common spam patterns (links,
// phone numbers, flooding) are refused.
package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Verdict reasons.
const (
	ReasonBlockedTerm = "blocked_term"
	ReasonSpamPattern = "spam_pattern"
)

var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains of
	// common TLDs followed by a path. The trailing "/" keeps "v2.0" and
	// "3.14" clean.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches +1-555-123-4567, (555) 123-4567, 555.123.4567.
	// Anchored on whitespace so short numbers inside sentences stay clean.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// Verdict is the outcome of screening one text.
type Verdict struct {
	Blocked bool
	Reason  string // ReasonBlockedTerm or ReasonSpamPattern
	Term    string // matched term, or the spam check name
}

type spamCheck struct {
	name  string
	match func(string) bool
}

// spamChecks run in order; the first match wins.
var spamChecks = []spamCheck{
	{name: "url", match: urlPattern.MatchString},
	{name: "phone", match: phonePattern.MatchString},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// Screen checks text against a term blocklist and the spam checks. The zero
// value and nil run the spam checks only.
type Screen struct {
	terms []string // lower-cased, whitespace-normalized
}

// NewScreen builds a screen blocking terms (case-insensitive; multi-word
// terms match as phrases).
func NewScreen(terms []string) *Screen {
	s := &Screen{}
	for _, t := range terms {
		if t = normalize(t); t != "" {
			s.terms = append(s.terms, t)
		}
	}
	return s
}

// Check screens text. Blocked terms take precedence over spam patterns.
func (s *Screen) Check(text string) Verdict {
	if s != nil && len(s.terms) > 0 {
		padded := " " + normalize(text) + " "
		for _, t := range s.terms {
			if strings.Contains(padded, " "+t+" ") {
				return Verdict{Blocked: true, Reason: ReasonBlockedTerm, Term: t}
			}
		}
	}
	for _, sc := range spamChecks {
		if sc.match(text) {
			return Verdict{Blocked: true, Reason: ReasonSpamPattern, Term: sc.name}
		}
	}
	return Verdict{}
}

// normalize lower-cases text and collapses everything that is not a letter
// or digit into single spaces.
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

// hasCharFlood reports 5 or more consecutive identical characters. RE2 has
// no backreferences, hence the scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports the same word 3 or more times in a row,
// case-insensitively.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
