package parser

import (
	"sort"
	"strings"
	"unicode"
)

// SplitWhitespace trims a trace line and splits it on runs of whitespace.
func SplitWhitespace(line string) []string {
	return strings.Fields(line)
}

// SplitCriteria splits a free-form filter string into tokens. Any rune that
// is not a letter or a digit is a delimiter; empty fragments are dropped.
func SplitCriteria(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// sourceLine is a non-empty line of the source text with its 1-based line
// number in the original document.
type sourceLine struct {
	num  int
	text string
}

// splitLines splits text on CR and LF, dropping empty lines. A CRLF pair
// counts as a single line break for numbering.
func splitLines(text string) []sourceLine {
	lines := make([]sourceLine, 0, strings.Count(text, "\n")+1)
	num := 1
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\r' && c != '\n' {
			continue
		}
		if i > start {
			lines = append(lines, sourceLine{num: num, text: text[start:i]})
		}
		if c == '\r' && i+1 < len(text) && text[i+1] == '\n' {
			i++
		}
		num++
		start = i + 1
	}
	if start < len(text) {
		lines = append(lines, sourceLine{num: num, text: text[start:]})
	}
	return lines
}

// tokenSet is a case-insensitive set of criteria tokens. Keys are lower
// case; values keep the first spelling seen.
type tokenSet map[string]string

func newTokenSet(tokens []string) tokenSet {
	set := make(tokenSet, len(tokens))
	for _, tok := range tokens {
		key := strings.ToLower(tok)
		if _, ok := set[key]; !ok {
			set[key] = tok
		}
	}
	return set
}

func (s tokenSet) active() bool {
	return len(s) > 0
}

func (s tokenSet) has(tok string) bool {
	_, ok := s[strings.ToLower(tok)]
	return ok
}

func (s tokenSet) values() []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
