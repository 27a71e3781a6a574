package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxTokenLength caps a token in runes; longer tokens are truncated.
const MaxTokenLength = 64

func foldAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Tokenize folds accents, lowercases and splits s on anything that is not a
// letter or digit.
func Tokenize(s string) []string {
	s = strings.ToLower(foldAccents(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		if r := []rune(f); len(r) > MaxTokenLength {
			fields[i] = string(r[:MaxTokenLength])
		}
	}
	return fields
}

// UniqueTerms tokenizes every input and returns the distinct tokens in
// first-seen order.
func UniqueTerms(inputs ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, in := range inputs {
		for _, tok := range Tokenize(in) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}
