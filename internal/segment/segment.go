// Package segment splits reply text into speakable units.
package segment

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentences yields the trimmed, non-empty sentences of text in order. A
// sentence ends after '.', '!' or '?' when followed by whitespace; the
// remainder after the last boundary is the final unit. Units are produced
// lazily as the sequence is pulled.
func Sentences(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		rest := text
		for rest != "" {
			unit, tail := next(rest)
			rest = tail
			if unit = strings.TrimSpace(unit); unit == "" {
				continue
			}
			if !yield(unit) {
				return
			}
		}
	}
}

// next returns the first unit of s and whatever follows its boundary
// whitespace.
func next(s string) (unit, rest string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
		default:
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i+1:])
		if size == 0 || !unicode.IsSpace(r) {
			continue
		}
		end := i + 1
		return s[:end], strings.TrimLeftFunc(s[end:], unicode.IsSpace)
	}
	return s, ""
}
