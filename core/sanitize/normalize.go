// Package sanitize runs the ingestion pipeline: extract text, normalize it,
// mask it, and escalate the level until the leak gate passes. Raw input text
// exists only inside this package; everything it hands to the store is
// masked.
package sanitize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// zeroWidth lists the invisible code points stripped before masking. They
// can split a pattern (e.g. an email) into fragments the rules would miss.
var zeroWidth = []string{
	"\u200b", // zero width space
	"\u200c", // zero width non-joiner
	"\u200d", // zero width joiner
	"\u2060", // word joiner
	"\ufeff", // BOM
}

// Normalize canonicalizes text before masking: NFC form, \n line endings,
// zero-width characters stripped, horizontal whitespace runs collapsed, and
// trailing whitespace trimmed per line. The result is byte-stable for any
// input encoding of the same content.
func Normalize(text string) string {
	s := norm.NFC.String(text)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for _, zw := range zeroWidth {
		s = strings.ReplaceAll(s, zw, "")
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = collapseSpaces(line)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n ")
}

// collapseSpaces folds runs of spaces, tabs, and NBSP into a single space
// and trims the line on both ends.
func collapseSpaces(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	inRun := false
	for _, r := range line {
		if r == ' ' || r == '\t' || r == '\u00a0' {
			inRun = true
			continue
		}
		if inRun && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}
