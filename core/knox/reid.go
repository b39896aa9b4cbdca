package knox

import "strings"

// normalizeForMatch lowercases text and collapses all whitespace runs to
// single spaces, so formatting differences never hide a verbatim quote.
func normalizeForMatch(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ngrams returns the set of n-word windows in normalized text.
func ngrams(text string, n int) map[string]struct{} {
	words := strings.Fields(text)
	out := make(map[string]struct{})
	for i := 0; i+n <= len(words); i++ {
		out[strings.Join(words[i:i+n], " ")] = struct{}{}
	}
	return out
}

// quoteDetected reports whether any n-word run from the inputs appears
// verbatim in the output, with n = quoteLimitWords + 1: quotes up to the
// limit are tolerated, anything longer trips the guard.
func quoteDetected(inputs []string, output string, quoteLimitWords int) bool {
	n := quoteLimitWords + 1
	seen := make(map[string]struct{})
	for _, in := range inputs {
		for g := range ngrams(normalizeForMatch(in), n) {
			seen[g] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return false
	}

	words := strings.Fields(normalizeForMatch(output))
	for i := 0; i+n <= len(words); i++ {
		if _, ok := seen[strings.Join(words[i:i+n], " ")]; ok {
			return true
		}
	}
	return false
}
