package template

import "strings"

// DefaultThreshold is the minimum similarity for a label to resolve onto a
// canonical field.
const DefaultThreshold = 0.6

// Matcher resolves free-form extracted labels onto canonical field names.
type Matcher struct {
	fields    []Field
	threshold float64
}

// NewMatcher builds a matcher over the canonical template. A non-positive
// threshold falls back to DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{fields: Fields, threshold: threshold}
}

// Match returns the best-matching canonical field name for label, or false
// when nothing scores at or above the threshold. The candidate pool for each
// field is its canonical name plus its synonyms; ties resolve to the field
// encountered first in template order.
func (m *Matcher) Match(label string) (string, bool) {
	best := ""
	bestScore := 0.0
	for _, f := range m.fields {
		score := Similarity(label, f.Name)
		for _, syn := range f.Synonyms {
			if s := Similarity(label, syn); s > score {
				score = s
			}
		}
		if score > bestScore {
			best = f.Name
			bestScore = score
		}
	}
	if bestScore >= m.threshold {
		return best, true
	}
	return "", false
}

// Similarity scores two labels in [0,1]:
// 0.7 * sequence similarity + 0.3 * word-set Jaccard, both computed after
// lowercasing and stripping punctuation.
func Similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	return 0.7*sequenceRatio(na, nb) + 0.3*jaccard(wordSet(na), wordSet(nb))
}

// normalize lowercases and replaces punctuation with spaces, collapsing runs.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// sequenceRatio is the Ratcliff/Obershelp ratio: twice the number of matching
// characters over the total length, with matches found by recursive longest
// common substring.
func sequenceRatio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 0
	}
	return 2.0 * float64(matchingChars(a, b)) / float64(total)
}

func matchingChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	n := size
	n += matchingChars(a[:ai], b[:bi])
	n += matchingChars(a[ai+size:], b[bi+size:])
	return n
}

func longestCommonSubstring(a, b string) (ai, bi, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	// prev[j] = length of common suffix of a[:i] and b[:j]
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}
