// Package matcher finds keyword occurrences in document text and cuts a
// readable window of words around each one.
//
// Offsets are rune offsets. Matching folds case rune by rune, so offsets in
// the folded text equal offsets in the original.
package matcher

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultContextWords is the number of words kept on each side of a match.
const DefaultContextWords = 16

// Window is one keyword occurrence with its surrounding words.
//
// Before + Common + After is the window text with whitespace runs collapsed
// to one space. Common is the part of the matched word(s) shared with the
// keyword; the rest of those words is glued to Before and After.
type Window struct {
	Before  string `json:"before"`
	Common  string `json:"common"`
	After   string `json:"after"`
	Stemmed bool   `json:"stemmed,omitempty"`
}

// Text returns the full window text.
func (w Window) Text() string {
	return w.Before + w.Common + w.After
}

// Options configures a Matcher.
type Options struct {
	ContextWords int
}

// Matcher is stateless apart from its options and safe for concurrent use.
type Matcher struct {
	contextWords int
}

// New returns a Matcher. A non-positive ContextWords selects the default.
func New(opts Options) *Matcher {
	n := opts.ContextWords
	if n <= 0 {
		n = DefaultContextWords
	}
	return &Matcher{contextWords: n}
}

// CleanKeyword strips the wildcard and quote markup carried over from the
// full-text query syntax.
func CleanKeyword(keyword string) string {
	keyword = strings.NewReplacer("*", "", `"`, "").Replace(keyword)
	return strings.TrimSpace(keyword)
}

type word struct {
	start, end int // rune offsets, end exclusive
}

// Find returns one window per case-insensitive occurrence of keyword in text,
// in source order. Overlapping occurrences are reported separately.
func (m *Matcher) Find(text, keyword string) []Window {
	kw := []rune(CleanKeyword(keyword))
	if len(kw) == 0 || text == "" {
		return nil
	}
	src := []rune(text)
	folded := fold(src)
	kwFolded := fold(kw)

	offsets := occurrences(folded, kwFolded)
	if len(offsets) == 0 {
		return nil
	}
	words := splitWords(src)
	kwNorm := fold([]rune(strings.Join(strings.Fields(string(kw)), " ")))

	windows := make([]Window, 0, len(offsets))
	for _, off := range offsets {
		windows = append(windows, m.window(src, words, kwNorm, off, len(kw)))
	}
	return windows
}

// FindTiered runs Find over content and, when that yields nothing and a
// lemmatized keyword is given, over the normalized text. Windows from the
// second pass are marked Stemmed.
func (m *Matcher) FindTiered(content, normalized, keyword, lemmaKeyword string) []Window {
	windows := m.Find(content, keyword)
	if len(windows) > 0 || lemmaKeyword == "" || normalized == "" {
		return windows
	}
	windows = m.Find(normalized, lemmaKeyword)
	for i := range windows {
		windows[i].Stemmed = true
	}
	return windows
}

func (m *Matcher) window(src []rune, words []word, kw []rune, off, n int) Window {
	first := containingWord(words, off)
	last := containingWord(words, off+n-1)

	span := joinWords(src, words[first:last+1])
	spanRunes := []rune(span)
	// off lies inside the first word, so its distance from that word's start
	// is also its offset in the collapsed span.
	start, length := longestCommon(fold(spanRunes), kw, off-words[first].start)

	lo := max(0, first-m.contextWords)
	hi := min(len(words), last+1+m.contextWords)

	var w Window
	w.Before = joinWords(src, words[lo:first])
	if w.Before != "" {
		w.Before += " "
	}
	w.Before += string(spanRunes[:start])
	w.Common = string(spanRunes[start : start+length])
	w.After = string(spanRunes[start+length:])
	if after := joinWords(src, words[last+1:hi]); after != "" {
		w.After += " " + after
	}
	return w
}

func fold(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func occurrences(text, kw []rune) []int {
	var offs []int
	for i := 0; i+len(kw) <= len(text); i++ {
		if equalRunes(text[i:i+len(kw)], kw) {
			offs = append(offs, i)
		}
	}
	return offs
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitWords(src []rune) []word {
	var words []word
	start := -1
	for i, r := range src {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{start, len(src)})
	}
	return words
}

// containingWord returns the index of the word that contains offset off.
// off never points at whitespace because keywords are trimmed.
func containingWord(words []word, off int) int {
	i := sort.Search(len(words), func(i int) bool { return words[i].end > off })
	if i == len(words) {
		i = len(words) - 1
	}
	return i
}

func joinWords(src []rune, words []word) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(string(src[w.start:w.end]))
	}
	return b.String()
}

// longestCommon returns the start (in a) and length of the longest common
// substring of a and b. Among equally long candidates the one starting at
// prefer wins, otherwise the leftmost.
func longestCommon(a, b []rune, prefer int) (int, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best, bestStart := 0, 0
	preferred := false
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] != b[j-1] {
				cur[j] = 0
				continue
			}
			cur[j] = prev[j-1] + 1
			l, s := cur[j], i-cur[j]
			switch {
			case l > best:
				best, bestStart, preferred = l, s, s == prefer
			case l == best && !preferred && s == prefer:
				bestStart, preferred = s, true
			}
		}
		prev, cur = cur, prev
	}
	return bestStart, best
}
