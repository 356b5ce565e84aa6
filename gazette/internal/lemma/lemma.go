// Package lemma talks to the lemmatizer gateway, a service that tags text with
// lemmas and parts of speech. Only content-bearing, alphabetic lemmas are kept.
package lemma

import (
	"context"
	"strings"
	"unicode"
)

// Lemmatizer turns text chunks into one sequence of normalized tokens.
type Lemmatizer interface {
	Lemmatize(ctx context.Context, chunks []string) ([]string, error)
}

// Token is one tagged token as returned by the gateway.
type Token struct {
	Text  string `json:"text,omitempty"`
	Lemma string `json:"lemma"`
	POS   string `json:"pos"`
}

// ContentPOS lists the universal POS tags that carry meaning for matching.
var ContentPOS = map[string]bool{
	"NOUN":  true,
	"ADJ":   true,
	"PROPN": true,
	"ADP":   true,
	"ADV":   true,
	"VERB":  true,
}

// Filter keeps tokens whose POS is in ContentPOS and whose lemma consists of
// letters only, lower-cased.
func Filter(tokens []Token) []string {
	var out []string
	for _, t := range tokens {
		if !ContentPOS[strings.ToUpper(t.POS)] || !alphabetic(t.Lemma) {
			continue
		}
		out = append(out, strings.ToLower(t.Lemma))
	}
	return out
}

func alphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Disabled is the lemmatizer used when lemmatization is switched off.
type Disabled struct{}

// Lemmatize returns no tokens.
func (Disabled) Lemmatize(context.Context, []string) ([]string, error) { return nil, nil }

// Enabled reports whether l actually lemmatizes.
func Enabled(l Lemmatizer) bool {
	if l == nil {
		return false
	}
	_, off := l.(Disabled)
	return !off
}

// Text lemmatizes chunks and joins the tokens with single spaces. This is the
// normalized content stored next to a document.
func Text(ctx context.Context, l Lemmatizer, chunks []string) (string, error) {
	if !Enabled(l) {
		return "", nil
	}
	tokens, err := l.Lemmatize(ctx, chunks)
	if err != nil {
		return "", err
	}
	return strings.Join(tokens, " "), nil
}

// Keyword returns the lemmatized form of a keyword for the fallback pass. When
// the gateway drops every token (stop words, digits) the lower-cased keyword
// is used as is.
func Keyword(ctx context.Context, l Lemmatizer, keyword string) (string, error) {
	if !Enabled(l) || strings.TrimSpace(keyword) == "" {
		return "", nil
	}
	tokens, err := l.Lemmatize(ctx, []string{keyword})
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return strings.ToLower(strings.TrimSpace(keyword)), nil
	}
	return strings.Join(tokens, " "), nil
}
