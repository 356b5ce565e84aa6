// Package subscription models the monitor backend's events: who wants to be
// told about which new gazette documents.
package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/kozlony/gazette/internal/matcher"
)

// ErrInvalidSubscription marks a record that cannot be evaluated. The
// dispatcher skips such records.
var ErrInvalidSubscription = errors.New("subscription: invalid")

// Type selects how a subscription is evaluated.
type Type string

const (
	TypeAllNew   Type = "all_new"
	TypeKeyword  Type = "keyword"
	TypeFullText Type = "fulltext"
)

// ParseType maps the backend's type names, including legacy aliases, to a Type.
// An empty name is a keyword subscription, the backend's original default.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "new", "all_new", "allnew":
		return TypeAllNew, nil
	case "", "keyword", "keywords", "search":
		return TypeKeyword, nil
	case "fulltext", "full_text", "fts":
		return TypeFullText, nil
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalidSubscription, s)
}

// Subscription is one backend event record.
type Subscription struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	Parameters string `json:"parameters"`
}

// UnmarshalJSON accepts numeric or string ids; the backend has sent both.
func (s *Subscription) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         json.RawMessage `json:"id"`
		Type       string          `json:"type"`
		Parameters string          `json:"parameters"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id := bytes.TrimSpace(raw.ID)
	if len(id) > 0 && id[0] == '"' {
		var str string
		if err := json.Unmarshal(id, &str); err != nil {
			return fmt.Errorf("subscription id: %w", err)
		}
		s.ID = str
	} else if !bytes.Equal(id, []byte("null")) {
		s.ID = string(id)
	}
	s.Type = Type(raw.Type)
	s.Parameters = raw.Parameters
	return nil
}

// Normalize returns s with a canonical Type, or ErrInvalidSubscription when
// the record cannot be evaluated.
func (s Subscription) Normalize() (Subscription, error) {
	if strings.TrimSpace(s.ID) == "" {
		return s, fmt.Errorf("%w: missing id", ErrInvalidSubscription)
	}
	t, err := ParseType(string(s.Type))
	if err != nil {
		return s, err
	}
	s.Type = t
	switch t {
	case TypeKeyword:
		if len(s.Keywords()) == 0 {
			return s, fmt.Errorf("%w: %s: no keywords in %q", ErrInvalidSubscription, s.ID, s.Parameters)
		}
	case TypeFullText:
		if s.FullTextQuery() == "" {
			return s, fmt.Errorf("%w: %s: empty query %q", ErrInvalidSubscription, s.ID, s.Parameters)
		}
	}
	return s, nil
}

// Keywords splits Parameters on commas, strips wildcard and quote markup and
// drops empty terms.
func (s Subscription) Keywords() []string {
	var out []string
	for _, part := range strings.Split(s.Parameters, ",") {
		if kw := matcher.CleanKeyword(part); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// FullTextQuery turns the legacy parameter syntax into an FTS5 expression:
// every comma separated term becomes a quoted phrase, a trailing * makes it a
// prefix query, and the terms are OR-ed.
func (s Subscription) FullTextQuery() string {
	var terms []string
	for _, part := range strings.Split(s.Parameters, ",") {
		part = strings.TrimSpace(part)
		prefix := strings.HasSuffix(strings.TrimRight(part, `"`), "*")
		kw := matcher.CleanKeyword(part)
		if kw == "" {
			continue
		}
		term := `"` + kw + `"`
		if prefix {
			term += " *"
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " OR ")
}

// String is used in log lines.
func (s Subscription) String() string {
	return fmt.Sprintf("%s/%s(%q)", s.ID, s.Type, s.Parameters)
}
