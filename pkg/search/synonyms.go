package search

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SynonymEntry maps a term to its ordered synonyms
type SynonymEntry struct {
	ID        string    `json:"id"`
	Term      string    `json:"term"`
	Synonyms  []string  `json:"synonyms"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SynonymStore persists synonym entries
type SynonymStore interface {
	// Lookup returns the entry keyed by term, or nil when there is none
	Lookup(ctx context.Context, term string) (*SynonymEntry, error)
	// Reverse returns every entry whose synonym list contains term
	Reverse(ctx context.Context, term string) ([]SynonymEntry, error)
	Upsert(ctx context.Context, term string, synonyms []string) (*SynonymEntry, error)
	List(ctx context.Context, limit, offset int) ([]SynonymEntry, error)
}

// TermGroup is one original query token together with its alternatives.
// Alternatives[0] is always the token itself; alternatives may be phrases.
type TermGroup struct {
	Token        string   `json:"token"`
	Alternatives []string `json:"alternatives"`
}

// Expansion is the result of expanding a query through the synonym graph
type Expansion struct {
	Original string
	// Terms is the ordered, deduplicated word set
	Terms []string
	// Query is Terms joined by spaces
	Query  string
	Groups []TermGroup
}

// Phrases returns every distinct alternative across groups in first-seen
// order. Substring matchers use these so "german shepherd" stays a phrase.
func (e Expansion) Phrases() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range e.Groups {
		for _, alt := range g.Alternatives {
			if !seen[alt] {
				seen[alt] = true
				out = append(out, alt)
			}
		}
	}
	return out
}

// PlainExpansion builds an expansion with no synonyms
func PlainExpansion(text string) Expansion {
	e := Expansion{Original: text}
	words := newOrderedSet()
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		e.Groups = append(e.Groups, TermGroup{Token: tok, Alternatives: []string{tok}})
		words.add(tok)
	}
	e.Terms = words.items
	e.Query = strings.Join(e.Terms, " ")
	return e
}

// SynonymGraph expands query text through a SynonymStore in both directions
type SynonymGraph struct {
	store  SynonymStore
	logger logrus.FieldLogger
}

// NewSynonymGraph creates a synonym graph
func NewSynonymGraph(store SynonymStore, logger logrus.FieldLogger) *SynonymGraph {
	return &SynonymGraph{store: store, logger: logger}
}

// Expand lowercases and splits text on whitespace, then for every token adds
// the token's forward synonyms and, for every entry listing the token as a
// synonym, that entry's term and remaining synonyms. Expansion is one hop,
// so re-expanding the result may reach entries that only share a sibling.
// Store failures are logged and the token is carried through unexpanded.
func (g *SynonymGraph) Expand(ctx context.Context, text string) Expansion {
	e := Expansion{Original: text}
	words := newOrderedSet()

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		alts := newOrderedSet()
		alts.add(tok)

		entry, err := g.store.Lookup(ctx, tok)
		if err != nil {
			g.logger.WithError(err).WithField("term", tok).Warn("synonym lookup failed, continuing without expansion")
		} else if entry != nil {
			for _, s := range entry.Synonyms {
				alts.add(s)
			}
		}

		reverse, err := g.store.Reverse(ctx, tok)
		if err != nil {
			g.logger.WithError(err).WithField("term", tok).Warn("reverse synonym lookup failed, continuing without expansion")
		}
		for _, rev := range reverse {
			alts.add(rev.Term)
			for _, s := range rev.Synonyms {
				if s != tok {
					alts.add(s)
				}
			}
		}

		e.Groups = append(e.Groups, TermGroup{Token: tok, Alternatives: alts.items})
		for _, alt := range alts.items {
			for _, w := range strings.Fields(alt) {
				words.add(w)
			}
		}
	}

	e.Terms = words.items
	e.Query = strings.Join(e.Terms, " ")
	return e
}

// Upsert validates and stores an entry keyed by term
func (g *SynonymGraph) Upsert(ctx context.Context, term string, synonyms []string) (*SynonymEntry, error) {
	term = normalizeTerm(term)
	if term == "" {
		return nil, &ValidationError{Field: "term", Message: "is required"}
	}
	synonyms = NormalizeSynonyms(term, synonyms)
	if len(synonyms) == 0 {
		return nil, &ValidationError{Field: "synonyms", Message: "must contain at least one synonym"}
	}
	return g.store.Upsert(ctx, term, synonyms)
}

// List returns stored entries ordered by term
func (g *SynonymGraph) List(ctx context.Context, limit, offset int) ([]SynonymEntry, error) {
	return g.store.List(ctx, limit, offset)
}

// NormalizeSynonyms lowercases, trims and deduplicates synonyms, preserving
// order and dropping blanks and the term itself
func NormalizeSynonyms(term string, synonyms []string) []string {
	set := newOrderedSet()
	for _, s := range synonyms {
		s = normalizeTerm(s)
		if s == "" || s == term {
			continue
		}
		set.add(s)
	}
	return set.items
}

// normalizeTerm lowercases and collapses internal whitespace
func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}
