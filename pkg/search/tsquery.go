package search

import (
	"fmt"
	"strings"
	"unicode"
)

// BuildTsQuery renders an expansion as a to_tsquery expression. Alternatives
// of one token are OR-ed, tokens are AND-ed and the words of a multi-word
// alternative are AND-ed:
//
//	gsd training  ->  ('gsd':* | ('german':* & 'shepherd':*)) & ('training':*)
//
// Every lexeme is reduced to letters and digits, quoted and suffixed for
// prefix matching, so no input can introduce tsquery operators. The result is
// always passed to Postgres as a bind parameter. An empty string means
// nothing in the expansion is searchable.
func BuildTsQuery(e Expansion) string {
	groups := make([]string, 0, len(e.Groups))
	for _, g := range e.Groups {
		alts := make([]string, 0, len(g.Alternatives))
		for _, alt := range g.Alternatives {
			if part := phraseQuery(alt); part != "" {
				alts = append(alts, part)
			}
		}
		if len(alts) == 0 {
			continue
		}
		groups = append(groups, "("+strings.Join(alts, " | ")+")")
	}
	return strings.Join(groups, " & ")
}

func phraseQuery(phrase string) string {
	var lexemes []string
	for _, word := range strings.Fields(phrase) {
		if lex := sanitizeLexeme(word); lex != "" {
			lexemes = append(lexemes, "'"+lex+"':*")
		}
	}
	switch len(lexemes) {
	case 0:
		return ""
	case 1:
		return lexemes[0]
	}
	return "(" + strings.Join(lexemes, " & ") + ")"
}

// sanitizeLexeme keeps letters and digits only
func sanitizeLexeme(word string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, word)
}

// queryArgs collects positional arguments while a statement is assembled
type queryArgs struct {
	values []any
}

// add appends v and returns its placeholder
func (a *queryArgs) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}
