package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Title A, article type B, latest approved revision text C
const wikiDocument = `setweight(to_tsvector('english', a.title), 'A') ||
	setweight(to_tsvector('english', COALESCE(a.type, '')), 'B') ||
	setweight(to_tsvector('english', COALESCE(rev.content_text, '')), 'C')`

// WikiStrategy ranks approved wiki articles with Postgres FTS
type WikiStrategy struct {
	db Reader
}

// NewWikiStrategy creates the wiki strategy
func NewWikiStrategy(db Reader) *WikiStrategy {
	return &WikiStrategy{db: db}
}

func (s *WikiStrategy) EntityType() EntityType { return EntityWiki }

// wikiMatch writes the FROM/WHERE clause shared by the wiki search and the
// tag facet. It returns the placeholder bound to the tsquery.
func wikiMatch(b *strings.Builder, args *queryArgs, tsq string, f Filters) string {
	tsParam := args.add(tsq)
	fmt.Fprintf(b, `
		FROM articles a
		LEFT JOIN LATERAL (
			SELECT r.content_text
			FROM revisions r
			WHERE r.article_id = a.id AND r.approved_at IS NOT NULL
			ORDER BY r.rev DESC
			LIMIT 1
		) rev ON true
		CROSS JOIN LATERAL (SELECT %s AS doc) v
		WHERE a.deleted_at IS NULL
			AND a.status = 'approved'
			AND v.doc @@ to_tsquery('english', %s)
	`, wikiDocument, tsParam)

	if len(f.Tags) > 0 {
		fmt.Fprintf(b, `
			AND EXISTS (SELECT 1 FROM article_tags t WHERE t.article_id = a.id AND t.tag = ANY(%s))
		`, args.add(pq.Array(f.Tags)))
	}
	return tsParam
}

// Search returns at most req.Limit articles by rank, newest first on ties
func (s *WikiStrategy) Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error) {
	tsq := BuildTsQuery(req.Expansion)
	if tsq == "" {
		return []SearchResult{}, nil
	}

	args := &queryArgs{}
	var match strings.Builder
	tsParam := wikiMatch(&match, args, tsq, req.Filters)

	var b strings.Builder
	fmt.Fprintf(&b, `
		SELECT
			a.id,
			a.slug,
			a.title,
			COALESCE(a.type, ''),
			a.created_at,
			ts_rank_cd(v.doc, to_tsquery('english', %[1]s)) AS rank,
			ts_headline('english', COALESCE(rev.content_text, a.title), to_tsquery('english', %[1]s), 'MaxWords=30, MinWords=10') AS snippet
	`, tsParam)
	b.WriteString(match.String())
	fmt.Fprintf(&b, `
		ORDER BY rank DESC, a.created_at DESC
		LIMIT %s
	`, args.add(req.Limit))

	rows, err := s.db.QueryContext(ctx, b.String(), args.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to search wiki: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, req.Limit)
	for rows.Next() {
		var (
			id, slug, title, articleType, snippet string
			createdAt                             time.Time
			rank                                  float64
		)
		if err := rows.Scan(&id, &slug, &title, &articleType, &createdAt, &rank, &snippet); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		created := createdAt
		results = append(results, SearchResult{
			EntityType: EntityWiki,
			ID:         id,
			Title:      title,
			Snippet:    snippet,
			Relevance:  rank,
			Type:       articleType,
			CreatedAt:  &created,
			Extra:      map[string]any{"slug": slug},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}
	return results, nil
}
