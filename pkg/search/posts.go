package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostResultType is the Type carried by every post hit
const PostResultType = "blog_post"

const postDocument = `setweight(to_tsvector('english', bp.title), 'A') ||
	setweight(to_tsvector('english', COALESCE(bp.post_type, '')), 'B') ||
	setweight(to_tsvector('english', COALESCE(bp.content, '')), 'C')`

// PostsStrategy ranks public, published blog posts with Postgres FTS
type PostsStrategy struct {
	db Reader
}

// NewPostsStrategy creates the posts strategy
func NewPostsStrategy(db Reader) *PostsStrategy {
	return &PostsStrategy{db: db}
}

func (s *PostsStrategy) EntityType() EntityType { return EntityPosts }

// postsMatch writes the FROM/WHERE clause shared by the posts search and the
// post facets. It returns the placeholder bound to the tsquery.
func postsMatch(b *strings.Builder, args *queryArgs, tsq string, f Filters) string {
	tsParam := args.add(tsq)
	fmt.Fprintf(b, `
		FROM blog_posts bp
		CROSS JOIN LATERAL (SELECT %s AS doc) v
		WHERE bp.deleted_at IS NULL
			AND bp.is_draft = false
			AND bp.privacy = 'public'
			AND v.doc @@ to_tsquery('english', %s)
	`, postDocument, tsParam)

	if len(f.Tags) > 0 {
		fmt.Fprintf(b, `
			AND EXISTS (SELECT 1 FROM blog_post_tags t WHERE t.post_id = bp.id AND t.tag = ANY(%s))
		`, args.add(pq.Array(f.Tags)))
	}
	if f.PostType != "" {
		fmt.Fprintf(b, `
			AND bp.post_type = %s
		`, args.add(f.PostType))
	}
	if f.Species != "" {
		fmt.Fprintf(b, `
			AND bp.pet_species = %s
		`, args.add(f.Species))
	}
	return tsParam
}

// Search returns at most req.Limit posts by rank, newest first on ties
func (s *PostsStrategy) Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error) {
	tsq := BuildTsQuery(req.Expansion)
	if tsq == "" {
		return []SearchResult{}, nil
	}

	var b strings.Builder
	args := &queryArgs{}
	b.WriteString(`
		SELECT
			bp.id,
			bp.title,
			COALESCE(bp.post_type, ''),
			bp.created_at,
	`)
	var match strings.Builder
	tsParam := postsMatch(&match, args, tsq, req.Filters)
	fmt.Fprintf(&b, `
			ts_rank_cd(v.doc, to_tsquery('english', %[1]s)) AS rank,
			ts_headline('english', COALESCE(bp.content, bp.title), to_tsquery('english', %[1]s), 'MaxWords=30, MinWords=10') AS snippet,
			COALESCE((SELECT array_agg(t.tag ORDER BY t.tag) FROM blog_post_tags t WHERE t.post_id = bp.id), '{}') AS tags
	`, tsParam)
	b.WriteString(match.String())
	fmt.Fprintf(&b, `
		ORDER BY rank DESC, bp.created_at DESC
		LIMIT %s
	`, args.add(req.Limit))

	rows, err := s.db.QueryContext(ctx, b.String(), args.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, req.Limit)
	for rows.Next() {
		var (
			id, title, postType, snippet string
			createdAt                    time.Time
			rank                         float64
			tags                         []string
		)
		if err := rows.Scan(&id, &title, &postType, &createdAt, &rank, &snippet, pq.Array(&tags)); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		created := createdAt
		results = append(results, SearchResult{
			EntityType: EntityPosts,
			ID:         id,
			Title:      title,
			Snippet:    snippet,
			Relevance:  rank,
			Type:       PostResultType,
			CreatedAt:  &created,
			Extra: map[string]any{
				"postType": postType,
				"tags":     tags,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return results, nil
}
