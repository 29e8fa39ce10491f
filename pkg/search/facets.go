package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/pawprint/pkg/catalog"
	"github.com/platinummonkey/pawprint/pkg/observability"
)

// Facets are per-value counts used to refine a search
type Facets struct {
	Species   map[string]int `json:"species"`
	Tags      map[string]int `json:"tags"`
	PostTypes map[string]int `json:"postTypes"`
}

// EmptyFacets has non-nil maps so every facet serializes as an object
func EmptyFacets() Facets {
	return Facets{
		Species:   map[string]int{},
		Tags:      map[string]int{},
		PostTypes: map[string]int{},
	}
}

// FacetComputer computes facets for an expanded query
type FacetComputer interface {
	Compute(ctx context.Context, exp Expansion, q SearchQuery) Facets
}

// FacetAggregator counts species from the catalog and tags and post types
// from Postgres. Each facet is computed independently; a failed facet is
// returned empty.
type FacetAggregator struct {
	db      Reader
	catalog catalog.Catalog
	timeout time.Duration
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewFacetAggregator creates a facet aggregator
func NewFacetAggregator(db Reader, c catalog.Catalog, timeout time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *FacetAggregator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &FacetAggregator{db: db, catalog: c, timeout: timeout, logger: logger, metrics: metrics}
}

// Compute runs the facets that apply to q.Types concurrently
func (f *FacetAggregator) Compute(ctx context.Context, exp Expansion, q SearchQuery) Facets {
	types := NormalizeEntityTypes(q.Types)
	facets := EmptyFacets()
	tsq := BuildTsQuery(exp)

	g, gctx := errgroup.WithContext(ctx)
	if containsType(types, EntityPets) || containsType(types, EntityPosts) {
		g.Go(func() error {
			facets.Species = f.guard(gctx, "species", func(ctx context.Context) (map[string]int, error) {
				return f.speciesCounts(ctx, exp, containsType(types, EntityPets))
			})
			return nil
		})
	}
	if tsq != "" && (containsType(types, EntityPosts) || containsType(types, EntityWiki)) {
		g.Go(func() error {
			facets.Tags = f.guard(gctx, "tags", func(ctx context.Context) (map[string]int, error) {
				return f.tagCounts(ctx, tsq, q.Filters, types)
			})
			return nil
		})
	}
	if tsq != "" && containsType(types, EntityPosts) {
		g.Go(func() error {
			facets.PostTypes = f.guard(gctx, "postTypes", func(ctx context.Context) (map[string]int, error) {
				return f.postTypeCounts(ctx, tsq, q.Filters)
			})
			return nil
		})
	}
	_ = g.Wait()
	return facets
}

// guard bounds one facet with the timeout and turns errors and panics into
// an empty map
func (f *FacetAggregator) guard(ctx context.Context, name string, fn func(context.Context) (map[string]int, error)) (counts map[string]int) {
	logger := observability.FromContextOr(ctx, f.logger).WithField("facet", name)
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("facet computation panicked")
			f.metrics.FacetFailed(name)
			counts = map[string]int{}
		}
	}()

	counts, err := fn(ctx)
	if err != nil {
		logger.WithError(err).Warn("facet computation failed, returning empty counts")
		f.metrics.FacetFailed(name)
		return map[string]int{}
	}
	return counts
}

// speciesCounts counts matching pets when pets are searched, or every pet
// when only posts are
func (f *FacetAggregator) speciesCounts(ctx context.Context, exp Expansion, matchOnly bool) (map[string]int, error) {
	pets, err := f.catalog.ListPets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pets: %w", err)
	}
	phrases := exp.Phrases()
	counts := map[string]int{}
	for _, pet := range pets {
		if pet.Species == "" {
			continue
		}
		if matchOnly && matchPriority(phrases, pet.Name, pet.Breed, pet.Bio, pet.Species) == noMatch {
			continue
		}
		counts[strings.ToLower(pet.Species)]++
	}
	return counts, nil
}

// tagCounts counts tags over matching posts and wiki articles and sums
// counts for tags present in both
func (f *FacetAggregator) tagCounts(ctx context.Context, tsq string, filters Filters, types []EntityType) (map[string]int, error) {
	counts := map[string]int{}

	if containsType(types, EntityPosts) {
		args := &queryArgs{}
		var match strings.Builder
		postsMatch(&match, args, tsq, filters)
		query := `
			SELECT t.tag, COUNT(*)
			FROM blog_post_tags t
			WHERE t.post_id IN (SELECT bp.id ` + match.String() + `)
			GROUP BY t.tag
		`
		if err := f.collectCounts(ctx, counts, query, args.values...); err != nil {
			return nil, fmt.Errorf("failed to count post tags: %w", err)
		}
	}

	if containsType(types, EntityWiki) {
		args := &queryArgs{}
		var match strings.Builder
		wikiMatch(&match, args, tsq, filters)
		query := `
			SELECT t.tag, COUNT(*)
			FROM article_tags t
			WHERE t.article_id IN (SELECT a.id ` + match.String() + `)
			GROUP BY t.tag
		`
		if err := f.collectCounts(ctx, counts, query, args.values...); err != nil {
			return nil, fmt.Errorf("failed to count article tags: %w", err)
		}
	}
	return counts, nil
}

// postTypeCounts ignores the post type filter so every type stays selectable
func (f *FacetAggregator) postTypeCounts(ctx context.Context, tsq string, filters Filters) (map[string]int, error) {
	filters.PostType = ""
	args := &queryArgs{}
	var match strings.Builder
	postsMatch(&match, args, tsq, filters)
	query := `
		SELECT COALESCE(bp.post_type, ''), COUNT(*)
	` + match.String() + `
		GROUP BY 1
	`
	counts := map[string]int{}
	if err := f.collectCounts(ctx, counts, query, args.values...); err != nil {
		return nil, fmt.Errorf("failed to count post types: %w", err)
	}
	delete(counts, "")
	return counts, nil
}

// collectCounts adds (key, count) rows into counts
func (f *FacetAggregator) collectCounts(ctx context.Context, counts map[string]int, query string, args ...any) error {
	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		counts[key] += count
	}
	return rows.Err()
}

// SuggestTags returns up to limit of the most used post and wiki tags that
// contain any of the tokens
func (f *FacetAggregator) SuggestTags(ctx context.Context, tokens []string, limit int) ([]string, error) {
	patterns := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			patterns = append(patterns, "%"+escapeLike(tok)+"%")
		}
	}
	if len(patterns) == 0 {
		return []string{}, nil
	}

	rows, err := f.db.QueryContext(ctx, `
		SELECT tag
		FROM (
			SELECT tag FROM blog_post_tags
			UNION ALL
			SELECT tag FROM article_tags
		) all_tags
		WHERE tag ILIKE ANY($1)
		GROUP BY tag
		ORDER BY COUNT(*) DESC, tag ASC
		LIMIT $2
	`, pq.Array(patterns), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0, limit)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return tags, nil
}
