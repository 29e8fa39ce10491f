package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pawprint/pkg/catalog"
	"github.com/platinummonkey/pawprint/pkg/observability"
)

const (
	DefaultSuggestLimit = 10
	MaxSuggestLimit     = 20
)

// Suggestion is a typeahead entry
type Suggestion struct {
	EntityType EntityType `json:"entityType"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
}

// Suggester produces typeahead suggestions. Stages run in order, posts,
// wiki, places, pets, groups, and a stage only runs while fewer than limit
// suggestions have been collected. A failing stage is skipped.
type Suggester struct {
	db       Reader
	catalog  catalog.Catalog
	expander Expander
	logger   logrus.FieldLogger
}

// NewSuggester creates a suggester
func NewSuggester(db Reader, c catalog.Catalog, expander Expander, logger logrus.FieldLogger) *Suggester {
	return &Suggester{db: db, catalog: c, expander: expander, logger: logger}
}

type suggestStage struct {
	name string
	run  func(ctx context.Context, phrases []string, remaining int) ([]Suggestion, error)
}

// Suggest validates q and limit, expands q and collects at most limit
// suggestions
func (s *Suggester) Suggest(ctx context.Context, q string, limit int) ([]Suggestion, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, &ValidationError{Field: "q", Message: "is required"}
	}
	if len([]rune(q)) > MaxQueryLength {
		return nil, &ValidationError{Field: "q", Message: fmt.Sprintf("must be at most %d characters", MaxQueryLength)}
	}
	if limit < 1 || limit > MaxSuggestLimit {
		return nil, &ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxSuggestLimit)}
	}

	phrases := s.expander.Expand(ctx, q).Phrases()
	if len(phrases) == 0 {
		return []Suggestion{}, nil
	}
	logger := observability.FromContextOr(ctx, s.logger)

	half := (limit + 1) / 2
	stages := []suggestStage{
		{"posts", func(ctx context.Context, phrases []string, _ int) ([]Suggestion, error) {
			return s.titlePrefix(ctx, EntityPosts, phrases, half)
		}},
		{"wiki", func(ctx context.Context, phrases []string, _ int) ([]Suggestion, error) {
			return s.titlePrefix(ctx, EntityWiki, phrases, half)
		}},
		{"places", s.places},
		{"pets", s.pets},
		{"groups", s.groups},
	}

	out := make([]Suggestion, 0, limit)
	for _, stage := range stages {
		if len(out) >= limit {
			break
		}
		found, err := stage.run(ctx, phrases, limit-len(out))
		if err != nil {
			logger.WithError(err).WithField("stage", stage.name).Warn("suggest stage failed, skipping")
			continue
		}
		out = append(out, found...)
	}
	return Paginate(out, limit, 0), nil
}

// thirdOf is the per-stage share for the catalog-backed stages
func thirdOf(remaining int) int {
	return (remaining + 2) / 3
}

// titlePrefix matches titles starting with any phrase. Titles starting with
// the first phrase rank first, then titles containing it, then the rest,
// shorter titles first within each class.
func (s *Suggester) titlePrefix(ctx context.Context, t EntityType, phrases []string, limit int) ([]Suggestion, error) {
	args := &queryArgs{}
	conditions := make([]string, len(phrases))
	for i, p := range phrases {
		conditions[i] = "title ILIKE " + args.add(escapeLike(p)+"%")
	}
	first := escapeLike(phrases[0])
	startsWith := args.add(first + "%")
	contains := args.add("%" + first + "%")

	var source string
	switch t {
	case EntityPosts:
		source = `
			SELECT bp.id, bp.title, LEFT(COALESCE(bp.content, bp.title), 100) AS snippet
			FROM blog_posts bp
			WHERE bp.deleted_at IS NULL AND bp.is_draft = false AND bp.privacy = 'public'`
	case EntityWiki:
		source = `
			SELECT a.id, a.title, a.title AS snippet
			FROM articles a
			WHERE a.deleted_at IS NULL AND a.status = 'approved'`
	default:
		return nil, fmt.Errorf("no title source for %s", t)
	}

	query := fmt.Sprintf(`
		SELECT id, title, snippet
		FROM (%s) candidates
		WHERE %s
		ORDER BY
			CASE WHEN title ILIKE %s THEN 1 WHEN title ILIKE %s THEN 2 ELSE 3 END,
			LENGTH(title) ASC,
			title ASC
		LIMIT %s
	`, source, strings.Join(conditions, " OR "), startsWith, contains, args.add(limit))

	rows, err := s.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest %s: %w", t, err)
	}
	defer rows.Close()

	out := make([]Suggestion, 0, limit)
	for rows.Next() {
		sg := Suggestion{EntityType: t}
		if err := rows.Scan(&sg.ID, &sg.Title, &sg.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan %s suggestion: %w", t, err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *Suggester) places(ctx context.Context, phrases []string, remaining int) ([]Suggestion, error) {
	pattern := "%" + escapeLike(phrases[0]) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(address, '')
		FROM places
		WHERE moderation_status = 'approved'
			AND deleted_at IS NULL
			AND (name ILIKE $1 OR address ILIKE $1)
		ORDER BY name ASC
		LIMIT $2
	`, pattern, thirdOf(remaining))
	if err != nil {
		return nil, fmt.Errorf("failed to suggest places: %w", err)
	}
	defer rows.Close()

	out := make([]Suggestion, 0)
	for rows.Next() {
		sg := Suggestion{EntityType: EntityPlaces}
		if err := rows.Scan(&sg.ID, &sg.Title, &sg.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan place suggestion: %w", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *Suggester) pets(ctx context.Context, phrases []string, remaining int) ([]Suggestion, error) {
	pets, err := s.catalog.ListPets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pets: %w", err)
	}
	take := thirdOf(remaining)
	out := make([]Suggestion, 0, take)
	for _, pet := range pets {
		if len(out) == take {
			break
		}
		text := strings.ToLower(strings.Join([]string{pet.Name, pet.Breed, pet.Species}, " "))
		if !strings.Contains(text, phrases[0]) {
			continue
		}
		snippet := pet.Species
		if pet.Breed != "" {
			snippet = pet.Species + " - " + pet.Breed
		}
		out = append(out, Suggestion{EntityType: EntityPets, ID: pet.ID, Title: pet.Name, Snippet: snippet})
	}
	return out, nil
}

func (s *Suggester) groups(ctx context.Context, phrases []string, remaining int) ([]Suggestion, error) {
	groups, err := s.catalog.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	take := thirdOf(remaining)
	out := make([]Suggestion, 0, take)
	for _, g := range groups {
		if len(out) == take {
			break
		}
		text := strings.ToLower(g.Name + " " + g.Description)
		if !strings.Contains(text, phrases[0]) {
			continue
		}
		out = append(out, Suggestion{EntityType: EntityGroups, ID: g.ID, Title: g.Name, Snippet: g.Description})
	}
	return out, nil
}
