package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/pawprint/pkg/catalog"
)

// GroupsStrategy substring-matches groups from the external catalog
type GroupsStrategy struct {
	catalog catalog.Catalog
}

// NewGroupsStrategy creates the groups strategy
func NewGroupsStrategy(c catalog.Catalog) *GroupsStrategy {
	return &GroupsStrategy{catalog: c}
}

func (s *GroupsStrategy) EntityType() EntityType { return EntityGroups }

// Search matches name, description and tags. Name matches come first, then
// tags, then description.
func (s *GroupsStrategy) Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error) {
	groups, err := s.catalog.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	phrases := req.Expansion.Phrases()

	var matches []ranked
	for _, g := range groups {
		priority := matchPriority(phrases, g.Name, strings.Join(g.Tags, " "), g.Description)
		if priority == noMatch {
			continue
		}
		r := SearchResult{
			EntityType: EntityGroups,
			ID:         g.ID,
			Title:      g.Name,
			Snippet:    g.Description,
			Relevance:  1.0,
			Type:       "group",
			Extra: map[string]any{
				"tags":        g.Tags,
				"memberCount": g.MemberCount,
			},
		}
		if !g.CreatedAt.IsZero() {
			created := g.CreatedAt
			r.CreatedAt = &created
		}
		matches = append(matches, ranked{priority: priority, result: r})
	}
	return takeByPriority(matches, req.Limit), nil
}
