package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/pawprint/pkg/catalog"
)

// match priority classes; lower sorts first
const (
	matchPrimary = iota
	matchSecondary
	matchOther
	noMatch
)

// matchPriority ranks where the first matching phrase occurs. Phrases are
// lowercase; fields are compared case-insensitively.
func matchPriority(phrases []string, primary, secondary string, rest ...string) int {
	primary = strings.ToLower(primary)
	secondary = strings.ToLower(secondary)
	other := strings.ToLower(strings.Join(rest, " "))

	best := noMatch
	for _, p := range phrases {
		switch {
		case strings.Contains(primary, p):
			return matchPrimary
		case strings.Contains(secondary, p):
			best = min(best, matchSecondary)
		case strings.Contains(other, p):
			best = min(best, matchOther)
		}
	}
	return best
}

type ranked struct {
	priority int
	result   SearchResult
}

// takeByPriority stable-sorts matches by priority and keeps at most limit
func takeByPriority(matches []ranked, limit int) []SearchResult {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].priority < matches[j].priority
	})
	out := make([]SearchResult, 0, min(limit, len(matches)))
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		out = append(out, m.result)
	}
	return out
}

// PetsStrategy substring-matches pets from the external catalog
type PetsStrategy struct {
	catalog catalog.Catalog
}

// NewPetsStrategy creates the pets strategy
func NewPetsStrategy(c catalog.Catalog) *PetsStrategy {
	return &PetsStrategy{catalog: c}
}

func (s *PetsStrategy) EntityType() EntityType { return EntityPets }

// Search applies the species filter, then matches name, breed, bio and
// species. Name matches come first, then breed, then the rest.
func (s *PetsStrategy) Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error) {
	pets, err := s.catalog.ListPets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pets: %w", err)
	}
	phrases := req.Expansion.Phrases()

	var matches []ranked
	for _, pet := range pets {
		if req.Filters.Species != "" && !strings.EqualFold(pet.Species, req.Filters.Species) {
			continue
		}
		priority := matchPriority(phrases, pet.Name, pet.Breed, pet.Bio, pet.Species)
		if priority == noMatch {
			continue
		}
		matches = append(matches, ranked{priority: priority, result: petResult(pet)})
	}
	return takeByPriority(matches, req.Limit), nil
}

func petResult(pet catalog.Pet) SearchResult {
	r := SearchResult{
		EntityType: EntityPets,
		ID:         pet.ID,
		Title:      pet.Name,
		Snippet:    strings.TrimSpace(strings.Join([]string{pet.Breed, pet.Species}, " ")),
		Relevance:  1.0,
		Type:       pet.Species,
		Extra: map[string]any{
			"species": pet.Species,
			"breed":   pet.Breed,
		},
	}
	if !pet.CreatedAt.IsZero() {
		created := pet.CreatedAt
		r.CreatedAt = &created
	}
	return r
}
