package search

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSavedSearchName bounds the display name of a saved search
const MaxSavedSearchName = 100

// SavedSearch is a persisted query configuration
type SavedSearch struct {
	ID            string       `json:"id"`
	UserID        *string      `json:"userId"`
	Name          string       `json:"name"`
	Query         string       `json:"query"`
	EntityTypes   []EntityType `json:"entityTypes"`
	Filters       Filters      `json:"filters"`
	Geo           *GeoPoint    `json:"geo,omitempty"`
	AlertEnabled  bool         `json:"alertEnabled"`
	LastCheckedAt *time.Time   `json:"lastCheckedAt"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// SearchQuery rebuilds the query the saved search represents with limit and
// offset 0
func (s *SavedSearch) SearchQuery(limit int) SearchQuery {
	return SearchQuery{
		Text:    s.Query,
		Types:   NormalizeEntityTypes(s.EntityTypes),
		Limit:   limit,
		Filters: s.Filters,
		Geo:     s.Geo,
	}
}

// SearchAlert records one result already reported for a saved search
type SearchAlert struct {
	ID            string     `json:"id"`
	SavedSearchID string     `json:"savedSearchId"`
	EntityType    EntityType `json:"entityType"`
	EntityID      string     `json:"entityId"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Key is the "type:id" pair of the alerted result
func (a SearchAlert) Key() string {
	return ResultKey(a.EntityType, a.EntityID)
}

// SavedSearchInput is the create request
type SavedSearchInput struct {
	UserID       *string   `json:"userId"`
	Name         string    `json:"name"`
	Query        string    `json:"query"`
	EntityTypes  []string  `json:"entityTypes"`
	Filters      Filters   `json:"filters"`
	Geo          *GeoPoint `json:"geo"`
	AlertEnabled *bool     `json:"alertEnabled"`
}

// SavedSearchPatch is a partial update; nil fields are left unchanged and
// ClearGeo removes the geo restriction
type SavedSearchPatch struct {
	ID           string    `json:"id,omitempty"`
	Name         *string   `json:"name"`
	Query        *string   `json:"query"`
	EntityTypes  *[]string `json:"entityTypes"`
	Filters      *Filters  `json:"filters"`
	Geo          *GeoPoint `json:"geo"`
	ClearGeo     bool      `json:"clearGeo"`
	AlertEnabled *bool     `json:"alertEnabled"`
}

// NewSavedSearch validates in and builds an unsaved SavedSearch. Alerts are
// enabled unless explicitly disabled.
func NewSavedSearch(in SavedSearchInput) (*SavedSearch, error) {
	s := &SavedSearch{
		UserID:       in.UserID,
		Name:         strings.TrimSpace(in.Name),
		Query:        strings.TrimSpace(in.Query),
		Filters:      normalizeFilters(in.Filters),
		Geo:          in.Geo,
		AlertEnabled: true,
	}
	if in.AlertEnabled != nil {
		s.AlertEnabled = *in.AlertEnabled
	}
	types, err := StrictEntityTypes(in.EntityTypes)
	if err != nil {
		return nil, err
	}
	s.EntityTypes = types
	if s.Name == "" {
		s.Name = truncateRunes(s.Query, MaxSavedSearchName)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply merges p into s and revalidates
func (s *SavedSearch) Apply(p SavedSearchPatch) error {
	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.Query != nil {
		s.Query = strings.TrimSpace(*p.Query)
	}
	if p.EntityTypes != nil {
		types, err := StrictEntityTypes(*p.EntityTypes)
		if err != nil {
			return err
		}
		s.EntityTypes = types
	}
	if p.Filters != nil {
		s.Filters = normalizeFilters(*p.Filters)
	}
	switch {
	case p.ClearGeo:
		s.Geo = nil
	case p.Geo != nil:
		s.Geo = p.Geo
	}
	if p.AlertEnabled != nil {
		s.AlertEnabled = *p.AlertEnabled
	}
	return s.Validate()
}

// Validate checks the stored fields
func (s *SavedSearch) Validate() error {
	if s.Query == "" {
		return &ValidationError{Field: "query", Message: "is required"}
	}
	if utf8.RuneCountInString(s.Query) > MaxQueryLength {
		return &ValidationError{Field: "query", Message: fmt.Sprintf("must be at most %d characters", MaxQueryLength)}
	}
	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if utf8.RuneCountInString(s.Name) > MaxSavedSearchName {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", MaxSavedSearchName)}
	}
	for _, t := range s.EntityTypes {
		if !t.Valid() {
			return &ValidationError{Field: "entityTypes", Message: fmt.Sprintf("unknown entity type %q", t)}
		}
	}
	if s.Geo != nil {
		if err := s.Geo.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StrictEntityTypes parses type tokens and rejects unknown ones. Saved
// searches reject what GET /search silently drops.
func StrictEntityTypes(tokens []string) ([]EntityType, error) {
	out := make([]EntityType, 0, len(tokens))
	seen := make(map[EntityType]bool, len(tokens))
	for _, tok := range tokens {
		t := EntityType(strings.ToLower(strings.TrimSpace(tok)))
		if !t.Valid() {
			return nil, &ValidationError{Field: "entityTypes", Message: fmt.Sprintf("unknown entity type %q", tok)}
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func normalizeFilters(f Filters) Filters {
	f.Species = strings.ToLower(strings.TrimSpace(f.Species))
	f.PostType = strings.TrimSpace(f.PostType)
	f.Tags = ParseTags(strings.Join(f.Tags, ","))
	return f
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
