package search

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// EntityType identifies one searchable content type
type EntityType string

const (
	EntityPosts  EntityType = "posts"
	EntityWiki   EntityType = "wiki"
	EntityPlaces EntityType = "places"
	EntityPets   EntityType = "pets"
	EntityGroups EntityType = "groups"
)

// AllEntityTypes is the closed set of searchable types in default search order
var AllEntityTypes = []EntityType{EntityPosts, EntityWiki, EntityPlaces, EntityPets, EntityGroups}

// Valid reports whether t belongs to the closed set
func (t EntityType) Valid() bool {
	switch t {
	case EntityPosts, EntityWiki, EntityPlaces, EntityPets, EntityGroups:
		return true
	}
	return false
}

const (
	DefaultLimit   = 20
	MaxLimit       = 100
	MaxQueryLength = 200

	// AlertCheckLimit is the recall window used when re-running a saved search
	AlertCheckLimit = 100
	// MaxAlertResults caps the new results returned by a check
	MaxAlertResults = 10
)

// ParseEntityTypes keeps the known type tokens in first-seen order. Unknown
// tokens and duplicates are dropped silently.
func ParseEntityTypes(tokens []string) []EntityType {
	seen := make(map[EntityType]bool, len(tokens))
	out := make([]EntityType, 0, len(tokens))
	for _, tok := range tokens {
		t := EntityType(strings.ToLower(strings.TrimSpace(tok)))
		if !t.Valid() || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// NormalizeEntityTypes returns types, or every type when types is empty
func NormalizeEntityTypes(types []EntityType) []EntityType {
	if len(types) == 0 {
		return append([]EntityType(nil), AllEntityTypes...)
	}
	return types
}

func containsType(types []EntityType, t EntityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Filters narrow a search. Zero values mean "no filter".
type Filters struct {
	Species  string   `json:"species,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	PostType string   `json:"postType,omitempty"`
}

// IsZero reports whether no filter is set
func (f Filters) IsZero() bool {
	return f.Species == "" && len(f.Tags) == 0 && f.PostType == ""
}

// ParseTags splits a comma list into lowercased, deduplicated tags
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// GeoPoint is a search center with a radius in kilometers
type GeoPoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radiusKm"`
}

// Validate checks coordinate ranges and a positive radius
func (g GeoPoint) Validate() error {
	if err := ValidateCoordinates(g.Lat, g.Lng); err != nil {
		return err
	}
	if !(g.RadiusKm > 0) || math.IsInf(g.RadiusKm, 1) {
		return &ValidationError{Field: "radius", Message: "must be a finite number greater than 0"}
	}
	return nil
}

// SearchQuery is a validated cross-entity search request
type SearchQuery struct {
	Text    string
	Types   []EntityType
	Limit   int
	Offset  int
	Filters Filters
	Geo     *GeoPoint
}

// Validate trims the text and checks every bound. It does not apply
// defaults; callers set Limit to DefaultLimit when the parameter is absent.
func (q *SearchQuery) Validate() error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return &ValidationError{Field: "q", Message: "is required"}
	}
	if utf8.RuneCountInString(q.Text) > MaxQueryLength {
		return &ValidationError{Field: "q", Message: fmt.Sprintf("must be at most %d characters", MaxQueryLength)}
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return &ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	if q.Offset < 0 {
		return &ValidationError{Field: "offset", Message: "must be 0 or greater"}
	}
	if q.Geo != nil {
		if err := q.Geo.Validate(); err != nil {
			return err
		}
	}
	q.Types = NormalizeEntityTypes(q.Types)
	return nil
}

// SearchResult is the common shape every strategy produces
type SearchResult struct {
	EntityType EntityType     `json:"entityType"`
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Snippet    string         `json:"snippet,omitempty"`
	Relevance  float64        `json:"relevance"`
	Type       string         `json:"type,omitempty"`
	CreatedAt  *time.Time     `json:"createdAt,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Key identifies a result across entity types ("type:id")
func (r SearchResult) Key() string {
	return ResultKey(r.EntityType, r.ID)
}

// ResultKey builds the "type:id" key used by the alert exclusion set
func ResultKey(t EntityType, id string) string {
	return string(t) + ":" + id
}

// Pagination echoes the window applied to the merged result set
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ZeroResultSuggestions helps the user recover from an empty result page
type ZeroResultSuggestions struct {
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
}

// Response is the GET /search payload
type Response struct {
	Query         string                 `json:"query"`
	ExpandedQuery string                 `json:"expandedQuery"`
	Hits          []SearchResult         `json:"hits"`
	Facets        Facets                 `json:"facets"`
	Pagination    Pagination             `json:"pagination"`
	Suggestions   *ZeroResultSuggestions `json:"suggestions,omitempty"`
}
