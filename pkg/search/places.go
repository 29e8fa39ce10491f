package search

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

// placesOverfetch leaves headroom for the radius filter
const placesOverfetch = 2

// PlacesStrategy matches approved places by name, address or amenity and
// optionally restricts them to a radius
type PlacesStrategy struct {
	db Reader
}

// NewPlacesStrategy creates the places strategy
func NewPlacesStrategy(db Reader) *PlacesStrategy {
	return &PlacesStrategy{db: db}
}

func (s *PlacesStrategy) EntityType() EntityType { return EntityPlaces }

// Search fetches up to twice the budget, applies the radius filter when a
// center is given and truncates to the budget afterwards
func (s *PlacesStrategy) Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error) {
	phrases := req.Expansion.Phrases()
	if len(phrases) == 0 {
		return []SearchResult{}, nil
	}

	args := &queryArgs{}
	conditions := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		pattern := args.add("%" + escapeLike(phrase) + "%")
		exact := args.add(phrase)
		conditions = append(conditions, fmt.Sprintf(
			`p.name ILIKE %[1]s OR p.address ILIKE %[1]s OR %[2]s = ANY(p.amenities)`, pattern, exact))
	}

	query := fmt.Sprintf(`
		SELECT
			p.id,
			p.name,
			COALESCE(p.address, ''),
			COALESCE(p.category, ''),
			p.lat,
			p.lng,
			COALESCE(p.amenities, '{}'),
			p.created_at
		FROM places p
		WHERE p.moderation_status = 'approved'
			AND p.deleted_at IS NULL
			AND (%s)
		ORDER BY p.created_at DESC
		LIMIT %s
	`, strings.Join(conditions, " OR "), args.add(req.Limit*placesOverfetch))

	rows, err := s.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to search places: %w", err)
	}
	defer rows.Close()

	candidates := make([]Located, 0, req.Limit*placesOverfetch)
	for rows.Next() {
		var (
			id, name, address, category string
			lat, lng                    sql.NullFloat64
			amenities                   []string
			createdAt                   time.Time
		)
		if err := rows.Scan(&id, &name, &address, &category, &lat, &lng, pq.Array(&amenities), &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		// places without coordinates cannot satisfy a radius
		if req.Geo != nil && (!lat.Valid || !lng.Valid) {
			continue
		}
		created := createdAt
		candidates = append(candidates, Located{
			Lat: lat.Float64,
			Lng: lng.Float64,
			Result: SearchResult{
				EntityType: EntityPlaces,
				ID:         id,
				Title:      name,
				Snippet:    address,
				Relevance:  1.0,
				Type:       category,
				CreatedAt:  &created,
				Extra: map[string]any{
					"address":   address,
					"amenities": amenities,
				},
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating places: %w", err)
	}

	if req.Geo != nil {
		candidates = FilterByRadius(candidates, *req.Geo)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		})
	}

	results := make([]SearchResult, 0, req.Limit)
	for _, c := range candidates {
		if len(results) == req.Limit {
			break
		}
		r := c.Result
		if req.Geo != nil {
			r.Relevance = DistanceRelevance(c.DistanceKm, req.Geo.RadiusKm)
			r.Extra["distanceKm"] = c.DistanceKm
			r.Extra["lat"] = c.Lat
			r.Extra["lng"] = c.Lng
		}
		results = append(results, r)
	}
	return results, nil
}

// escapeLike escapes LIKE wildcards using the default backslash escape
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
