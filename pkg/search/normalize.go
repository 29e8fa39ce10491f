package search

import "math"

// Normalizer maps a strategy's raw relevance onto [0,1]
type Normalizer func(raw float64) float64

// ScorePolicy holds one Normalizer per entity type. Types without an entry
// fall back to Clamp.
//
// Defaults:
//   - posts, wiki: SaturatingRank, turning an unbounded ts_rank_cd score x
//     into x/(1+x)
//   - places: Clamp, scores are 1.0 or the distance decay 1-d/(2r)
//   - pets, groups: Clamp, every match scores 1.0
type ScorePolicy map[EntityType]Normalizer

// DefaultScorePolicy returns the built-in per-type transforms
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		EntityPosts:  SaturatingRank,
		EntityWiki:   SaturatingRank,
		EntityPlaces: Clamp,
		EntityPets:   Clamp,
		EntityGroups: Clamp,
	}
}

// Normalize applies the transform registered for t
func (p ScorePolicy) Normalize(t EntityType, raw float64) float64 {
	if n, ok := p[t]; ok && n != nil {
		return n(raw)
	}
	return Clamp(raw)
}

// SaturatingRank maps [0,inf) onto [0,1)
func SaturatingRank(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	if math.IsInf(raw, 1) {
		return 1
	}
	return raw / (1 + raw)
}

// Clamp bounds raw to [0,1]
func Clamp(raw float64) float64 {
	if math.IsNaN(raw) || raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}
