// Package search provides cross-entity search for the pet community platform.
//
// # Overview
//
// One query fans out to every requested content type (blog posts, wiki
// articles, places, pets, groups). Each type is served by a Strategy, and
// the Engine merges their results into a single relevance-ordered page.
//
// # Query Pipeline
//
//	text -> SynonymGraph.Expand -> Engine.Search -> FacetAggregator.Compute
//
// Expansion is one hop: a token maps to its stored synonyms and to every
// term that lists it as a synonym. Posts and wiki articles are matched with
// Postgres full-text search; places, pets and groups use substring matching
// with a fixed field priority.
//
// # Query Syntax
//
// Simple search:
//
//	/search?q=gsd
//
// Restrict types and filter:
//
//	/search?q=puppy&types=posts,wiki&tags=training,recall&type=story
//
// Near a point (all three geo parameters are required together):
//
//	/search?q=park&types=places&lat=52.52&lng=13.40&radius=5
//
// # Ranking
//
// Raw strategy scores are mapped into [0,1] by a ScorePolicy before the
// merge. The merged list is sorted by relevance descending; ties keep the
// registry order of their strategies. A strategy that fails or times out
// contributes nothing and never fails the request.
//
// # Saved Searches and Alerts
//
// A SavedSearch stores a query configuration. AlertChecker re-runs it with a
// wide recall window and records a SearchAlert for every result not seen
// before, so each result is reported at most once per saved search.
//
// # Telemetry
//
// Every executed search is recorded asynchronously. Telemetry failures are
// logged and counted, never surfaced to the caller.
//
// # Usage Example
//
//	graph := search.NewSynonymGraph(search.NewPostgresSynonymStore(db), logger)
//	engine := search.NewEngine(registry, search.EngineConfig{StrategyTimeout: 2 * time.Second}, logger, metrics)
//	pipeline := search.NewPipeline(graph, engine)
//	exp, merged := pipeline.Run(ctx, search.SearchQuery{Text: "gsd", Limit: 20})
package search
