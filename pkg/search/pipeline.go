package search

import (
	"context"
)

// Expander turns query text into an Expansion
type Expander interface {
	Expand(ctx context.Context, text string) Expansion
}

// Pipeline is synonym expansion followed by the merged engine search
type Pipeline struct {
	expander Expander
	engine   *Engine
}

// NewPipeline creates a pipeline
func NewPipeline(expander Expander, engine *Engine) *Pipeline {
	return &Pipeline{expander: expander, engine: engine}
}

// Run expands q.Text and returns the expansion with one merged page
func (p *Pipeline) Run(ctx context.Context, q SearchQuery) (Expansion, MergedResults) {
	exp := p.expander.Expand(ctx, q.Text)
	return exp, p.engine.Search(ctx, exp, q)
}
