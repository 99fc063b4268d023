package embed

import (
	"context"
	"errors"

	"github.com/WessleyAI/docustream/pkg/metrics"
	"github.com/WessleyAI/docustream/pkg/resilience"
)

// Guarded throttles an Embedder with a token bucket and fails fast through a
// circuit breaker while the provider is unhealthy. It never retries.
type Guarded struct {
	next    Embedder
	limiter *resilience.Limiter
	breaker *resilience.Breaker

	breakerState *metrics.Gauge
	rejected     *metrics.Counter
}

// NewGuarded wraps next. A nil limiter or breaker disables that guard.
func NewGuarded(next Embedder, limiter *resilience.Limiter, breaker *resilience.Breaker) *Guarded {
	return &Guarded{next: next, limiter: limiter, breaker: breaker}
}

// Instrument publishes the breaker state (0 closed, 1 open, 2 half-open) and
// the number of calls it rejected on reg.
func (g *Guarded) Instrument(reg *metrics.Registry) *Guarded {
	g.breakerState = reg.Gauge("docustream_embed_breaker_state", "Embedding circuit breaker state: 0 closed, 1 open, 2 half-open.")
	g.rejected = reg.Counter("docustream_embed_rejected_total", "Embedding calls rejected by the open circuit breaker.")
	g.breakerState.Set(int64(g.breaker.State()))
	return g
}

func (g *Guarded) Dimension() int { return g.next.Dimension() }
func (g *Guarded) Model() string  { return g.next.Model() }

// EmbedDocuments takes one token per text, capped at the bucket size.
func (g *Guarded) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.call(ctx, len(texts), func(ctx context.Context) error {
		var err error
		out, err = g.next.EmbedDocuments(ctx, texts)
		return err
	})
	return out, err
}

func (g *Guarded) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.call(ctx, 1, func(ctx context.Context) error {
		var err error
		out, err = g.next.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}

func (g *Guarded) call(ctx context.Context, tokens int, f func(context.Context) error) error {
	if tokens < 1 {
		tokens = 1
	}
	if err := g.limiter.Wait(ctx, tokens); err != nil {
		return err
	}
	err := g.breaker.Call(ctx, f)
	if g.breakerState != nil {
		g.breakerState.Set(int64(g.breaker.State()))
		if errors.Is(err, resilience.ErrCircuitOpen) {
			g.rejected.Inc()
		}
	}
	return err
}
