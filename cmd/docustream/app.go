package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/docustream/engine/chunker"
	"github.com/WessleyAI/docustream/engine/index"
	"github.com/WessleyAI/docustream/engine/ingest"
	"github.com/WessleyAI/docustream/engine/semantic"
	"github.com/WessleyAI/docustream/pkg/config"
	"github.com/WessleyAI/docustream/pkg/embed"
	"github.com/WessleyAI/docustream/pkg/metrics"
	"github.com/WessleyAI/docustream/pkg/resilience"
	"github.com/nats-io/nats.go"
)

// app is the wired core shared by the server and the one-shot commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *metrics.Registry
	index    *index.Client
	orch     *ingest.Orchestrator
}

// newApp connects the embedder and the vector store and makes sure the
// collection exists with the embedder's dimension.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	reg := metrics.New()
	emb, err := newEmbedder(cfg.Embed, reg)
	if err != nil {
		return nil, err
	}
	dims, err := embed.ProbeDimension(ctx, emb)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureCollection(ctx, dims); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure collection %s: %w", cfg.Store.Collection, err)
	}

	splitter, err := chunker.New(chunker.Options{
		MaxSize:   cfg.Chunk.MaxSize,
		Overlap:   cfg.Chunk.Overlap,
		TrimSpace: true,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	client := index.New(emb, store, index.DefaultOptions(), logger)
	logger.Info("index ready",
		"backend", cfg.Store.Backend,
		"collection", cfg.Store.Collection,
		"embedder", emb.Model(),
		"dimension", dims,
	)
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		index:    client,
		orch:     ingest.NewOrchestrator(splitter, client, nil, logger),
	}, nil
}

func (a *app) Close() error { return a.index.Close() }

func newEmbedder(cfg config.Embed, reg *metrics.Registry) (embed.Embedder, error) {
	var (
		base embed.Embedder
		err  error
	)
	switch cfg.Provider {
	case "openai":
		base, err = embed.NewOpenAI(embed.OpenAIOpts{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
	case "ollama":
		base = embed.NewOllama(embed.OllamaOpts{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
	case "hash":
		return embed.NewHash(cfg.Dimension), nil
	default:
		err = fmt.Errorf("unknown embed provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return embed.NewGuarded(base,
		resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.Burst}),
		resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: cfg.BreakerFails, Timeout: cfg.BreakerOpen}),
	).Instrument(reg), nil
}

func newStore(ctx context.Context, cfg config.Store) (semantic.Store, error) {
	switch cfg.Backend {
	case "qdrant":
		return semantic.NewQdrant(cfg.QdrantAddr, cfg.Collection, cfg.QdrantAPIKey)
	case "postgres":
		return semantic.NewPostgres(ctx, cfg.PostgresDSN, cfg.Collection)
	case "memory":
		return semantic.NewMemory(cfg.MemoryPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newDispatcher returns the configured dispatcher and a function releasing
// what it holds beyond the dispatcher itself.
func newDispatcher(cfg config.Dispatcher, runner *ingest.Runner, logger *slog.Logger) (ingest.Dispatcher, func(), error) {
	switch cfg.Kind {
	case "local":
		return ingest.NewLocal(runner, cfg.Workers, cfg.QueueSize, logger), func() {}, nil
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("docustream"))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
		}
		d, err := ingest.NewNATS(nc, runner, ingest.NATSOpts{
			Subject:       cfg.Subject,
			DLQSubject:    cfg.DLQSubject,
			StatusSubject: cfg.StatusSubject,
			QueueGroup:    cfg.QueueGroup,
			Workers:       cfg.Workers,
		}, logger)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return d, nc.Close, nil
	default:
		return nil, nil, errors.New("unknown dispatcher " + cfg.Kind)
	}
}
