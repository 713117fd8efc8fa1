package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/clients"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

const (
	defaultTopK    = 5
	defaultTimeout = 8 * time.Second
)

// Index is the vector search backend.
type Index interface {
	Search(ctx context.Context, indexID string, embedding []float32, k int) ([]Passage, error)
}

// Embedder turns queries into vectors. llm.EmbeddingClient satisfies it.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Config struct {
	TopK    int
	Timeout time.Duration
	Breaker clients.CircuitBreakerConfig
}

type Gateway struct {
	index    Index
	embedder Embedder
	breaker  *clients.CircuitBreaker
	topK     int
	timeout  time.Duration
	logger   logging.Logger
}

func NewGateway(index Index, embedder Embedder, cfg Config, logger logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = "retrieval"
	}
	if breakerCfg.Logger == nil {
		breakerCfg.Logger = logger
	}
	if breakerCfg.IsFailure == nil {
		// A caller giving up says nothing about backend health.
		breakerCfg.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoIndex)
		}
	}
	return &Gateway{
		index:    index,
		embedder: embedder,
		breaker:  clients.NewCircuitBreaker(breakerCfg),
		topK:     topK,
		timeout:  timeout,
		logger:   logger,
	}
}

// Search returns at most TopK passages from the tenant's index, best first.
// Failures are typed: ErrNoIndex, ErrRetrievalTimeout or ErrRetrievalUnavailable.
func (g *Gateway) Search(ctx context.Context, query string) ([]Passage, error) {
	indexID := tenant.RetrievalIndexID(ctx)
	if indexID == "" {
		searchesTotal.WithLabelValues("no_index").Inc()
		return nil, ErrNoIndex
	}
	query = strings.TrimSpace(query)
	if query == "" {
		searchesTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	start := time.Now()
	searchCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breaker.Execute(searchCtx, func(ctx context.Context) (any, error) {
		vectors, err := g.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, errors.New("embed query: empty embedding")
		}
		return g.index.Search(ctx, indexID, vectors[0], g.topK)
	})
	searchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case ctx.Err() != nil:
			searchesTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		case errors.Is(searchCtx.Err(), context.DeadlineExceeded):
			searchesTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w after %s", ErrRetrievalTimeout, g.timeout)
		default:
			searchesTotal.WithLabelValues("unavailable").Inc()
			return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
		}
	}

	passages, _ := result.([]Passage)
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	if len(passages) > g.topK {
		passages = passages[:g.topK]
	}
	searchResultsCount.Observe(float64(len(passages)))
	if len(passages) == 0 {
		searchesTotal.WithLabelValues("empty").Inc()
	} else {
		searchesTotal.WithLabelValues("ok").Inc()
	}
	return passages, nil
}

// Retrieve is Search for callers that treat "no context" as a valid outcome.
// It never fails; errors are logged and an empty result is returned.
func (g *Gateway) Retrieve(ctx context.Context, query string) []Passage {
	passages, err := g.Search(ctx, query)
	if err != nil {
		entry := g.logger.WithError(err).WithField("organization_id", tenant.OrganizationID(ctx))
		if errors.Is(err, ErrNoIndex) {
			entry.Debug("No retrieval index configured, continuing without context")
		} else {
			entry.Warn("Retrieval failed, continuing without context")
		}
		return nil
	}
	return passages
}
