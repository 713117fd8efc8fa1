package cases

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/cache"
)

const (
	defaultIndexTTL     = 5 * time.Minute
	defaultIndexEntries = 10000
)

var indexCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "assistant",
	Name:      "retrieval_index_cache_events_total",
	Help:      "Organization retrieval index cache lookups by outcome.",
}, []string{"event"})

type IndexSource interface {
	RetrievalIndex(ctx context.Context, organizationID string) (string, error)
}

// CachedIndexResolver memoizes organization to retrieval index lookups.
// Organizations without an index are cached too; lookup failures are not.
type CachedIndexResolver struct {
	source IndexSource
	cache  *cache.Cache[string]
}

func NewCachedIndexResolver(source IndexSource, ttl time.Duration) *CachedIndexResolver {
	if ttl <= 0 {
		ttl = defaultIndexTTL
	}
	return &CachedIndexResolver{
		source: source,
		cache: cache.New[string](cache.Options{
			TTL:                  ttl,
			StaleWhileRevalidate: ttl / 2,
			MaxEntries:           defaultIndexEntries,
		}, cache.Hooks{
			OnHit:   func() { indexCacheEvents.WithLabelValues("hit").Inc() },
			OnMiss:  func() { indexCacheEvents.WithLabelValues("miss").Inc() },
			OnStale: func() { indexCacheEvents.WithLabelValues("stale").Inc() },
			OnError: func() { indexCacheEvents.WithLabelValues("error").Inc() },
		}),
	}
}

func (r *CachedIndexResolver) RetrievalIndex(ctx context.Context, organizationID string) (string, error) {
	indexID, _, err := r.cache.Get(ctx, organizationID, func(ctx context.Context, orgID string) (string, bool, error) {
		id, err := r.source.RetrievalIndex(ctx, orgID)
		if err != nil {
			return "", false, err
		}
		return id, true, nil
	})
	return indexID, err
}

// Invalidate drops the cached index for an organization.
func (r *CachedIndexResolver) Invalidate(organizationID string) {
	r.cache.Delete(organizationID)
}
