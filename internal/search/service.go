package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"bookshelf/catalogservice/internal/domain"
)

var (
	ErrInvalidQuery    = errors.New("query text is required")
	ErrNoProviders     = errors.New("no catalog providers configured")
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrAllProvidersUnavailable is the one provider-side failure that
	// reaches callers: every applicable adapter failed, so "backend
	// unavailable" must not masquerade as "nothing found".
	ErrAllProvidersUnavailable = errors.New("no catalog provider available")
)

// Provider is the uniform adapter contract every external catalog
// implements. Adapters convert provider-specific errors into plain error
// returns; they never panic past this boundary.
type Provider interface {
	Name() string
	Info() domain.ProviderInfo
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.CatalogItem, error)
}

// EditionLister is an optional interface for providers that can expand a
// work into edition records. The author topology uses it for the
// per-result enhancement pass.
type EditionLister interface {
	Editions(ctx context.Context, workKey string, limit int) ([]domain.CatalogItem, error)
}

// Response is what the orchestrator hands back per query.
type Response struct {
	Query          domain.SearchQuery      `json:"query"`
	Result         domain.AggregatedResult `json:"result"`
	Cached         bool                    `json:"cached"`
	ResponseTimeMS int64                   `json:"responseTimeMs"`
}

type Service struct {
	providers     map[string]Provider
	timeout       time.Duration
	weights       Weights
	authorPrimary string
	cacheDisabled bool
	cacheMu       sync.RWMutex
	cache         map[string]*cachedResponse
	ttls          map[domain.SearchContext]time.Duration
	redisCache    *RedisCacheBackend
	logger        *slog.Logger
	healthMu      sync.Mutex
	health        map[string]*providerHealth
}

type ServiceOption func(*Service)

func WithRedisCache(backend *RedisCacheBackend) ServiceOption {
	return func(s *Service) {
		s.redisCache = backend
	}
}

func WithCacheDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.cacheDisabled = disabled
	}
}

// WithContextTTL overrides the cache TTL for one query context.
func WithContextTTL(context domain.SearchContext, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttls[context] = ttl
		}
	}
}

func WithWeights(weights Weights) ServiceOption {
	return func(s *Service) {
		s.weights = weights.normalize()
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuthorPrimary names the canonical-bibliography provider that author
// queries consult first.
func WithAuthorPrimary(name string) ServiceOption {
	return func(s *Service) {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			s.authorPrimary = trimmed
		}
	}
}

func NewService(providers []Provider, timeout time.Duration, opts ...ServiceOption) *Service {
	registry := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			continue
		}
		registry[name] = provider
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	svc := &Service{
		providers:     registry,
		timeout:       timeout,
		weights:       DefaultWeights(),
		authorPrimary: "openlibrary",
		cache:         make(map[string]*cachedResponse),
		ttls:          defaultContextTTLs(),
		logger:        slog.Default(),
		health:        make(map[string]*providerHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// providersFor returns the adapters applicable to a query, ordered by
// provider-context affinity (highest authority first) then name. A
// provider filter on the query selects by name; naming an adapter the
// registry does not know is an error, not an empty result.
func (s *Service) providersFor(query domain.SearchQuery) ([]Provider, error) {
	var selected []Provider
	if len(query.Providers) > 0 {
		selected = make([]Provider, 0, len(query.Providers))
		seen := make(map[string]struct{}, len(query.Providers))
		for _, raw := range query.Providers {
			name := normalizeProviderName(raw)
			if name == "" {
				continue
			}
			provider, ok := s.providers[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if providerServes(provider, query.Context) {
				selected = append(selected, provider)
			}
		}
	} else {
		selected = make([]Provider, 0, len(s.providers))
		for _, provider := range s.providers {
			if providerServes(provider, query.Context) {
				selected = append(selected, provider)
			}
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		left := affinityFor(strings.ToLower(selected[i].Name()), query.Context)
		right := affinityFor(strings.ToLower(selected[j].Name()), query.Context)
		if left != right {
			return left > right
		}
		return strings.ToLower(selected[i].Name()) < strings.ToLower(selected[j].Name())
	})
	return selected, nil
}

func providerServes(provider Provider, context domain.SearchContext) bool {
	info := provider.Info()
	if !info.Enabled {
		return false
	}
	if len(info.Contexts) == 0 {
		return true
	}
	for _, supported := range info.Contexts {
		if supported == context {
			return true
		}
	}
	return false
}

func (s *Service) Providers() []domain.ProviderInfo {
	if len(s.providers) == 0 {
		return nil
	}
	items := make([]domain.ProviderInfo, 0, len(s.providers))
	for _, provider := range s.providers {
		info := provider.Info()
		if info.Name == "" {
			info.Name = strings.ToLower(strings.TrimSpace(provider.Name()))
		}
		if info.Label == "" {
			info.Label = info.Name
		}
		items = append(items, info)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func (s *Service) ProviderDiagnostics() []domain.ProviderDiagnostics {
	infos := s.Providers()
	if len(infos) == 0 {
		return nil
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.ProviderDiagnostics, 0, len(infos))
	for _, info := range infos {
		item := domain.ProviderDiagnostics{
			Name:    info.Name,
			Label:   info.Label,
			Kind:    info.Kind,
			Enabled: info.Enabled,
		}
		if state := s.health[normalizeProviderName(info.Name)]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			if !state.blockedUntil.IsZero() {
				item.BlockedUntilUnix = state.blockedUntil.Unix()
			}
			item.LastError = state.lastError
			item.LastQuery = state.lastQuery
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
		}
		items = append(items, item)
	}
	return items
}
