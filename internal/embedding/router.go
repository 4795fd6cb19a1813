package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relayforge/corpus-engine/internal/cost"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

const (
	defaultCacheSize = 2048
	maxRetryAttempts = 3
	baseRetryDelay   = 100 * time.Millisecond
	heuristicSample  = 3
)

// usageTracker records billable provider calls.
type usageTracker interface {
	Track(ctx context.Context, u cost.Usage)
}

// RouterConfig configures provider selection.
type RouterConfig struct {
	// DefaultProvider forces every request to one provider when set.
	DefaultProvider string
	// TypeDefaults maps a content type ("code", "personal", "docs") to a
	// provider ID. Unset types fall through to the code heuristic.
	TypeDefaults map[string]string
	CacheSize    int
}

// Router selects an embedding provider per request and handles
// fallback to the local provider when cloud calls fail.
type Router struct {
	logger          *observability.Logger
	clients         map[string]Client
	typeDefaults    map[string]string
	defaultProvider string
	runtime         *cost.Runtime
	tracker         usageTracker
	cache           *lru.Cache[string, []float32]
}

// NewRouter creates an embedding router over the registered clients.
// A client registered under ProviderLocal is required because it is
// the fallback target for every cloud failure.
func NewRouter(logger *observability.Logger, cfg RouterConfig, clients map[string]Client, runtime *cost.Runtime, tracker usageTracker) (*Router, error) {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	logger = logger.WithComponent("embedding")

	if _, ok := clients[ProviderLocal]; !ok {
		return nil, fmt.Errorf("embedding router requires a %q client", ProviderLocal)
	}

	typeDefaults := map[string]string{
		"code":     ProviderCodeCloud,
		"personal": ProviderGeneralCloud,
		"docs":     ProviderLocal,
	}
	for contentType, providerID := range cfg.TypeDefaults {
		if providerID == "" {
			continue
		}
		typeDefaults[contentType] = providerID
	}

	defaultProvider := cfg.DefaultProvider
	if defaultProvider != "" {
		if _, ok := clients[defaultProvider]; !ok {
			logger.Warn().
				Str("provider", defaultProvider).
				Msg("default embedding provider is not registered, ignoring")
			defaultProvider = ""
		}
	}

	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Router{
		logger:          logger,
		clients:         clients,
		typeDefaults:    typeDefaults,
		defaultProvider: defaultProvider,
		runtime:         runtime,
		tracker:         tracker,
		cache:           cache,
	}, nil
}

// Route embeds a single text with the selected provider.
func (r *Router) Route(ctx context.Context, text string, cctx ContentContext, override string) (*Result, error) {
	batch, err := r.RouteBatch(ctx, []string{text}, cctx, override)
	if err != nil {
		return nil, err
	}
	return &Result{
		Vector:     batch.Vectors[0],
		ProviderID: batch.ProviderID,
		Model:      batch.Model,
		Dimension:  batch.Dimension,
	}, nil
}

// RouteBatch embeds all texts with a single selected provider. When a
// cloud provider fails the whole batch is retried against the local
// provider so every vector in the batch shares one model.
func (r *Router) RouteBatch(ctx context.Context, texts []string, cctx ContentContext, override string) (*BatchResult, error) {
	client, providerID := r.pick(texts, cctx, override)
	if len(texts) == 0 {
		return &BatchResult{ProviderID: providerID, Model: client.Model(), Dimension: client.Dimension()}, nil
	}

	result, err := r.embedBatch(ctx, client, providerID, texts, cctx)
	if err != nil && providerID != ProviderLocal && ctx.Err() == nil {
		r.logger.Warn().
			Err(err).
			Str("provider", providerID).
			Int("texts", len(texts)).
			Msg("cloud embedding failed, falling back to local")
		client = r.clients[ProviderLocal]
		providerID = ProviderLocal
		result, err = r.embedBatch(ctx, client, providerID, texts, cctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	return result, nil
}

// pick resolves the provider for a request. Budget fallback wins over
// everything else, then the per-call override, the configured default,
// the content-type mapping, and finally the code heuristic.
func (r *Router) pick(texts []string, cctx ContentContext, override string) (Client, string) {
	if r.runtime != nil && r.runtime.Snapshot().ForceLocalEmbeddings {
		return r.clients[ProviderLocal], ProviderLocal
	}
	if override != "" {
		if client, ok := r.clients[override]; ok {
			return client, override
		}
		r.logger.Debug().Str("provider", override).Msg("requested embedding provider is not registered")
	}
	if r.defaultProvider != "" {
		return r.clients[r.defaultProvider], r.defaultProvider
	}
	if providerID, ok := r.typeDefaults[cctx.Type]; ok && cctx.Type != "" {
		if client, ok := r.clients[providerID]; ok {
			return client, providerID
		}
	}

	sample := texts
	if len(sample) > heuristicSample {
		sample = sample[:heuristicSample]
	}
	for _, text := range sample {
		if looksLikeCode(text) {
			if client, ok := r.clients[ProviderCodeCloud]; ok {
				return client, ProviderCodeCloud
			}
			break
		}
	}
	return r.clients[ProviderLocal], ProviderLocal
}

// embedBatch resolves cached vectors, embeds the misses, and fills the
// cache. Blank texts become zero vectors without touching the provider.
func (r *Router) embedBatch(ctx context.Context, client Client, providerID string, texts []string, cctx ContentContext) (*BatchResult, error) {
	vectors := make([][]float32, len(texts))
	var missIndices []int
	var missTexts []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			vectors[i] = make([]float32, client.Dimension())
			continue
		}
		if cached, ok := r.cache.Get(cacheKey(text, client.Model())); ok {
			vectors[i] = cached
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		embedded, err := r.embedWithRetry(ctx, client, missTexts)
		if err != nil {
			return nil, err
		}
		if len(embedded) != len(missTexts) {
			return nil, fmt.Errorf("provider %s returned %d vectors for %d texts", providerID, len(embedded), len(missTexts))
		}
		for n, idx := range missIndices {
			if len(embedded[n]) != client.Dimension() {
				return nil, fmt.Errorf("provider %s returned %d-dim vector, want %d", providerID, len(embedded[n]), client.Dimension())
			}
			vectors[idx] = embedded[n]
			r.cache.Add(cacheKey(missTexts[n], client.Model()), embedded[n])
		}
		r.trackUsage(ctx, client, providerID, missTexts, cctx)
	}

	return &BatchResult{
		Vectors:    vectors,
		ProviderID: providerID,
		Model:      client.Model(),
		Dimension:  client.Dimension(),
	}, nil
}

func (r *Router) embedWithRetry(ctx context.Context, client Client, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		vectors, err := client.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		r.logger.Debug().
			Err(err).
			Str("provider", client.Name()).
			Int("attempt", attempt+1).
			Msg("embedding attempt failed")
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (r *Router) trackUsage(ctx context.Context, client Client, providerID string, texts []string, cctx ContentContext) {
	if r.tracker == nil || providerID == ProviderLocal {
		return
	}
	tokens := 0
	for _, text := range texts {
		tokens += (len(text) + 3) / 4
	}
	r.tracker.Track(ctx, cost.Usage{
		Provider:     client.Name(),
		Operation:    storage.CostOpEmbed,
		Tokens:       tokens,
		Model:        client.Model(),
		CollectionID: collectionUUID(cctx.CollectionID),
		Metadata:     storage.Metadata{"texts": len(texts)},
	})
}

func cacheKey(text, model string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + model))
	return hex.EncodeToString(sum[:])
}

func collectionUUID(id string) *uuid.UUID {
	if id == "" {
		return nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &parsed
}
