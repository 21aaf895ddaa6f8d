package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recallhq/recall/internal/contenthash"
	"github.com/recallhq/recall/internal/metrics"
)

// Service is the embedding front door: hash, consult the two-tier cache,
// batch the misses to the provider under the retry policy, then populate
// both tiers. Output order always matches input order.
type Service struct {
	provider  Provider
	cache     *Cache
	batchSize int
	retry     RetryPolicy
}

func NewService(provider Provider, cache *Cache, batchSize int, retry RetryPolicy) *Service {
	return &Service{
		provider:  provider,
		cache:     cache,
		batchSize: batchSize,
		retry:     retry,
	}
}

func (s *Service) Dimension() int {
	return s.provider.Dimension()
}

// EmbedText embeds a single text. Returns the vector and whether it was a
// cache hit.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, bool, error) {
	vectors, hits, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, false, err
	}
	return vectors[0], hits == 1, nil
}

// EmbedBatch embeds texts preserving input order and reports how many were
// served from cache. If the provider fails after all retries the whole call
// fails; there is no partial success.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = contenthash.Hash(t)
	}

	cached, err := s.cache.GetBatch(ctx, hashes)
	if err != nil {
		// A broken cache tier must not break embedding; log and recompute.
		slog.Warn("embedding cache read failed", "error", err)
		cached = map[string][]float32{}
	}
	cacheHits := 0
	for _, h := range hashes {
		if _, ok := cached[h]; ok {
			cacheHits++
		}
	}

	// Collect uncached texts, deduplicating identical content within the
	// batch so the provider sees each hash once.
	var uncachedTexts []string
	var uncachedHashes []string
	seen := make(map[string]bool)
	for i, h := range hashes {
		if _, ok := cached[h]; ok || seen[h] {
			continue
		}
		seen[h] = true
		uncachedTexts = append(uncachedTexts, texts[i])
		uncachedHashes = append(uncachedHashes, h)
	}

	computed := make(map[string][]float32, len(uncachedTexts))
	for start := 0; start < len(uncachedTexts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(uncachedTexts) {
			end = len(uncachedTexts)
		}
		chunk := uncachedTexts[start:end]

		var vectors [][]float32
		err := s.retry.Do(ctx, func() error {
			var callErr error
			vectors, callErr = s.provider.EmbedBatch(ctx, chunk)
			return callErr
		})
		if err != nil {
			metrics.EmbeddingProviderRequestsTotal.WithLabelValues("error").Inc()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, 0, err
			}
			return nil, 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		metrics.EmbeddingProviderRequestsTotal.WithLabelValues("ok").Inc()
		for i, vec := range vectors {
			computed[uncachedHashes[start+i]] = vec
		}
	}

	if len(computed) > 0 {
		entries := make([]CacheEntry, 0, len(computed))
		for h, vec := range computed {
			entries = append(entries, CacheEntry{ContentHash: h, Embedding: vec})
		}
		if err := s.cache.Put(ctx, entries); err != nil {
			slog.Warn("embedding cache write failed", "error", err)
		}
	}

	out := make([][]float32, len(texts))
	for i, h := range hashes {
		if vec, ok := cached[h]; ok {
			out[i] = vec
		} else {
			out[i] = computed[h]
		}
	}
	return out, cacheHits, nil
}
