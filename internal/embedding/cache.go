package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/recallhq/recall/internal/metrics"
)

// CacheEntry is one computed vector keyed by content hash.
type CacheEntry struct {
	ContentHash string
	Embedding   []float32
}

// PersistentStore is the durable cache tier.
type PersistentStore interface {
	// Get returns the vector for the hash and records the hit durably.
	Get(ctx context.Context, contentHash string) ([]float32, bool, error)
	GetBatch(ctx context.Context, contentHashes []string) (map[string][]float32, error)
	PutBatch(ctx context.Context, entries []CacheEntry) error
}

// PostgresCacheStore persists vectors in the embedding_cache table, one row
// per (content_hash, model), with a durable hit counter.
type PostgresCacheStore struct {
	pool  *pgxpool.Pool
	model string
}

func NewPostgresCacheStore(pool *pgxpool.Pool, model string) *PostgresCacheStore {
	return &PostgresCacheStore{pool: pool, model: model}
}

func (s *PostgresCacheStore) Get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`UPDATE embedding_cache SET hits = hits + 1, last_hit_at = now()
		 WHERE content_hash = $1 AND model = $2
		 RETURNING embedding`,
		contentHash, s.model,
	).Scan(&vec)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading embedding cache: %w", err)
	}
	return vec.Slice(), true, nil
}

func (s *PostgresCacheStore) GetBatch(ctx context.Context, contentHashes []string) (map[string][]float32, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE embedding_cache SET hits = hits + 1, last_hit_at = now()
		 WHERE content_hash = ANY($1) AND model = $2
		 RETURNING content_hash, embedding`,
		contentHashes, s.model,
	)
	if err != nil {
		return nil, fmt.Errorf("reading embedding cache batch: %w", err)
	}
	defer rows.Close()

	found := make(map[string][]float32)
	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, fmt.Errorf("scanning embedding cache row: %w", err)
		}
		found[hash] = vec.Slice()
	}
	return found, rows.Err()
}

func (s *PostgresCacheStore) PutBatch(ctx context.Context, entries []CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO embedding_cache (content_hash, model, embedding)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (content_hash, model) DO NOTHING`,
			e.ContentHash, s.model, pgvector.NewVector(e.Embedding),
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("writing embedding cache batch: %w", err)
	}
	return nil
}

// Cache is the two-tier lookup: a ristretto in-process tier in front of the
// persistent store. Ristretto gives per-key concurrent access and
// approximate (cost-based) eviction, which is all the hot path needs; exact
// recency ordering is not part of the contract.
type Cache struct {
	proc  *ristretto.Cache
	store PersistentStore
}

func NewCache(maxEntries int64, store PersistentStore) (*Cache, error) {
	proc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating in-process cache: %w", err)
	}
	return &Cache{proc: proc, store: store}, nil
}

// Get checks the in-process tier, then the persistent tier. A persistent
// hit is promoted into the in-process tier.
func (c *Cache) Get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	if v, ok := c.proc.Get(contentHash); ok {
		metrics.EmbeddingCacheHitsTotal.WithLabelValues("process").Inc()
		return v.([]float32), true, nil
	}
	vec, ok, err := c.store.Get(ctx, contentHash)
	if err != nil || !ok {
		return nil, false, err
	}
	metrics.EmbeddingCacheHitsTotal.WithLabelValues("persistent").Inc()
	c.proc.Set(contentHash, vec, 1)
	return vec, true, nil
}

// GetBatch partitions hashes into found/missing across both tiers,
// promoting persistent hits.
func (c *Cache) GetBatch(ctx context.Context, contentHashes []string) (map[string][]float32, error) {
	found := make(map[string][]float32, len(contentHashes))
	var missing []string
	for _, h := range contentHashes {
		if _, dup := found[h]; dup {
			continue
		}
		if v, ok := c.proc.Get(h); ok {
			metrics.EmbeddingCacheHitsTotal.WithLabelValues("process").Inc()
			found[h] = v.([]float32)
		} else {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	persisted, err := c.store.GetBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for h, vec := range persisted {
		metrics.EmbeddingCacheHitsTotal.WithLabelValues("persistent").Inc()
		c.proc.Set(h, vec, 1)
		found[h] = vec
	}
	return found, nil
}

// Put writes both tiers. The in-process write is immediate; the persistent
// write is one batched statement.
func (c *Cache) Put(ctx context.Context, entries []CacheEntry) error {
	for _, e := range entries {
		c.proc.Set(e.ContentHash, e.Embedding, 1)
	}
	return c.store.PutBatch(ctx, entries)
}

// Wait flushes ristretto's set buffer; used by tests that read their own
// writes.
func (c *Cache) Wait() {
	c.proc.Wait()
}
