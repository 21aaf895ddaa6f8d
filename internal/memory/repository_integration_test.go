//go:build integration

package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/recallhq/recall/internal/contenthash"
)

const embeddingDim = 1536

var (
	setupOnce sync.Once
	testPool  *pgxpool.Pool
)

func setupRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	setupOnce.Do(func() {
		ctx := context.Background()

		pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "pgvector/pgvector:0.8.1-pg16",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "test",
					"POSTGRES_PASSWORD": "test",
					"POSTGRES_DB":       "recall_test",
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			t.Fatalf("starting postgres container: %v", err)
		}

		pgHost, _ := pgContainer.Host(ctx)
		pgPort, _ := pgContainer.MappedPort(ctx, "5432")
		dsn := fmt.Sprintf("postgres://test:test@%s:%s/recall_test?sslmode=disable", pgHost, pgPort.Port())

		m, err := migrate.New("file://../../migrations", dsn)
		if err != nil {
			t.Fatalf("creating migrator: %v", err)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			t.Fatalf("running migrations: %v", err)
		}
		m.Close()

		testPool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			t.Fatalf("connecting to postgres: %v", err)
		}
	})
	return NewPostgresRepository(testPool)
}

// angleVec builds a 1536-dim unit vector at the given angle from the query
// axis, so cosine similarity to axisVec() is exactly cos(angle).
func angleVec(angle float64) []float32 {
	v := make([]float32, embeddingDim)
	v[0] = float32(math.Cos(angle))
	v[1] = float32(math.Sin(angle))
	return v
}

func axisVec() []float32 {
	return angleVec(0)
}

func newMem(projectID, namespace, agentID, content string, scope Scope) *Memory {
	return &Memory{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Namespace:   namespace,
		AgentID:     agentID,
		Content:     content,
		ContentHash: contenthash.Hash(content),
		Embedding:   axisVec(),
		MemoryType:  TypeStandard,
		Scope:       scope,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour).UTC()
	mem := newMem("proj-crud", "ns", "agent-1", "round trip content", ScopeAgentPrivate)
	mem.SharedWithAgents = nil
	mem.DerivedFromAgents = []string{"agent-0"}
	mem.SessionID = "sess-1"
	mem.ExpiresAt = &exp

	deduped, err := repo.Create(ctx, mem)
	require.NoError(t, err)
	require.Nil(t, deduped)

	got, err := repo.GetByID(ctx, mem.ID, "proj-crud")
	require.NoError(t, err)
	assert.Equal(t, mem.Content, got.Content)
	assert.Equal(t, mem.ContentHash, got.ContentHash)
	assert.Equal(t, ScopeAgentPrivate, got.Scope)
	assert.Equal(t, []string{"agent-0"}, got.DerivedFromAgents)
	assert.Equal(t, "sess-1", got.SessionID)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, exp, *got.ExpiresAt, time.Second)

	// Wrong tenant looks like a missing row.
	_, err = repo.GetByID(ctx, mem.ID, "other-project")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_DedupUniqueIndex(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	first := newMem("proj-dedup", "ns", "agent-1", "unique content", ScopeAgentPrivate)
	deduped, err := repo.Create(ctx, first)
	require.NoError(t, err)
	require.Nil(t, deduped)

	second := newMem("proj-dedup", "ns", "agent-1", "unique content", ScopeAgentPrivate)
	deduped, err = repo.Create(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, deduped)
	assert.Equal(t, first.ID, *deduped)

	// Different owner key: no conflict.
	third := newMem("proj-dedup", "ns", "agent-2", "unique content", ScopeAgentPrivate)
	deduped, err = repo.Create(ctx, third)
	require.NoError(t, err)
	assert.Nil(t, deduped)

	dup, err := repo.FindDuplicate(ctx, "proj-dedup", "ns", "", "agent-1", first.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, *dup)
}

func TestRepository_DedupConcurrentWriters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	const writers = 8
	results := make([]uuid.UUID, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mem := newMem("proj-race", "ns", "agent-1", "contended content", ScopeAgentPrivate)
			deduped, err := repo.Create(ctx, mem)
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			if deduped != nil {
				results[i] = *deduped
			} else {
				results[i] = mem.ID
			}
		}(i)
	}
	wg.Wait()

	// Every writer resolved to the same single row.
	for i := 1; i < writers; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestRepository_SearchAccessControl(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	global := newMem("proj-acl", "ns", "owner", "global fact", ScopeGlobal)
	private := newMem("proj-acl", "ns", "owner", "private fact", ScopeAgentPrivate)
	shared := newMem("proj-acl", "ns", "owner", "shared fact", ScopeAgentShared)
	shared.SharedWithAgents = []string{"peer"}

	for _, m := range []*Memory{global, private, shared} {
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)
	}

	search := func(agent string) map[string]bool {
		results, err := repo.Search(ctx, SearchParams{
			ProjectID:         "proj-acl",
			Namespace:         "ns",
			Embedding:         axisVec(),
			TopK:              10,
			RequestingAgentID: agent,
		})
		require.NoError(t, err)
		seen := make(map[string]bool)
		for _, r := range results {
			seen[r.Memory.Content] = true
		}
		return seen
	}

	owner := search("owner")
	assert.True(t, owner["global fact"])
	assert.True(t, owner["private fact"])
	assert.True(t, owner["shared fact"])

	peer := search("peer")
	assert.True(t, peer["global fact"])
	assert.False(t, peer["private fact"])
	assert.True(t, peer["shared fact"])

	stranger := search("stranger")
	assert.True(t, stranger["global fact"])
	assert.False(t, stranger["private fact"])
	assert.False(t, stranger["shared fact"])

	anon := search("")
	assert.True(t, anon["global fact"])
	assert.False(t, anon["private fact"])
	assert.False(t, anon["shared fact"])
}

func TestRepository_SearchOrderingAndFilters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	near := newMem("proj-rank", "ns", "agent-1", "near", ScopeGlobal)
	near.Embedding = angleVec(0.1)
	mid := newMem("proj-rank", "ns", "agent-1", "mid", ScopeGlobal)
	mid.Embedding = angleVec(0.8)
	far := newMem("proj-rank", "ns", "agent-1", "far", ScopeGlobal)
	far.Embedding = angleVec(1.4)

	deprecated := newMem("proj-rank", "ns", "agent-1", "deprecated", ScopeGlobal)
	deprecated.Embedding = angleVec(0.05)

	expired := newMem("proj-rank", "ns", "agent-1", "expired", ScopeGlobal)
	expired.Embedding = angleVec(0.05)
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past

	reflection := newMem("proj-rank", "ns", "agent-1", "typed", ScopeGlobal)
	reflection.Embedding = angleVec(0.2)
	reflection.MemoryType = TypeReflection

	for _, m := range []*Memory{near, mid, far, deprecated, expired, reflection} {
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)
	}
	ok, err := repo.Deprecate(ctx, deprecated.ID, "proj-rank", DeprecateRequest{Reason: "stale"})
	require.NoError(t, err)
	require.True(t, ok)

	// Ranked by similarity; deprecated and expired rows never surface.
	results, err := repo.Search(ctx, SearchParams{
		ProjectID: "proj-rank",
		Namespace: "ns",
		Embedding: axisVec(),
		TopK:      10,
	})
	require.NoError(t, err)
	var contents []string
	for _, r := range results {
		contents = append(contents, r.Memory.Content)
	}
	assert.Equal(t, []string{"near", "typed", "mid", "far"}, contents)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// TopK bounds the result set after filtering.
	results, err = repo.Search(ctx, SearchParams{
		ProjectID: "proj-rank", Namespace: "ns", Embedding: axisVec(), TopK: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Memory.Content)

	// MinScore cuts the tail: cos(1.4) ~ 0.17, cos(0.8) ~ 0.70.
	results, err = repo.Search(ctx, SearchParams{
		ProjectID: "proj-rank", Namespace: "ns", Embedding: axisVec(), TopK: 10, MinScore: 0.5,
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.5)
		assert.NotEqual(t, "far", r.Memory.Content)
	}

	// Memory type filter.
	results, err = repo.Search(ctx, SearchParams{
		ProjectID: "proj-rank", Namespace: "ns", Embedding: axisVec(), TopK: 10,
		MemoryTypes: []string{"reflection"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "typed", results[0].Memory.Content)

	// IncludeDeprecated restores soft-deleted rows.
	results, err = repo.Search(ctx, SearchParams{
		ProjectID: "proj-rank", Namespace: "ns", Embedding: axisVec(), TopK: 10,
		IncludeDeprecated: true,
	})
	require.NoError(t, err)
	found := false
	for _, r := range results {
		if r.Memory.Content == "deprecated" {
			found = true
			assert.True(t, r.Memory.IsDeprecated)
		}
	}
	assert.True(t, found)
}

func TestRepository_SearchTenantIsolation(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	mine := newMem("proj-iso-a", "ns", "agent-1", "mine", ScopeGlobal)
	theirs := newMem("proj-iso-b", "ns", "agent-1", "theirs", ScopeGlobal)
	for _, m := range []*Memory{mine, theirs} {
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)
	}

	results, err := repo.Search(ctx, SearchParams{
		ProjectID: "proj-iso-a", Namespace: "ns", Embedding: axisVec(), TopK: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mine", results[0].Memory.Content)
}

func TestRepository_TargetAgentRestriction(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	a := newMem("proj-target", "ns", "agent-a", "from a", ScopeGlobal)
	b := newMem("proj-target", "ns", "agent-b", "from b", ScopeGlobal)
	c := newMem("proj-target", "ns", "agent-c", "from c", ScopeGlobal)
	for _, m := range []*Memory{a, b, c} {
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)
	}

	results, err := repo.Search(ctx, SearchParams{
		ProjectID: "proj-target", Namespace: "ns", Embedding: axisVec(), TopK: 10,
		RequestingAgentID: "agent-a",
		TargetAgentIDs:    []string{"agent-b", "agent-c"},
	})
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.Memory.Content] = true
	}
	assert.False(t, seen["from a"])
	assert.True(t, seen["from b"])
	assert.True(t, seen["from c"])
}

func TestRepository_UpdateMetaRewritesJoinTable(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	mem := newMem("proj-meta", "ns", "owner", "shared thing", ScopeAgentShared)
	mem.SharedWithAgents = []string{"peer-1"}
	_, err := repo.Create(ctx, mem)
	require.NoError(t, err)

	ok, err := repo.UpdateMeta(ctx, "proj-meta", UpdateOp{
		ID:               mem.ID,
		SharedWithAgents: []string{"peer-2"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	// peer-2 now sees it, peer-1 no longer does.
	for agent, want := range map[string]bool{"peer-1": false, "peer-2": true} {
		results, err := repo.Search(ctx, SearchParams{
			ProjectID: "proj-meta", Namespace: "ns", Embedding: axisVec(), TopK: 10,
			RequestingAgentID: agent,
		})
		require.NoError(t, err)
		found := false
		for _, r := range results {
			if r.Memory.ID == mem.ID {
				found = true
			}
		}
		assert.Equal(t, want, found, "agent %s", agent)
	}
}

func TestRepository_DeleteExpiredBatches(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		mem := newMem("proj-sweep", "ns", "agent-1", fmt.Sprintf("expired %d", i), ScopeGlobal)
		mem.ExpiresAt = &past
		_, err := repo.Create(ctx, mem)
		require.NoError(t, err)
	}

	n, err := repo.DeleteExpired(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.DeleteExpired(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRepository_DeleteIdempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	mem := newMem("proj-del", "ns", "agent-1", "doomed", ScopeGlobal)
	_, err := repo.Create(ctx, mem)
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, mem.ID, "proj-del")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, mem.ID, "proj-del")
	require.NoError(t, err)
	assert.False(t, deleted)
}
