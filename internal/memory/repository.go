package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned for lookups that match no row within the tenant.
// A row in another tenant is indistinguishable from a missing row.
var ErrNotFound = errors.New("memory not found")

// SearchParams is the fully-resolved input to a semantic search. Every
// field here becomes part of the WHERE clause evaluated jointly with the
// vector index traversal; nothing is filtered after the LIMIT.
type SearchParams struct {
	ProjectID string
	Namespace string
	Embedding []float32
	TopK      int
	MinScore  float64

	// RequestingAgentID drives the access-control clause; empty means an
	// anonymous principal that can only see global memories.
	RequestingAgentID string
	// TargetAgentIDs, when set, restricts results to memories owned by the
	// named agents before access control applies.
	TargetAgentIDs []string

	MemoryTypes       []string
	IncludeDeprecated bool
}

// Repository defines memory persistence operations.
type Repository interface {
	Create(ctx context.Context, mem *Memory) (dedupedFrom *uuid.UUID, err error)
	FindDuplicate(ctx context.Context, projectID, namespace, userID, agentID, contentHash string) (*uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID, projectID string) (*Memory, error)
	Search(ctx context.Context, p SearchParams) ([]SearchResult, error)
	List(ctx context.Context, projectID, namespace, agentID string, page, pageSize int) ([]Memory, int64, error)
	Delete(ctx context.Context, id uuid.UUID, projectID string) (bool, error)
	Deprecate(ctx context.Context, id uuid.UUID, projectID string, req DeprecateRequest) (bool, error)
	UpdateMeta(ctx context.Context, projectID string, op UpdateOp) (bool, error)
	DeleteExpired(ctx context.Context, limit int) (int64, error)
	Export(ctx context.Context, projectID string, p ExportParams, fn func(*Memory) error) error
}

// PostgresRepository implements Repository over pgx + pgvector.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const memoryColumns = `m.id, m.project_id, m.namespace, m.agent_id, m.user_id,
	m.content, m.content_hash, m.memory_type, m.scope,
	m.shared_with_agents, m.derived_from_agents, m.coordination_metadata,
	m.source_trajectory_id, m.error_pattern,
	m.bullet_helpful, m.bullet_harmful,
	m.is_deprecated, m.deprecated_at, m.deprecated_by, m.superseded_by,
	m.session_id, m.sequence_number, m.entity_id,
	m.created_at, m.updated_at, m.expires_at`

// Create inserts a memory and its shared-agent rows in one transaction.
// The dedup unique index turns a concurrent identical write into a normal
// "deduped" outcome: if the insert conflicts, the existing row's id is
// returned instead.
func (r *PostgresRepository) Create(ctx context.Context, mem *Memory) (*uuid.UUID, error) {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sharedJSON, err := marshalStrings(mem.SharedWithAgents)
	if err != nil {
		return nil, err
	}
	derivedJSON, err := marshalStrings(mem.DerivedFromAgents)
	if err != nil {
		return nil, err
	}
	meta := mem.CoordinationMeta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	var insertedID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO memories (
			id, project_id, namespace, agent_id, user_id,
			content, content_hash, embedding, memory_type, scope,
			shared_with_agents, derived_from_agents, coordination_metadata,
			source_trajectory_id, error_pattern,
			session_id, sequence_number, entity_id, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (project_id, namespace, user_id, agent_id, content_hash)
			DO NOTHING
		RETURNING id`,
		mem.ID, mem.ProjectID, mem.Namespace, mem.AgentID, mem.UserID,
		mem.Content, mem.ContentHash, pgvector.NewVector(mem.Embedding),
		string(mem.MemoryType), string(mem.Scope),
		sharedJSON, derivedJSON, meta,
		mem.SourceTrajectoryID, mem.ErrorPattern,
		mem.SessionID, mem.SequenceNumber, mem.EntityID, mem.ExpiresAt,
	).Scan(&insertedID)

	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race to an identical write. Resolve to the winner.
		var existing uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT id FROM memories
			 WHERE project_id = $1 AND namespace = $2 AND user_id = $3
			   AND agent_id = $4 AND content_hash = $5`,
			mem.ProjectID, mem.Namespace, mem.UserID, mem.AgentID, mem.ContentHash,
		).Scan(&existing)
		if err != nil {
			return nil, fmt.Errorf("resolving dedup conflict: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing dedup resolution: %w", err)
		}
		return &existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inserting memory: %w", err)
	}

	if mem.Scope == ScopeAgentShared && len(mem.SharedWithAgents) > 0 {
		if err := insertSharedAgents(ctx, tx, mem.ID, mem.SharedWithAgents); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return nil, nil
}

func insertSharedAgents(ctx context.Context, tx pgx.Tx, memoryID uuid.UUID, agents []string) error {
	rows := make([][]any, 0, len(agents))
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		rows = append(rows, []any{memoryID, a})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"memory_shared_agents"},
		[]string{"memory_id", "agent_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("inserting shared-agent rows: %w", err)
	}
	return nil
}

// FindDuplicate is the indexed hash-equality lookup used before spending an
// embedding call. Strictly hash equality: near-duplicates are not merged.
func (r *PostgresRepository) FindDuplicate(ctx context.Context, projectID, namespace, userID, agentID, contentHash string) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM memories
		 WHERE project_id = $1 AND namespace = $2 AND user_id = $3
		   AND agent_id = $4 AND content_hash = $5`,
		projectID, namespace, userID, agentID, contentHash,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up duplicate: %w", err)
	}
	return &id, nil
}

// GetByID does not enforce TTL: an expired row is still returned until the
// sweeper removes it. Search is the contract that enforces expiry.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID, projectID string) (*Memory, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories m
		 WHERE m.id = $1 AND m.project_id = $2`,
		id, projectID,
	)
	mem, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting memory: %w", err)
	}
	return mem, nil
}

// Search runs the filtered ANN query. All boolean filters live in the same
// WHERE as the vector ordering so the index traversal only yields eligible
// rows; the LIMIT applies after filtering, never before.
func (r *PostgresRepository) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	vec := pgvector.NewVector(p.Embedding)

	args := []any{vec, p.ProjectID, p.Namespace}
	conditions := []string{
		"m.project_id = $2",
		"m.namespace = $3",
		"(m.expires_at IS NULL OR m.expires_at > now())",
	}
	if !p.IncludeDeprecated {
		conditions = append(conditions, "m.is_deprecated = FALSE")
	}
	if len(p.MemoryTypes) > 0 {
		args = append(args, p.MemoryTypes)
		conditions = append(conditions, fmt.Sprintf("m.memory_type = ANY($%d)", len(args)))
	}
	if len(p.TargetAgentIDs) > 0 {
		args = append(args, p.TargetAgentIDs)
		conditions = append(conditions, fmt.Sprintf("m.agent_id = ANY($%d)", len(args)))
	}

	var clause string
	clause, args = accessClause(p.RequestingAgentID, args)
	conditions = append(conditions, clause)

	args = append(args, p.MinScore)
	conditions = append(conditions, fmt.Sprintf("1 - (m.embedding <=> $1) >= $%d", len(args)))

	args = append(args, p.TopK)
	query := fmt.Sprintf(
		`SELECT `+memoryColumns+`, 1 - (m.embedding <=> $1) AS score
		 FROM memories m
		 WHERE %s
		 ORDER BY m.embedding <=> $1, m.created_at DESC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		mem, score, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, SearchResult{Memory: *mem, Score: score})
	}
	return results, rows.Err()
}

func (r *PostgresRepository) List(ctx context.Context, projectID, namespace, agentID string, page, pageSize int) ([]Memory, int64, error) {
	args := []any{projectID}
	conditions := []string{"m.project_id = $1"}
	if namespace != "" {
		args = append(args, namespace)
		conditions = append(conditions, fmt.Sprintf("m.namespace = $%d", len(args)))
	}
	if agentID != "" {
		args = append(args, agentID)
		conditions = append(conditions, fmt.Sprintf("m.agent_id = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM memories m WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting memories: %w", err)
	}

	offset := (page - 1) * pageSize
	args = append(args, pageSize, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+memoryColumns+` FROM memories m
		 WHERE %s
		 ORDER BY m.created_at DESC
		 LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, *mem)
	}
	return memories, total, rows.Err()
}

// Delete is a hard delete, idempotent from the caller's view: a missing row
// reports false rather than an error.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID, projectID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM memories WHERE id = $1 AND project_id = $2`,
		id, projectID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting memory: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Deprecate soft-deletes: the row stays for history but leaves default
// search results.
func (r *PostgresRepository) Deprecate(ctx context.Context, id uuid.UUID, projectID string, req DeprecateRequest) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE memories SET
			is_deprecated = TRUE,
			deprecated_at = now(),
			deprecated_by = $3,
			superseded_by = $4,
			coordination_metadata = CASE WHEN $5 = ''
				THEN coordination_metadata
				ELSE jsonb_set(coordination_metadata, '{deprecation_reason}', to_jsonb($5::text)) END,
			updated_at = now()
		 WHERE id = $1 AND project_id = $2 AND is_deprecated = FALSE`,
		id, projectID, req.DeprecatedBy, req.SupersededBy, req.Reason,
	)
	if err != nil {
		return false, fmt.Errorf("deprecating memory: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateMeta patches coordination metadata and/or the shared list. The
// join table is rewritten in the same transaction as the jsonb column so
// the two can never disagree.
func (r *PostgresRepository) UpdateMeta(ctx context.Context, projectID string, op UpdateOp) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(op.CoordinationMeta) > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE memories SET coordination_metadata = $3, updated_at = now()
			 WHERE id = $1 AND project_id = $2`,
			op.ID, projectID, op.CoordinationMeta,
		)
		if err != nil {
			return false, fmt.Errorf("updating coordination metadata: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	}

	if op.SharedWithAgents != nil {
		sharedJSON, err := marshalStrings(op.SharedWithAgents)
		if err != nil {
			return false, err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE memories SET shared_with_agents = $3, updated_at = now()
			 WHERE id = $1 AND project_id = $2`,
			op.ID, projectID, sharedJSON,
		)
		if err != nil {
			return false, fmt.Errorf("updating shared agents: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM memory_shared_agents WHERE memory_id = $1`, op.ID,
		); err != nil {
			return false, fmt.Errorf("clearing shared-agent rows: %w", err)
		}
		if len(op.SharedWithAgents) > 0 {
			if err := insertSharedAgents(ctx, tx, op.ID, op.SharedWithAgents); err != nil {
				return false, err
			}
		}
	}

	if len(op.CoordinationMeta) == 0 && op.SharedWithAgents == nil {
		// Nothing to patch; verify existence for a truthful not-found.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM memories WHERE id = $1 AND project_id = $2)`,
			op.ID, projectID,
		).Scan(&exists); err != nil {
			return false, fmt.Errorf("checking memory existence: %w", err)
		}
		if !exists {
			return false, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing update: %w", err)
	}
	return true, nil
}

// DeleteExpired removes up to limit rows past their expires_at. Bounded so
// the sweeper never holds a long transaction over the hot path.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM memories WHERE id IN (
			SELECT id FROM memories
			WHERE expires_at IS NOT NULL AND expires_at <= now()
			LIMIT $1
		)`, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Export streams matching rows through fn in created_at order.
func (r *PostgresRepository) Export(ctx context.Context, projectID string, p ExportParams, fn func(*Memory) error) error {
	args := []any{projectID}
	conditions := []string{"m.project_id = $1"}
	if p.Namespace != "" {
		args = append(args, p.Namespace)
		conditions = append(conditions, fmt.Sprintf("m.namespace = $%d", len(args)))
	}
	if p.AgentID != "" {
		args = append(args, p.AgentID)
		conditions = append(conditions, fmt.Sprintf("m.agent_id = $%d", len(args)))
	}

	cols := memoryColumns
	if p.IncludeEmbeddings {
		cols += ", m.embedding"
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM memories m WHERE %s ORDER BY m.created_at`,
		cols, strings.Join(conditions, " AND ")),
		args...)
	if err != nil {
		return fmt.Errorf("exporting memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mem *Memory
		if p.IncludeEmbeddings {
			mem, err = scanMemoryWithEmbedding(rows)
		} else {
			mem, err = scanMemory(rows)
		}
		if err != nil {
			return fmt.Errorf("scanning export row: %w", err)
		}
		if err := fn(mem); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanMemory(row pgx.Row) (*Memory, error) {
	var m Memory
	var sharedJSON, derivedJSON []byte
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.UserID,
		&m.Content, &m.ContentHash, &m.MemoryType, &m.Scope,
		&sharedJSON, &derivedJSON, &m.CoordinationMeta,
		&m.SourceTrajectoryID, &m.ErrorPattern,
		&m.BulletHelpful, &m.BulletHarmful,
		&m.IsDeprecated, &m.DeprecatedAt, &m.DeprecatedBy, &m.SupersededBy,
		&m.SessionID, &m.SequenceNumber, &m.EntityID,
		&m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalStrings(sharedJSON, &m.SharedWithAgents); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(derivedJSON, &m.DerivedFromAgents); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMemoryWithScore(rows pgx.Rows) (*Memory, float64, error) {
	var m Memory
	var sharedJSON, derivedJSON []byte
	var score float64
	err := rows.Scan(
		&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.UserID,
		&m.Content, &m.ContentHash, &m.MemoryType, &m.Scope,
		&sharedJSON, &derivedJSON, &m.CoordinationMeta,
		&m.SourceTrajectoryID, &m.ErrorPattern,
		&m.BulletHelpful, &m.BulletHarmful,
		&m.IsDeprecated, &m.DeprecatedAt, &m.DeprecatedBy, &m.SupersededBy,
		&m.SessionID, &m.SequenceNumber, &m.EntityID,
		&m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt,
		&score,
	)
	if err != nil {
		return nil, 0, err
	}
	if err := unmarshalStrings(sharedJSON, &m.SharedWithAgents); err != nil {
		return nil, 0, err
	}
	if err := unmarshalStrings(derivedJSON, &m.DerivedFromAgents); err != nil {
		return nil, 0, err
	}
	return &m, score, nil
}

func scanMemoryWithEmbedding(rows pgx.Rows) (*Memory, error) {
	var m Memory
	var sharedJSON, derivedJSON []byte
	var vec pgvector.Vector
	err := rows.Scan(
		&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.UserID,
		&m.Content, &m.ContentHash, &m.MemoryType, &m.Scope,
		&sharedJSON, &derivedJSON, &m.CoordinationMeta,
		&m.SourceTrajectoryID, &m.ErrorPattern,
		&m.BulletHelpful, &m.BulletHarmful,
		&m.IsDeprecated, &m.DeprecatedAt, &m.DeprecatedBy, &m.SupersededBy,
		&m.SessionID, &m.SequenceNumber, &m.EntityID,
		&m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt,
		&vec,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalStrings(sharedJSON, &m.SharedWithAgents); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(derivedJSON, &m.DerivedFromAgents); err != nil {
		return nil, err
	}
	m.Embedding = vec.Slice()
	return &m, nil
}

func marshalStrings(ss []string) ([]byte, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil, fmt.Errorf("marshaling string list: %w", err)
	}
	return b, nil
}

func unmarshalStrings(b []byte, dst *[]string) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unmarshaling string list: %w", err)
	}
	if len(*dst) == 0 {
		*dst = nil
	}
	return nil
}
