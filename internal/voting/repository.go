package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMemoryNotFound is returned when the voted memory does not exist within
// the tenant.
var ErrMemoryNotFound = errors.New("memory not found")

// Repository persists votes and reads vote aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordVote appends the vote row and bumps the counter on the memory in
// one transaction. The counter update is a single SQL increment, so
// concurrent votes never lose updates.
func (r *Repository) RecordVote(ctx context.Context, rec *VoteRecord) (helpful, harmful int64, err error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning vote tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`UPDATE memories SET
			bullet_helpful = bullet_helpful + CASE WHEN $3 = 'helpful' THEN 1 ELSE 0 END,
			bullet_harmful = bullet_harmful + CASE WHEN $3 = 'harmful' THEN 1 ELSE 0 END,
			updated_at = now()
		 WHERE id = $1 AND project_id = $2
		 RETURNING bullet_helpful, bullet_harmful`,
		rec.MemoryID, rec.ProjectID, rec.Vote,
	).Scan(&helpful, &harmful)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrMemoryNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("updating vote counters: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO memory_votes (id, memory_id, project_id, agent_id, vote, reason)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.MemoryID, rec.ProjectID, rec.AgentID, rec.Vote, rec.Reason,
	); err != nil {
		return 0, 0, fmt.Errorf("inserting vote: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("committing vote: %w", err)
	}
	return helpful, harmful, nil
}

// VotedMemories returns counter rows for every memory in the project that
// has received at least one vote.
func (r *Repository) VotedMemories(ctx context.Context, projectID string) ([]CurationEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, memory_type, agent_id, scope, bullet_helpful, bullet_harmful
		 FROM memories
		 WHERE project_id = $1 AND bullet_helpful + bullet_harmful > 0
		 ORDER BY bullet_helpful + bullet_harmful DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying voted memories: %w", err)
	}
	defer rows.Close()

	var entries []CurationEntry
	for rows.Next() {
		var e CurationEntry
		if err := rows.Scan(&e.MemoryID, &e.MemoryType, &e.AgentID, &e.Scope,
			&e.Helpful, &e.Harmful); err != nil {
			return nil, fmt.Errorf("scanning voted memory: %w", err)
		}
		e.Samples = e.Helpful + e.Harmful
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
