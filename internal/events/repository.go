package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles memory_events PostgreSQL operations. Insert-only plus a
// paginated listing; events are never updated or deleted by the API.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single event.
func (r *Repository) Insert(ctx context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO memory_events (id, project_id, event_type, memory_id, agent_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.ProjectID, ev.EventType, ev.MemoryID, ev.AgentID, payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting memory event: %w", err)
	}
	return nil
}

// List returns paginated events for a project with optional filters, newest
// first.
func (r *Repository) List(ctx context.Context, projectID string, params ListParams) ([]Event, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("project_id = $%d", argIdx))
	args = append(args, projectID)
	argIdx++

	if params.EventType != "" {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", argIdx))
		args = append(args, params.EventType)
		argIdx++
	}

	if params.MemoryID != nil {
		conditions = append(conditions, fmt.Sprintf("memory_id = $%d", argIdx))
		args = append(args, *params.MemoryID)
		argIdx++
	}

	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}

	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM memory_events WHERE %s", where)
	var totalCount int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting memory events: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, project_id, event_type, memory_id, agent_id, payload, created_at
		 FROM memory_events WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying memory events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.EventType, &ev.MemoryID,
			&ev.AgentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning memory event: %w", err)
		}
		out = append(out, ev)
	}

	return out, totalCount, rows.Err()
}
