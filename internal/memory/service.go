package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/contenthash"
	"github.com/recallhq/recall/internal/events"
	"github.com/recallhq/recall/internal/metrics"
)

// ErrInvalidInput marks caller errors; handlers map it to 400.
var ErrInvalidInput = errors.New("invalid input")

const defaultTopK = 10

// Embedder is the slice of the embedding service this package needs.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, bool, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error)
}

// Service orchestrates the memory lifecycle: validation, scope inference,
// dedup, embedding, persistence, and event recording.
type Service struct {
	repo     Repository
	embedder Embedder
	recorder events.Recorder
	validate *validator.Validate
}

func NewService(repo Repository, embedder Embedder, recorder events.Recorder) *Service {
	return &Service{
		repo:     repo,
		embedder: embedder,
		recorder: recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Add writes one memory. Dedup is checked by content hash before any
// embedding call is spent; identical content for the same owner key returns
// the existing id instead of a new row.
func (s *Service) Add(ctx context.Context, projectID string, req *AddRequest) (*AddResult, error) {
	mem, err := s.prepare(projectID, req)
	if err != nil {
		return nil, err
	}

	if dup, err := s.repo.FindDuplicate(ctx, projectID, mem.Namespace, mem.UserID, mem.AgentID, mem.ContentHash); err != nil {
		return nil, err
	} else if dup != nil {
		metrics.DedupHitsTotal.Inc()
		return &AddResult{ID: *dup, DedupedFrom: dup}, nil
	}

	vec, _, err := s.embedder.EmbedText(ctx, req.Content)
	if err != nil {
		return nil, err
	}
	mem.Embedding = vec

	dedupedFrom, err := s.repo.Create(ctx, mem)
	if err != nil {
		return nil, err
	}
	if dedupedFrom != nil {
		// A concurrent identical write won the race.
		metrics.DedupHitsTotal.Inc()
		return &AddResult{ID: *dedupedFrom, DedupedFrom: dedupedFrom}, nil
	}

	metrics.MemoriesCreatedTotal.Inc()
	s.recorder.Record(ctx, events.Event{
		ProjectID: projectID,
		EventType: events.EventCreated,
		MemoryID:  &mem.ID,
		AgentID:   mem.AgentID,
		Payload: events.Payload(map[string]any{
			"namespace":   mem.Namespace,
			"memory_type": mem.MemoryType,
			"scope":       mem.Scope,
		}),
	})
	return &AddResult{ID: mem.ID, InferredScope: mem.Scope}, nil
}

// prepare validates an AddRequest and resolves it into an insertable Memory
// (without embedding).
func (s *Service) prepare(projectID string, req *AddRequest) (*Memory, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	memType, err := ParseMemoryType(req.MemoryType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	explicit, err := ParseScope(req.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	// Applies to inferred scopes too: a private signal without an owner is
	// a caller error, never silently widened to global.
	scope := InferScope(req.Content, explicit, req.AgentID, req.SharedWithAgents, req.CoordinationMeta)
	if (scope == ScopeAgentPrivate || scope == ScopeAgentShared) && req.AgentID == "" {
		return nil, fmt.Errorf("%w: scope %q requires agent_id", ErrInvalidInput, scope)
	}

	var expiresAt *time.Time
	if req.TTLSeconds > 0 {
		t := time.Now().UTC().Add(time.Duration(req.TTLSeconds) * time.Second)
		expiresAt = &t
	}

	return &Memory{
		ID:                 uuid.New(),
		ProjectID:          projectID,
		Namespace:          req.Namespace,
		AgentID:            req.AgentID,
		UserID:             req.UserID,
		Content:            req.Content,
		ContentHash:        contenthash.Hash(req.Content),
		MemoryType:         memType,
		Scope:              scope,
		SharedWithAgents:   req.SharedWithAgents,
		DerivedFromAgents:  req.DerivedFromAgents,
		CoordinationMeta:   req.CoordinationMeta,
		SourceTrajectoryID: req.SourceTrajectoryID,
		ErrorPattern:       req.ErrorPattern,
		SessionID:          req.SessionID,
		SequenceNumber:     req.SequenceNumber,
		EntityID:           req.EntityID,
		ExpiresAt:          expiresAt,
	}, nil
}

// AddBatch writes up to 100 memories. Item failures are isolated into their
// result slot; only an embedding-provider failure aborts the whole batch,
// since no remaining item can proceed without vectors.
func (s *Service) AddBatch(ctx context.Context, projectID string, req *BatchAddRequest) (*BatchAddResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	start := time.Now()

	results := make([]BatchItemResult, len(req.Items))
	prepared := make([]*Memory, len(req.Items))
	for i := range req.Items {
		results[i].Index = i
		mem, err := s.prepare(projectID, &req.Items[i])
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		prepared[i] = mem
	}

	// Pre-embedding dedup pass, including duplicates within the batch
	// itself: the first occurrence proceeds, later ones resolve to it via
	// the unique index at insert time.
	var pendingIdx []int
	var pendingTexts []string
	for i, mem := range prepared {
		if mem == nil {
			continue
		}
		dup, err := s.repo.FindDuplicate(ctx, projectID, mem.Namespace, mem.UserID, mem.AgentID, mem.ContentHash)
		if err != nil {
			results[i].Error = err.Error()
			prepared[i] = nil
			continue
		}
		if dup != nil {
			metrics.DedupHitsTotal.Inc()
			results[i].ID = dup
			results[i].DedupedFrom = dup
			prepared[i] = nil
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingTexts = append(pendingTexts, mem.Content)
	}

	cacheHits := 0
	if len(pendingTexts) > 0 {
		vectors, hits, err := s.embedder.EmbedBatch(ctx, pendingTexts)
		if err != nil {
			return nil, err
		}
		cacheHits = hits
		for j, i := range pendingIdx {
			prepared[i].Embedding = vectors[j]
		}
	}

	for _, i := range pendingIdx {
		mem := prepared[i]
		dedupedFrom, err := s.repo.Create(ctx, mem)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		if dedupedFrom != nil {
			metrics.DedupHitsTotal.Inc()
			results[i].ID = dedupedFrom
			results[i].DedupedFrom = dedupedFrom
			continue
		}
		id := mem.ID
		results[i].ID = &id
		metrics.MemoriesCreatedTotal.Inc()
		s.recorder.Record(ctx, events.Event{
			ProjectID: projectID,
			EventType: events.EventCreated,
			MemoryID:  &id,
			AgentID:   mem.AgentID,
			Payload: events.Payload(map[string]any{
				"namespace":   mem.Namespace,
				"memory_type": mem.MemoryType,
				"scope":       mem.Scope,
				"batch":       true,
			}),
		})
	}

	return &BatchAddResult{
		Results:   results,
		CacheHits: cacheHits,
		ElapsedMs: time.Since(start).Milliseconds(),
	}, nil
}

// Query runs a scoped semantic search as the agent named in the request.
func (s *Service) Query(ctx context.Context, projectID string, req *QueryRequest) ([]SearchResult, error) {
	return s.search(ctx, projectID, req, req.AgentID, nil)
}

// CrossAgentQuery searches memories owned by explicitly named peer agents.
// The target restriction narrows the candidate set; scope-based access
// control still applies on top, so a peer's private memories stay invisible.
func (s *Service) CrossAgentQuery(ctx context.Context, projectID string, req *CrossAgentQueryRequest) ([]SearchResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.search(ctx, projectID, &req.QueryRequest, req.RequestingAgentID, req.TargetAgentIDs)
}

func (s *Service) search(ctx context.Context, projectID string, req *QueryRequest, requestingAgentID string, targetAgentIDs []string) ([]SearchResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	topK := req.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	if topK < 1 || topK > 100 {
		return nil, fmt.Errorf("%w: top_k must be between 1 and 100", ErrInvalidInput)
	}
	if req.MinScore < -1 || req.MinScore > 1 {
		return nil, fmt.Errorf("%w: min_score must be between -1 and 1", ErrInvalidInput)
	}
	for _, mt := range req.MemoryTypes {
		if _, err := ParseMemoryType(mt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	vec, _, err := s.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	results, err := s.repo.Search(ctx, SearchParams{
		ProjectID:         projectID,
		Namespace:         req.Namespace,
		Embedding:         vec,
		TopK:              topK,
		MinScore:          req.MinScore,
		RequestingAgentID: requestingAgentID,
		TargetAgentIDs:    targetAgentIDs,
		MemoryTypes:       req.MemoryTypes,
		IncludeDeprecated: req.IncludeDeprecated,
	})
	if err != nil {
		return nil, err
	}

	metrics.SearchesTotal.Inc()
	s.recorder.Record(ctx, events.Event{
		ProjectID: projectID,
		EventType: events.EventQueried,
		AgentID:   requestingAgentID,
		Payload: events.Payload(map[string]any{
			"namespace":   req.Namespace,
			"top_k":       topK,
			"results":     len(results),
			"cross_agent": len(targetAgentIDs) > 0,
		}),
	})
	return results, nil
}

// Get fetches a memory by id within the tenant. Expiry is not enforced
// here: a direct read of an expired-but-unswept row still succeeds.
func (s *Service) Get(ctx context.Context, projectID string, id uuid.UUID) (*Memory, error) {
	return s.repo.GetByID(ctx, id, projectID)
}

// List returns a page of memories, newest first.
func (s *Service) List(ctx context.Context, projectID, namespace, agentID string, page, pageSize int) ([]Memory, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.repo.List(ctx, projectID, namespace, agentID, page, pageSize)
}

// Delete hard-deletes a memory. Idempotent: deleting a missing id reports
// deleted=false without error.
func (s *Service) Delete(ctx context.Context, projectID string, id uuid.UUID) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id, projectID)
	if err != nil || !deleted {
		return deleted, err
	}
	s.recorder.Record(ctx, events.Event{
		ProjectID: projectID,
		EventType: events.EventDeleted,
		MemoryID:  &id,
	})
	return true, nil
}

// Deprecate soft-deletes a memory, optionally naming its replacement.
// Already-deprecated and missing rows both report ErrNotFound.
func (s *Service) Deprecate(ctx context.Context, projectID string, id uuid.UUID, req *DeprecateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	ok, err := s.repo.Deprecate(ctx, id, projectID, *req)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.recorder.Record(ctx, events.Event{
		ProjectID: projectID,
		EventType: events.EventDeprecated,
		MemoryID:  &id,
		AgentID:   req.DeprecatedBy,
		Payload: events.Payload(map[string]any{
			"superseded_by": req.SupersededBy,
			"reason":        req.Reason,
		}),
	})
	return nil
}

// ApplyDelta applies a mixed batch of add/update/deprecate operations. Ops
// are independent: a failed op reports its error in its slot and the rest
// proceed.
func (s *Service) ApplyDelta(ctx context.Context, projectID string, req *DeltaRequest) ([]DeltaOpResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	results := make([]DeltaOpResult, len(req.Ops))
	for i, op := range req.Ops {
		results[i] = DeltaOpResult{Index: i, Op: op.Op}
		switch op.Op {
		case DeltaOpAdd:
			if op.Add == nil {
				results[i].Error = "add op requires an add body"
				continue
			}
			res, err := s.Add(ctx, projectID, op.Add)
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			results[i].ID = &res.ID
		case DeltaOpUpdate:
			if op.Update == nil {
				results[i].Error = "update op requires an update body"
				continue
			}
			ok, err := s.repo.UpdateMeta(ctx, projectID, *op.Update)
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			if !ok {
				results[i].Error = ErrNotFound.Error()
				continue
			}
			id := op.Update.ID
			results[i].ID = &id
		case DeltaOpDeprecate:
			if op.Deprecate == nil {
				results[i].Error = "deprecate op requires a deprecate body"
				continue
			}
			err := s.Deprecate(ctx, projectID, op.Deprecate.ID, &DeprecateRequest{
				DeprecatedBy: op.Deprecate.DeprecatedBy,
				SupersededBy: op.Deprecate.SupersededBy,
				Reason:       op.Deprecate.Reason,
			})
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			id := op.Deprecate.ID
			results[i].ID = &id
		default:
			results[i].Error = fmt.Sprintf("unknown op %q", op.Op)
		}
	}
	return results, nil
}

// Export streams matching memories through fn in creation order.
func (s *Service) Export(ctx context.Context, projectID string, p ExportParams, fn func(*Memory) error) error {
	return s.repo.Export(ctx, projectID, p, fn)
}
