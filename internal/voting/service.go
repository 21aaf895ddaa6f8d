package voting

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/events"
	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/internal/metrics"
)

// reviewThreshold marks a smoothed score below which a memory is flagged
// for human review.
const reviewThreshold = 0.4

// Service casts votes and builds the curation report.
type Service struct {
	repo     *Repository
	recorder events.Recorder
	cfg      config.CurationConfig
	validate *validator.Validate
}

func NewService(repo *Repository, recorder events.Recorder, cfg config.CurationConfig) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Vote records one helpful/harmful signal. The effectiveness score is
// always recomputed from the returned counters, never read from storage.
func (s *Service) Vote(ctx context.Context, projectID string, memoryID uuid.UUID, req *VoteRequest) (*VoteResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrInvalidInput, err)
	}

	helpful, harmful, err := s.repo.RecordVote(ctx, &VoteRecord{
		MemoryID:  memoryID,
		ProjectID: projectID,
		AgentID:   req.AgentID,
		Vote:      req.Vote,
		Reason:    req.Reason,
	})
	if err != nil {
		return nil, err
	}

	metrics.VotesTotal.WithLabelValues(req.Vote).Inc()
	s.recorder.Record(ctx, events.Event{
		ProjectID: projectID,
		EventType: events.EventVoted,
		MemoryID:  &memoryID,
		AgentID:   req.AgentID,
		Payload: events.Payload(map[string]any{
			"vote":   req.Vote,
			"reason": req.Reason,
		}),
	})

	return &VoteResult{
		MemoryID:      memoryID,
		BulletHelpful: helpful,
		BulletHarmful: harmful,
		Effectiveness: memory.EffectivenessScore(helpful, harmful),
	}, nil
}

// CurationReport scores every voted memory. The smoothed score is a
// Beta-prior estimate of the helpful rate, which keeps a single early
// downvote from condemning a memory; entries under the sample floor are
// reported but marked insufficient rather than judged.
func (s *Service) CurationReport(ctx context.Context, projectID string) (*CurationReport, error) {
	entries, err := s.repo.VotedMemories(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := &CurationReport{TotalVoted: len(entries)}
	for i := range entries {
		e := &entries[i]
		e.Effectiveness = memory.EffectivenessScore(e.Helpful, e.Harmful)
		e.SmoothedScore = SmoothedScore(e.Helpful, e.Harmful, s.cfg.Alpha, s.cfg.Beta)
		e.Advice = adviceFor(e, s.cfg)

		switch e.Advice {
		case AdviceInsufficient:
			report.Insufficient++
		case AdviceReview:
			report.ReviewCount++
		default:
			report.KeepCount++
		}
	}
	report.Entries = entries
	return report, nil
}

func adviceFor(e *CurationEntry, cfg config.CurationConfig) string {
	if e.Samples < int64(cfg.MinSamples) {
		return AdviceInsufficient
	}
	if SmoothedScore(e.Helpful, e.Harmful, cfg.Alpha, cfg.Beta) < reviewThreshold {
		return AdviceReview
	}
	return AdviceKeep
}

// SmoothedScore is the posterior mean helpful rate under a Beta(alpha,
// beta) prior: (helpful + alpha) / (helpful + harmful + alpha + beta).
func SmoothedScore(helpful, harmful int64, alpha, beta float64) float64 {
	return (float64(helpful) + alpha) / (float64(helpful+harmful) + alpha + beta)
}
