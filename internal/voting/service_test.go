package voting

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/memory"
)

func TestSmoothedScore(t *testing.T) {
	// Uniform prior: no votes means 0.5, not 0 or 1.
	assert.InDelta(t, 0.5, SmoothedScore(0, 0, 1, 1), 1e-9)

	// A single downvote cannot condemn a memory the way the raw ratio
	// would (raw helpful rate 0.0, smoothed stays above 0.3).
	assert.InDelta(t, 1.0/3.0, SmoothedScore(0, 1, 1, 1), 1e-9)

	// More evidence pulls toward the empirical rate.
	assert.Greater(t, SmoothedScore(9, 1, 1, 1), SmoothedScore(3, 1, 1, 1))
	assert.Less(t, SmoothedScore(0, 20, 1, 1), SmoothedScore(0, 2, 1, 1))

	// Bounded in (0, 1).
	assert.Greater(t, SmoothedScore(0, 1000, 1, 1), 0.0)
	assert.Less(t, SmoothedScore(1000, 0, 1, 1), 1.0)

	// Stronger priors resist evidence longer.
	assert.Greater(t, SmoothedScore(0, 3, 5, 5), SmoothedScore(0, 3, 1, 1))
}

func TestVote_ValidationRejectsUnknownKind(t *testing.T) {
	svc := NewService(nil, nil, config.CurationConfig{Alpha: 1, Beta: 1, MinSamples: 5})

	_, err := svc.Vote(context.Background(), "proj", uuid.New(), &VoteRequest{Vote: "meh"})
	require.ErrorIs(t, err, memory.ErrInvalidInput)

	_, err = svc.Vote(context.Background(), "proj", uuid.New(), &VoteRequest{})
	require.ErrorIs(t, err, memory.ErrInvalidInput)
}

func TestCurationAdvice(t *testing.T) {
	cfg := config.CurationConfig{Alpha: 1, Beta: 1, MinSamples: 5}
	svc := NewService(nil, nil, cfg)

	tests := []struct {
		name    string
		helpful int64
		harmful int64
		want    string
	}{
		{"under sample floor", 2, 1, AdviceInsufficient},
		{"well voted and helpful", 8, 1, AdviceKeep},
		{"well voted and harmful", 1, 9, AdviceReview},
		{"borderline stays kept", 3, 3, AdviceKeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := CurationEntry{Helpful: tt.helpful, Harmful: tt.harmful, Samples: tt.helpful + tt.harmful}
			got := adviceFor(&e, svc.cfg)
			assert.Equal(t, tt.want, got)
		})
	}
}
