package explain

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/saiban/internal/llm"
	"github.com/opsloop/saiban/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExplainFallsBackWhenChatProviderIsNoop(t *testing.T) {
	svc := New(llm.NoopChatProvider{}, discardLogger())
	req := model.ExplainRequest{
		DecisionID: uuid.New(),
		Primary: model.CandidateFeatures{
			HumanID:       "h1",
			ResolvesCount: 4,
			OnCall:        true,
		},
	}
	exp, err := svc.Explain(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, exp.Bullets)
	assert.Equal(t, req.DecisionID, exp.DecisionID)
}

func TestExplainFallbackAlwaysProducesAtLeastOneBullet(t *testing.T) {
	svc := New(llm.NoopChatProvider{}, discardLogger())
	req := model.ExplainRequest{
		DecisionID: uuid.New(),
		Primary:    model.CandidateFeatures{HumanID: "h1", FitScore: 0.42, Pages7d: 3},
	}
	exp := svc.explainFallback(req)
	require.NotEmpty(t, exp.Bullets)
	assert.Equal(t, "general", exp.Bullets[len(exp.Bullets)-1].Type)
}

func TestExplainFallbackIncludesOnCallAndLowLoadBullets(t *testing.T) {
	svc := New(llm.NoopChatProvider{}, discardLogger())
	req := model.ExplainRequest{
		Primary: model.CandidateFeatures{HumanID: "h1", OnCall: true, Pages7d: 0},
	}
	exp := svc.explainFallback(req)

	var types []string
	for _, b := range exp.Bullets {
		types = append(types, b.Type)
	}
	assert.Contains(t, types, "on_call")
	assert.Contains(t, types, "low_load")
}

func TestExplainFallbackWhyNotNextBestComparesToTopBackup(t *testing.T) {
	svc := New(llm.NoopChatProvider{}, discardLogger())
	req := model.ExplainRequest{
		Primary: model.CandidateFeatures{HumanID: "h1", FitScore: 0.9, ResolvesCount: 10},
		Backups: []model.CandidateFeatures{
			{HumanID: "h2", FitScore: 0.5, ResolvesCount: 2},
		},
	}
	exp := svc.explainFallback(req)
	assert.Contains(t, exp.WhyNotNextBest, "0.90")
	assert.Contains(t, exp.WhyNotNextBest, "0.50")
}
