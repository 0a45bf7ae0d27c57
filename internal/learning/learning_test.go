package learning

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ticketd/internal/strategy"
)

func testRecord() strategy.LearningRecord {
	return strategy.LearningRecord{
		Stage:             strategy.KindCode,
		SelectedStrategy:  "gemini-default",
		SelectedToolID:    strategy.ToolGeminiCLI,
		TriggerErrorKinds: []strategy.ErrorKind{strategy.ErrKindTimeout},
		StrategyPath:      []strategy.ID{"claude-default", "gemini-default"},
		AttemptCount:      2,
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("record assigns id and persists", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "learning.json")
		reg, err := NewRegistry(path)
		require.NoError(t, err)

		rec, err := reg.RecordLearning(ctx, RecordInput{TicketID: "ticket-42", Record: testRecord()})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, "ticket-42", rec.TicketID)
		assert.False(t, rec.CreatedAt.IsZero())

		// Reopen and confirm the record survived.
		reopened, err := NewRegistry(path)
		require.NoError(t, err)
		assert.Equal(t, 1, reopened.Len())
		byStage := reopened.ByStage(strategy.KindCode)
		require.Len(t, byStage, 1)
		assert.Equal(t, rec.ID, byStage[0].ID)
		assert.Equal(t, rec.StrategyPath, byStage[0].StrategyPath)
	})

	t.Run("by stage filters", func(t *testing.T) {
		reg, err := NewRegistry(filepath.Join(t.TempDir(), "learning.json"))
		require.NoError(t, err)

		_, err = reg.RecordLearning(ctx, RecordInput{TicketID: "t1", Record: testRecord()})
		require.NoError(t, err)
		planRec := testRecord()
		planRec.Stage = strategy.KindPlan
		_, err = reg.RecordLearning(ctx, RecordInput{TicketID: "t2", Record: planRec})
		require.NoError(t, err)

		assert.Len(t, reg.ByStage(strategy.KindCode), 1)
		assert.Len(t, reg.ByStage(strategy.KindPlan), 1)
		assert.Empty(t, reg.ByStage(strategy.KindReview))
	})

	t.Run("corrupted file rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "learning.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, err := NewRegistry(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRegistryCorrupted)
	})

	t.Run("missing file starts empty", func(t *testing.T) {
		reg, err := NewRegistry(filepath.Join(t.TempDir(), "nope", "learning.json"))
		require.NoError(t, err)
		assert.Equal(t, 0, reg.Len())
	})
}
