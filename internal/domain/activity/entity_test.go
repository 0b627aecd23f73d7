package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaquest/progression/internal/domain/shared"
)

func TestNewEvent_RequiredMetadata(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		category Category
		md       Metadata
		wantErr  bool
	}{
		{"review ok", CategoryReview, Metadata{KeyItemID: "w1"}, false},
		{"review missing item", CategoryReview, nil, true},
		{"exercise ok", ExerciseCategory(SkillGrammar), Metadata{KeyExerciseType: "cloze"}, false},
		{"exercise missing type", ExerciseCategory(SkillReading), Metadata{KeyItemID: "x"}, true},
		{"quest needs both keys", CategoryQuestsCompleted, Metadata{KeyQuestID: "q1"}, true},
		{"quest ok", CategoryQuestsCompleted, Metadata{KeyQuestID: "q1", KeyPeriodStart: "2024-01-01"}, false},
		{"pvp ok", CategoryPvPWins, Metadata{KeyMatchID: "m1"}, false},
		{"daily activity needs nothing", CategoryDailyActivity, nil, false},
		{"streak milestone is not an event", CategoryStreakMilestone, nil, true},
		{"unknown skill", Category("exercise.dancing"), Metadata{KeyExerciseType: "x"}, true},
		{"unknown category", Category("likes"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewEvent("u1", tt.category, true, now, tt.md)
			if tt.wantErr {
				assert.True(t, shared.IsValidation(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.category, ev.Category)
			assert.NotEqual(t, ev.ID.String(), "00000000-0000-0000-0000-000000000000")
		})
	}
}

func TestNewEvent_CopiesMetadata(t *testing.T) {
	md := Metadata{KeyItemID: "w1"}
	ev, err := NewEvent("u1", CategoryReview, true, time.Now(), md)
	require.NoError(t, err)

	md[KeyItemID] = "changed"
	assert.Equal(t, "w1", ev.Metadata[KeyItemID])
}

func TestCategoryKinds(t *testing.T) {
	assert.True(t, CategoryStreakMilestone.IsRewardCategory())
	assert.False(t, CategoryStreakMilestone.IsEventCategory())
	assert.True(t, ExerciseCategory(SkillSpeaking).IsExercise())
	assert.False(t, CategoryDailyActivity.CountsSuccessOnly())
	assert.True(t, CategoryWordsMastered.CountsSuccessOnly())
	assert.Len(t, AllCategories(), 11)
}
