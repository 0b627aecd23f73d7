// Package activity contains the append-only learner activity log. Every
// derived counter (words mastered, exercises per skill, quest completions,
// PvP wins) is computed from these events and nothing else.
package activity

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linguaquest/progression/internal/domain/shared"
)

// Category names a counter. Event categories are appended to the log;
// streak_milestone is a reward category only.
type Category string

const (
	CategoryReview          Category = "review"
	CategoryWordsMastered   Category = "words_mastered"
	CategoryQuestsCompleted Category = "quests_completed"
	CategoryPvPWins         Category = "pvp_wins"
	CategoryDailyActivity   Category = "daily_activity"
	CategoryStreakMilestone Category = "streak_milestone"

	exercisePrefix = "exercise."
)

// Skill is an exercise skill.
type Skill string

const (
	SkillListening Skill = "listening"
	SkillSpeaking  Skill = "speaking"
	SkillReading   Skill = "reading"
	SkillWriting   Skill = "writing"
	SkillGrammar   Skill = "grammar"
)

// Skills lists every known skill.
var Skills = []Skill{SkillListening, SkillSpeaking, SkillReading, SkillWriting, SkillGrammar}

// IsValid reports whether s is a known skill.
func (s Skill) IsValid() bool {
	for _, known := range Skills {
		if s == known {
			return true
		}
	}
	return false
}

// ExerciseCategory returns the counter category of a skill.
func ExerciseCategory(s Skill) Category {
	return Category(exercisePrefix + string(s))
}

// Metadata keys.
const (
	KeyItemID       = "item_id"
	KeyExerciseType = "exercise_type"
	KeyQuestID      = "quest_id"
	KeyPeriodStart  = "period_start"
	KeyMatchID      = "match_id"
)

var requiredKeys = map[Category][]string{
	CategoryReview:          {KeyItemID},
	CategoryWordsMastered:   {KeyItemID},
	CategoryQuestsCompleted: {KeyQuestID, KeyPeriodStart},
	CategoryPvPWins:         {KeyMatchID},
	CategoryDailyActivity:   nil,
}

// RequiredKeys returns the metadata keys an event of category c must carry.
func RequiredKeys(c Category) ([]string, bool) {
	if c.IsExercise() {
		return []string{KeyExerciseType}, true
	}
	keys, ok := requiredKeys[c]
	return keys, ok
}

// IsExercise reports whether c is one of the exercise.<skill> categories.
func (c Category) IsExercise() bool {
	s, ok := strings.CutPrefix(string(c), exercisePrefix)
	return ok && Skill(s).IsValid()
}

// IsEventCategory reports whether events of c may be appended.
func (c Category) IsEventCategory() bool {
	_, ok := RequiredKeys(c)
	return ok
}

// IsRewardCategory reports whether rewards may be defined on c.
func (c Category) IsRewardCategory() bool {
	return c == CategoryStreakMilestone || c.IsEventCategory()
}

// CountsSuccessOnly reports whether only successful events feed the
// counter. Daily activity counts every event.
func (c Category) CountsSuccessOnly() bool {
	return c != CategoryDailyActivity
}

// AllCategories returns every reward category in a stable order.
func AllCategories() []Category {
	out := []Category{
		CategoryReview, CategoryWordsMastered, CategoryQuestsCompleted,
		CategoryPvPWins, CategoryDailyActivity, CategoryStreakMilestone,
	}
	for _, s := range Skills {
		out = append(out, ExerciseCategory(s))
	}
	return out
}

// Metadata is the string-keyed payload of an event.
type Metadata map[string]string

// Clone returns a copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Event is one immutable entry in the activity log.
type Event struct {
	ID         uuid.UUID
	UserID     string
	Category   Category
	Success    bool
	OccurredAt time.Time
	Metadata   Metadata
}

// NewEvent validates and builds an event.
func NewEvent(userID string, category Category, success bool, at time.Time, md Metadata) (*Event, error) {
	const op = "NewEvent"
	if err := shared.ValidateUserID("activity", op, userID); err != nil {
		return nil, err
	}

	keys, ok := RequiredKeys(category)
	if !ok {
		return nil, shared.Validation("activity", op, "unknown event category "+string(category))
	}

	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(md[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, shared.Validation("activity", op,
			"category "+string(category)+" requires metadata: "+strings.Join(missing, ", "))
	}

	return &Event{
		ID:         uuid.New(),
		UserID:     userID,
		Category:   category,
		Success:    success,
		OccurredAt: at,
		Metadata:   md.Clone(),
	}, nil
}
