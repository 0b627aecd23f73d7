// Package reward contains reward definitions, the per-user reward records
// that make grants exactly-once, and the cached reward catalog.
package reward

import (
	"fmt"
	"strings"
	"time"

	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/shared"
)

// Period is the length of a quest instance.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// IsValid reports whether p is a known period.
func (p Period) IsValid() bool {
	return p == PeriodDaily || p == PeriodWeekly
}

// Definition is a threshold achievement on one category.
type Definition struct {
	Key      string            `yaml:"key" json:"key"`
	Category activity.Category `yaml:"category" json:"category"`
	Target   int               `yaml:"target" json:"target"`
	Coins    int64             `yaml:"coins" json:"coins"`
	Title    string            `yaml:"title" json:"title"`
}

// Quest is a recurring goal scoped to one day or one ISO week.
type Quest struct {
	ID       string            `yaml:"id" json:"id"`
	Category activity.Category `yaml:"category" json:"category"`
	Period   Period            `yaml:"period" json:"period"`
	Target   int               `yaml:"target" json:"target"`
	Coins    int64             `yaml:"coins" json:"coins"`
	Title    string            `yaml:"title" json:"title"`
}

// Definition turns a quest instance into a definition keyed for periodStart.
func (q Quest) Definition(periodStart time.Time) Definition {
	return Definition{
		Key:      QuestKey(q.ID, periodStart),
		Category: q.Category,
		Target:   q.Target,
		Coins:    q.Coins,
		Title:    q.Title,
	}
}

// QuestKey identifies one quest instance. A new period gives a new key, so
// every period is independently idempotent.
func QuestKey(questID string, periodStart time.Time) string {
	return "quest:" + questID + ":" + periodStart.Format("2006-01-02")
}

// MilestoneKey is the reward key of a streak milestone.
func MilestoneKey(days int) string {
	return fmt.Sprintf("streak:%d", days)
}

// IsQuestKey reports whether key names a quest instance.
func IsQuestKey(key string) bool {
	return strings.HasPrefix(key, "quest:")
}

// Record is the per-user state of one reward key. AchievedAt moves from nil
// to a timestamp at most once and progress is frozen afterwards.
type Record struct {
	UserID     string
	Key        string
	Category   activity.Category
	Progress   int
	Target     int
	AchievedAt *time.Time
	UpdatedAt  time.Time
}

// IsAchieved reports whether the reward has been granted.
func (r *Record) IsAchieved() bool {
	return r != nil && r.AchievedAt != nil
}

// Award describes one grant made by an evaluation.
type Award struct {
	Key        string
	Category   activity.Category
	Target     int
	Coins      int64
	Title      string
	AchievedAt time.Time
}

// ValidateCategory checks that rewards can exist on c.
func ValidateCategory(op string, c activity.Category) error {
	if !c.IsRewardCategory() {
		return shared.Validation("reward", op, "unknown reward category "+string(c))
	}
	return nil
}
