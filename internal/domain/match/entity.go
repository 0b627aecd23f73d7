// Package match contains the two-player challenge state machine.
//
// A match moves forward only:
//
//	open ──join──▶ active ──both scores──▶ finished
//	  │              │
//	  └──cancel──▶ cancelled ◀──expire──┘
//
// Every transition is applied by the repository as a conditional update on
// the current status, so racing callers see exactly one winner.
package match

import (
	"time"

	"github.com/google/uuid"

	"github.com/linguaquest/progression/internal/domain/shared"
)

// Status is the match lifecycle stage.
type Status string

const (
	StatusOpen      Status = "open"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusOpen:   {StatusActive, StatusCancelled},
	StatusActive: {StatusFinished, StatusCancelled},
}

// CanTransition reports whether from -> to is a forward move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Side is a player slot.
type Side string

const (
	SideCreator    Side = "creator"
	SideChallenger Side = "challenger"
)

// MaxQuestions bounds the question list of one match.
const MaxQuestions = 50

// Match is one PvP challenge.
type Match struct {
	ID              uuid.UUID
	CreatorID       string
	ChallengerID    string // empty while open
	BetAmount       int64
	Questions       []string
	CreatorScore    *int
	ChallengerScore *int
	Status          Status
	WinnerID        *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SettledAt       *time.Time
}

// New builds an open match.
func New(creatorID string, bet int64, questions []string, now time.Time) (*Match, error) {
	const op = "Create"
	if err := shared.ValidateUserID("match", op, creatorID); err != nil {
		return nil, err
	}
	if err := shared.ValidateNonNegative("match", op, "bet", bet); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, shared.Validation("match", op, "a match needs at least one question")
	}
	if len(questions) > MaxQuestions {
		return nil, shared.Validation("match", op, "too many questions")
	}

	return &Match{
		ID:        uuid.New(),
		CreatorID: creatorID,
		BetAmount: bet,
		Questions: append([]string(nil), questions...),
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SideOf returns the slot of playerID.
func (m *Match) SideOf(playerID string) (Side, bool) {
	switch {
	case playerID == "":
		return "", false
	case playerID == m.CreatorID:
		return SideCreator, true
	case playerID == m.ChallengerID:
		return SideChallenger, true
	default:
		return "", false
	}
}

// Score returns the score stored in a slot.
func (m *Match) Score(side Side) *int {
	if side == SideCreator {
		return m.CreatorScore
	}
	return m.ChallengerScore
}

// HasBothScores reports whether settlement can happen.
func (m *Match) HasBothScores() bool {
	return m.CreatorScore != nil && m.ChallengerScore != nil
}

// Winner derives the winner from both scores, nil on a tie or while a
// score is missing.
func (m *Match) Winner() *string {
	if !m.HasBothScores() {
		return nil
	}
	switch {
	case *m.CreatorScore > *m.ChallengerScore:
		w := m.CreatorID
		return &w
	case *m.ChallengerScore > *m.CreatorScore:
		w := m.ChallengerID
		return &w
	default:
		return nil
	}
}

// Clone returns a deep copy.
func (m *Match) Clone() *Match {
	cp := *m
	cp.Questions = append([]string(nil), m.Questions...)
	if m.CreatorScore != nil {
		v := *m.CreatorScore
		cp.CreatorScore = &v
	}
	if m.ChallengerScore != nil {
		v := *m.ChallengerScore
		cp.ChallengerScore = &v
	}
	if m.WinnerID != nil {
		v := *m.WinnerID
		cp.WinnerID = &v
	}
	if m.SettledAt != nil {
		v := *m.SettledAt
		cp.SettledAt = &v
	}
	return &cp
}
