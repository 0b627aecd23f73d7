package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MATCH REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// MatchRepository implements match.Repository for PostgreSQL.
type MatchRepository struct {
	q Querier
}

const matchColumns = `id, creator_id, challenger_id, bet_amount, questions, creator_score,
	challenger_score, status, winner_id, created_at, updated_at, settled_at`

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create implements match.Repository.
func (r *MatchRepository) Create(ctx context.Context, m *match.Match) error {
	query := `
		INSERT INTO matches (id, creator_id, bet_amount, questions, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, query,
		m.ID,
		m.CreatorID,
		m.BetAmount,
		m.Questions,
		string(m.Status),
		m.CreatedAt,
		m.UpdatedAt,
	)
	if IsUniqueViolation(err) {
		return shared.Conflict("match", "Create", "match already exists")
	}
	return mapError("match", "Create", err)
}

// Get implements match.Repository.
func (r *MatchRepository) Get(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	m, err := scanMatch(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("match", "Get", err)
	}
	return m, nil
}

// ListStale implements match.Repository.
func (r *MatchRepository) ListStale(ctx context.Context, status match.Status, before time.Time, limit int) ([]*match.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, string(status), before, limit)
	if err != nil {
		return nil, mapError("match", "ListStale", err)
	}
	defer rows.Close()

	var out []*match.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, mapError("match", "ListStale", err)
		}
		out = append(out, m)
	}
	return out, mapError("match", "ListStale", rows.Err())
}

// ─────────────────────────────────────────────────────────────────────────────
// Guarded Writes
// ─────────────────────────────────────────────────────────────────────────────

// Transition implements match.Repository.
func (r *MatchRepository) Transition(ctx context.Context, id uuid.UUID, from, to match.Status, patch match.Patch) (bool, error) {
	if !match.CanTransition(from, to) {
		return false, shared.Validation("match", "Transition", "invalid transition "+string(from)+" -> "+string(to))
	}

	query := `
		UPDATE matches SET
			status = $3,
			challenger_id = COALESCE($4, challenger_id),
			winner_id = COALESCE($5, winner_id),
			settled_at = COALESCE($6, settled_at),
			updated_at = $7
		WHERE id = $1
			AND status = $2
			AND (NOT $8 OR (creator_score IS NOT NULL AND challenger_score IS NOT NULL))
	`

	var challenger *string
	if patch.ChallengerID != "" {
		challenger = &patch.ChallengerID
	}

	tag, err := r.q.Exec(ctx, query,
		id,
		string(from),
		string(to),
		challenger,
		patch.WinnerID,
		patch.SettledAt,
		patch.At,
		patch.RequireScores,
	)
	if err != nil {
		return false, mapError("match", "Transition", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id, "Transition")
}

// SetScore implements match.Repository.
func (r *MatchRepository) SetScore(ctx context.Context, id uuid.UUID, side match.Side, score int, at time.Time) (bool, error) {
	var column string
	switch side {
	case match.SideCreator:
		column = "creator_score"
	case match.SideChallenger:
		column = "challenger_score"
	default:
		return false, shared.Validation("match", "SetScore", "unknown side")
	}

	query := `
		UPDATE matches SET ` + column + ` = $2, updated_at = $3
		WHERE id = $1 AND status = 'active' AND ` + column + ` IS NULL
	`

	tag, err := r.q.Exec(ctx, query, id, score, at)
	if err != nil {
		return false, mapError("match", "SetScore", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id, "SetScore")
}

// mustExist tells a lost guard apart from a missing match.
func (r *MatchRepository) mustExist(ctx context.Context, id uuid.UUID, op string) error {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapError("match", op, err)
	}
	if !exists {
		return shared.NotFound("match", op, "match not found")
	}
	return nil
}

func scanMatch(row pgx.Row) (*match.Match, error) {
	var (
		m          match.Match
		challenger *string
		status     string
	)
	err := row.Scan(
		&m.ID,
		&m.CreatorID,
		&challenger,
		&m.BetAmount,
		&m.Questions,
		&m.CreatorScore,
		&m.ChallengerScore,
		&status,
		&m.WinnerID,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	if challenger != nil {
		m.ChallengerID = *challenger
	}
	m.Status = match.Status(status)
	return &m, nil
}
