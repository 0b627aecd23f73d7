// Package memory implements the storage port in process. Transactions work
// on a copy of the data that replaces the original on commit, and faults can
// be injected per operation to exercise failure paths deterministically.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/review"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
)

// Operation names accepted by FailOn.
const (
	OpReviewsGet        = "reviews.Get"
	OpReviewsUpsert     = "reviews.Upsert"
	OpActivityAppend    = "activity.Append"
	OpActivityCount     = "activity.Count"
	OpRewardsGet        = "rewards.Get"
	OpRewardsUpsert     = "rewards.UpsertProgress"
	OpRewardsMark       = "rewards.MarkAchieved"
	OpCoinsApply        = "coins.Apply"
	OpCoinsBalance      = "coins.Balance"
	OpStreaksGet        = "streaks.Get"
	OpStreaksCAS        = "streaks.CompareAndSwap"
	OpMatchesGet        = "matches.Get"
	OpMatchesTransition = "matches.Transition"
	OpMatchesSetScore   = "matches.SetScore"
	OpCommit            = "tx.Commit"
)

// ErrInjected is the default injected failure. It is transient.
var ErrInjected = shared.Transient("memory", "fault", errors.New("injected fault"))

type reviewKey struct{ user, item string }
type rewardKey struct{ user, key string }

type data struct {
	reviews  map[reviewKey]*review.State
	events   []*activity.Event
	rewards  map[rewardKey]*reward.Record
	balances map[string]int64
	journal  map[string]coin.Entry
	streaks  map[string]*streak.State
	matches  map[uuid.UUID]*match.Match
}

func newData() *data {
	return &data{
		reviews:  make(map[reviewKey]*review.State),
		rewards:  make(map[rewardKey]*reward.Record),
		balances: make(map[string]int64),
		journal:  make(map[string]coin.Entry),
		streaks:  make(map[string]*streak.State),
		matches:  make(map[uuid.UUID]*match.Match),
	}
}

func (d *data) clone() *data {
	cp := newData()
	for k, v := range d.reviews {
		s := *v
		cp.reviews[k] = &s
	}
	cp.events = append([]*activity.Event(nil), d.events...)
	for k, v := range d.rewards {
		r := *v
		cp.rewards[k] = &r
	}
	for k, v := range d.balances {
		cp.balances[k] = v
	}
	for k, v := range d.journal {
		cp.journal[k] = v
	}
	for k, v := range d.streaks {
		s := *v
		cp.streaks[k] = &s
	}
	for k, v := range d.matches {
		cp.matches[k] = v.Clone()
	}
	return cp
}

type fault struct {
	err   error
	times int // <0 means forever
}

// Store is an in-memory port.Store.
type Store struct {
	mu     sync.Mutex
	d      *data
	faults map[string]*fault
	fmu    sync.Mutex
}

var _ port.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		d:      newData(),
		faults: make(map[string]*fault),
	}
}

// FailOn makes the next times calls of op fail with err. A nil err means
// ErrInjected; times < 0 fails until ClearFaults.
func (s *Store) FailOn(op string, err error, times int) {
	if err == nil {
		err = ErrInjected
	}
	s.fmu.Lock()
	s.faults[op] = &fault{err: err, times: times}
	s.fmu.Unlock()
}

// ClearFaults removes every injected fault.
func (s *Store) ClearFaults() {
	s.fmu.Lock()
	s.faults = make(map[string]*fault)
	s.fmu.Unlock()
}

func (s *Store) fault(op string) error {
	s.fmu.Lock()
	defer s.fmu.Unlock()

	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(s.faults, op)
		}
	}
	return f.err
}

// WithinTx implements port.Store. Transactions are serialized.
func (s *Store) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return shared.Transient("memory", "WithinTx", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.d.clone()
	if err := fn(&repos{s: s, d: work, inTx: true}); err != nil {
		return err
	}
	if err := s.fault(OpCommit); err != nil {
		return err
	}
	s.d = work
	return nil
}

// Ping implements port.Store.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) root() *repos { return &repos{s: s} }

// Reviews implements port.Repositories.
func (s *Store) Reviews() review.Repository { return reviewRepo{s.root()} }

// Activity implements port.Repositories.
func (s *Store) Activity() activity.Repository { return activityRepo{s.root()} }

// Rewards implements port.Repositories.
func (s *Store) Rewards() reward.Repository { return rewardRepo{s.root()} }

// Coins implements port.Repositories.
func (s *Store) Coins() coin.Repository { return coinRepo{s.root()} }

// Streaks implements port.Repositories.
func (s *Store) Streaks() streak.Repository { return streakRepo{s.root()} }

// Matches implements port.Repositories.
func (s *Store) Matches() match.Repository { return matchRepo{s.root()} }

// EventCount is a test helper returning the number of stored events.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.events)
}

// JournalSize is a test helper returning the number of coin journal entries.
func (s *Store) JournalSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.journal)
}

// repos is a view over either the live data (locking per call) or a
// transaction's working copy (lock already held).
type repos struct {
	s    *Store
	d    *data
	inTx bool
}

func (r *repos) run(ctx context.Context, op string, fn func(d *data) error) error {
	if err := ctx.Err(); err != nil {
		return shared.Transient("memory", op, err)
	}
	if err := r.s.fault(op); err != nil {
		return err
	}
	if r.inTx {
		return fn(r.d)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return fn(r.s.d)
}

func (r *repos) Reviews() review.Repository { return reviewRepo{r} }
func (r *repos) Activity() activity.Repository { return activityRepo{r} }
func (r *repos) Rewards() reward.Repository { return rewardRepo{r} }
func (r *repos) Coins() coin.Repository { return coinRepo{r} }
func (r *repos) Streaks() streak.Repository { return streakRepo{r} }
func (r *repos) Matches() match.Repository { return matchRepo{r} }
