package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
)

// Store is an in-process rating store. Transactions are fully serialised
// behind one mutex and work on a private copy of the state that replaces the
// shared state only on commit.
type Store struct {
	mu    sync.Mutex
	state state

	// FailWrite, when set, is consulted before every write inside a
	// transaction; a non-nil return aborts the transaction.
	FailWrite func(op string) error
}

type state struct {
	clans   map[uuid.UUID]ladder.Competitor
	matches map[uuid.UUID]ladder.Match
	tiers   map[uuid.UUID]ladder.RosterTiers
	ledger  []ladder.LedgerEntry
	seq     int64
}

func New() *Store {
	return &Store{state: state{
		clans:   make(map[uuid.UUID]ladder.Competitor),
		matches: make(map[uuid.UUID]ladder.Match),
		tiers:   make(map[uuid.UUID]ladder.RosterTiers),
	}}
}

func (s state) clone() state {
	c := state{
		clans:   make(map[uuid.UUID]ladder.Competitor, len(s.clans)),
		matches: make(map[uuid.UUID]ladder.Match, len(s.matches)),
		tiers:   s.tiers,
		ledger:  s.ledger[:len(s.ledger):len(s.ledger)],
		seq:     s.seq,
	}
	for k, v := range s.clans {
		c.clans[k] = v
	}
	for k, v := range s.matches {
		c.matches[k] = v
	}
	return c
}

// WithTx runs fn against a copy of the state and publishes the copy if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx ladder.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone(), fail: s.FailWrite}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// AddCompetitor seeds a clan.
func (s *Store) AddCompetitor(c ladder.Competitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.clans[c.ID] = c
}

// AddMatch seeds a match.
func (s *Store) AddMatch(m ladder.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.matches[m.ID] = m
}

// SetRosterTiers records roster-average tiers for a match.
func (s *Store) SetRosterTiers(matchID uuid.UUID, tiers ladder.RosterTiers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tiers[matchID] = tiers
}

// SetStatus changes a clan's lifecycle status.
func (s *Store) SetStatus(clanID uuid.UUID, status ladder.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.state.clans[clanID]
	c.Status = status
	s.state.clans[clanID] = c
}

// Competitor returns the committed clan row.
func (s *Store) Competitor(id uuid.UUID) (ladder.Competitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.clans[id]
	return c, ok
}

// Match returns the committed match row.
func (s *Store) Match(id uuid.UUID) (ladder.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.matches[id]
	return m, ok
}

// Ledger returns every committed ledger entry, oldest first.
func (s *Store) Ledger() []ladder.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ladder.LedgerEntry(nil), s.state.ledger...)
}

type memTx struct {
	st   state
	fail func(op string) error
}

func (t *memTx) check(op string) error {
	if t.fail == nil {
		return nil
	}
	return t.fail(op)
}

func (t *memTx) GetMatch(_ context.Context, id uuid.UUID) (*ladder.Match, error) {
	m, ok := t.st.matches[id]
	if !ok {
		return nil, ladder.ErrNotFound
	}
	return &m, nil
}

func (t *memTx) GetCompetitor(_ context.Context, id uuid.UUID) (*ladder.Competitor, error) {
	c, ok := t.st.clans[id]
	if !ok {
		return nil, ladder.ErrNotFound
	}
	return &c, nil
}

// rated reports whether the match counts towards history: settled with a winner.
func rated(m ladder.Match) bool {
	return m.Settled && m.WinnerID != nil && m.SettledAt != nil
}

func (t *memTx) CountPairSettlements(_ context.Context, a, b uuid.UUID, since time.Time) (int, error) {
	n := 0
	for _, m := range t.st.matches {
		if !rated(m) || m.SettledAt.Before(since) {
			continue
		}
		if (m.ClanA == a && m.ClanB == b) || (m.ClanA == b && m.ClanB == a) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) WinStats(_ context.Context, clanID uuid.UUID, lookback int) (ladder.WinStats, error) {
	var played []ladder.Match
	for _, m := range t.st.matches {
		if rated(m) && m.Involves(clanID) {
			played = append(played, m)
		}
	}
	sort.Slice(played, func(i, j int) bool {
		return played[i].SettledAt.After(*played[j].SettledAt)
	})
	if lookback > 0 && len(played) > lookback {
		played = played[:lookback]
	}
	stats := ladder.WinStats{Matches: len(played)}
	for _, m := range played {
		if *m.WinnerID == clanID {
			stats.Wins++
		}
	}
	return stats, nil
}

func (t *memTx) RosterTiers(_ context.Context, matchID uuid.UUID) (ladder.RosterTiers, bool, error) {
	tiers, ok := t.st.tiers[matchID]
	return tiers, ok, nil
}

func (t *memTx) MatchLedger(_ context.Context, matchID uuid.UUID) ([]ladder.LedgerEntry, error) {
	var out []ladder.LedgerEntry
	for _, e := range t.st.ledger {
		if e.MatchID != nil && *e.MatchID == matchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) CompetitorLedger(_ context.Context, clanID uuid.UUID) ([]ladder.LedgerEntry, error) {
	var out []ladder.LedgerEntry
	for _, e := range t.st.ledger {
		if e.ClanID == clanID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) UpdateCompetitor(_ context.Context, clanID uuid.UUID, rating, playedDelta int) error {
	if err := t.check("update_competitor"); err != nil {
		return err
	}
	c, ok := t.st.clans[clanID]
	if !ok {
		return fmt.Errorf("update clan %s: %w", clanID, ladder.ErrNotFound)
	}
	c.Rating = rating
	c.MatchesPlayed += playedDelta
	if c.MatchesPlayed < 0 {
		c.MatchesPlayed = 0
	}
	t.st.clans[clanID] = c
	return nil
}

func (t *memTx) AppendLedger(_ context.Context, e *ladder.LedgerEntry) error {
	if err := t.check("append_ledger"); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	t.st.seq++
	e.Seq = t.st.seq
	t.st.ledger = append(t.st.ledger, *e)
	return nil
}

func (t *memTx) UpdateMatchSettlement(_ context.Context, matchID uuid.UUID, s ladder.MatchSettlement) error {
	if err := t.check("update_match"); err != nil {
		return err
	}
	m, ok := t.st.matches[matchID]
	if !ok {
		return fmt.Errorf("update match %s: %w", matchID, ladder.ErrNotFound)
	}
	m.Settled = s.Settled
	m.WinnerID = s.WinnerID
	m.BaseDeltaA, m.BaseDeltaB = s.BaseDeltaA, s.BaseDeltaB
	m.FinalDeltaA, m.FinalDeltaB = s.FinalDeltaA, s.FinalDeltaB
	m.Multiplier = s.Multiplier
	m.SettledAt = s.SettledAt
	t.st.matches[matchID] = m
	return nil
}

func (t *memTx) SetMatchState(_ context.Context, matchID uuid.UUID, state ladder.MatchState) error {
	if err := t.check("set_match_state"); err != nil {
		return err
	}
	m, ok := t.st.matches[matchID]
	if !ok {
		return fmt.Errorf("update match %s: %w", matchID, ladder.ErrNotFound)
	}
	m.State = state
	t.st.matches[matchID] = m
	return nil
}
