package correction

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/arbiter/internal/config"
	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/memstore"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

var testNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memstore.Store
	settler *settlement.Engine
	engine  *Engine
	policy  config.Policy
	a, b    uuid.UUID
}

func newFixture(t *testing.T, playedA, playedB int) *fixture {
	t.Helper()
	policy := config.DefaultPolicy()
	s := memstore.New()
	f := &fixture{store: s, policy: policy, a: uuid.New(), b: uuid.New()}
	s.AddCompetitor(ladder.Competitor{ID: f.a, Rating: policy.DefaultRating, MatchesPlayed: playedA, Status: ladder.StatusActive})
	s.AddCompetitor(ladder.Competitor{ID: f.b, Rating: policy.DefaultRating, MatchesPlayed: playedB, Status: ladder.StatusActive})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	f.settler = settlement.New(s, policy, nil, logger)
	f.settler.SetClock(clock)
	f.engine = New(s, policy.Floor, nil, logger)
	f.engine.SetClock(clock)
	return f
}

func (f *fixture) settled(t *testing.T, winner uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.store.AddMatch(ladder.Match{ID: id, ClanA: f.a, ClanB: f.b, State: ladder.MatchConfirmed})
	_, err := f.settler.Settle(context.Background(), id, &winner)
	require.NoError(t, err)
	return id
}

func (f *fixture) clan(t *testing.T, id uuid.UUID) ladder.Competitor {
	t.Helper()
	c, ok := f.store.Competitor(id)
	require.True(t, ok)
	return c
}

func (f *fixture) ledgerOf(id uuid.UUID) []ladder.LedgerEntry {
	var out []ladder.LedgerEntry
	for _, e := range f.store.Ledger() {
		if e.ClanID == id {
			out = append(out, e)
		}
	}
	return out
}

func requireKind(t *testing.T, err error, kind ladder.Kind, code ladder.Code) {
	t.Helper()
	require.Error(t, err)
	got, ok := ladder.KindOf(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	assert.Equal(t, kind, got)
	assert.Equal(t, code, ladder.CodeOf(err))
}

func TestRollback_RestoresRatings(t *testing.T) {
	f := newFixture(t, 3, 12)
	id := f.settled(t, f.a)
	require.Equal(t, 1020, f.clan(t, f.a).Rating)

	res, err := f.engine.Rollback(context.Background(), id, "mod-1")
	require.NoError(t, err)
	assert.Equal(t, ladder.CodeRolledBack, res.Reason)
	require.Len(t, res.Reversals, 2)
	assert.Equal(t, 20, res.Reversals[0].OriginalDelta)
	assert.Equal(t, -20, res.Reversals[0].AppliedDelta)
	assert.Equal(t, 16, res.Reversals[1].AppliedDelta)
	assert.Zero(t, res.Reversals[0].Discrepancy)

	a, b := f.clan(t, f.a), f.clan(t, f.b)
	assert.Equal(t, 1000, a.Rating)
	assert.Equal(t, 1000, b.Rating)
	assert.Equal(t, 3, a.MatchesPlayed)
	assert.Equal(t, 12, b.MatchesPlayed)

	m, _ := f.store.Match(id)
	assert.False(t, m.Settled)
	assert.Nil(t, m.WinnerID)
	assert.Nil(t, m.FinalDeltaA)
	assert.Nil(t, m.SettledAt)

	ledger := f.store.Ledger()
	require.Len(t, ledger, 4)
	for _, e := range ledger[2:] {
		assert.Equal(t, ladder.ReasonRollback, e.Reason)
		assert.Equal(t, "mod-1", e.ActorID)
		require.NotNil(t, e.MatchID)
		assert.Equal(t, id, *e.MatchID)
	}
	assert.Equal(t, -ledger[0].Delta, ledger[2].Delta)
	assert.Equal(t, -ledger[1].Delta, ledger[3].Delta)
}

func TestRollback_ThenResettle(t *testing.T) {
	f := newFixture(t, 3, 12)
	ctx := context.Background()
	id := f.settled(t, f.a)

	_, err := f.engine.Rollback(ctx, id, "mod-1")
	require.NoError(t, err)

	// Resettled with the other winner; the rolled back match no longer
	// counts towards the pair's anti-farm history.
	res, err := f.settler.Settle(ctx, id, &f.b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Multiplier)
	assert.Equal(t, 1016, f.clan(t, f.b).Rating)

	again, err := f.engine.Rollback(ctx, id, "mod-2")
	require.NoError(t, err)
	require.Len(t, again.Reversals, 2)
	assert.Equal(t, 1000, f.clan(t, f.a).Rating)
	assert.Equal(t, 1000, f.clan(t, f.b).Rating)
	assert.Len(t, f.store.Ledger(), 8)
}

func TestRollback_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown match", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		_, err := f.engine.Rollback(ctx, uuid.New(), "mod")
		requireKind(t, err, ladder.KindNotFound, ladder.CodeMatchNotFound)
	})

	t.Run("never settled", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		id := uuid.New()
		f.store.AddMatch(ladder.Match{ID: id, ClanA: f.a, ClanB: f.b, State: ladder.MatchConfirmed})
		_, err := f.engine.Rollback(ctx, id, "mod")
		requireKind(t, err, ladder.KindInvalidState, ladder.CodeNotSettled)
	})

	t.Run("rolled back twice", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		id := f.settled(t, f.a)
		_, err := f.engine.Rollback(ctx, id, "mod")
		require.NoError(t, err)
		_, err = f.engine.Rollback(ctx, id, "mod")
		requireKind(t, err, ladder.KindInvalidState, ladder.CodeNotSettled)
		assert.Len(t, f.store.Ledger(), 4)
	})

	t.Run("legacy match without ledger", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		id := uuid.New()
		at := testNow.Add(-time.Hour)
		f.store.AddMatch(ladder.Match{ID: id, ClanA: f.a, ClanB: f.b, State: ladder.MatchConfirmed, Settled: true, WinnerID: &f.a, SettledAt: &at})

		_, err := f.engine.Rollback(ctx, id, "mod")
		requireKind(t, err, ladder.KindUnrecoverable, ladder.CodeNoLedgerTrail)
		m, _ := f.store.Match(id)
		assert.True(t, m.Settled)
	})
}

func TestRollback_FloorDiscrepancyIsRecorded(t *testing.T) {
	f := newFixture(t, 12, 12)
	ctx := context.Background()
	id := f.settled(t, f.a)
	require.Equal(t, 1016, f.clan(t, f.a).Rating)

	_, err := f.engine.ResetRating(ctx, f.a, "mod", 110)
	require.NoError(t, err)

	res, err := f.engine.Rollback(ctx, id, "mod")
	require.NoError(t, err)
	rev := res.Reversals[0]
	assert.Equal(t, f.a, rev.ClanID)
	assert.Equal(t, -16, rev.RequestedDelta)
	assert.Equal(t, -10, rev.AppliedDelta)
	assert.Equal(t, 6, rev.Discrepancy)
	assert.Equal(t, f.policy.Floor, f.clan(t, f.a).Rating)

	entries := f.ledgerOf(f.a)
	last := entries[len(entries)-1]
	assert.Equal(t, -10, last.Delta)
	assert.Equal(t, -16, last.RequestedDelta)

	audit := ladder.AuditLedger(f.clan(t, f.a), f.policy.DefaultRating, f.policy.Floor, entries)
	assert.True(t, audit.Consistent, "audit %+v", audit)
}

func TestRollback_IneligibleSettlementKeepsCounters(t *testing.T) {
	f := newFixture(t, 5, 5)
	ctx := context.Background()
	f.store.SetStatus(f.b, ladder.StatusFrozen)

	id := uuid.New()
	f.store.AddMatch(ladder.Match{ID: id, ClanA: f.a, ClanB: f.b, State: ladder.MatchConfirmed})
	_, err := f.settler.Settle(ctx, id, &f.a)
	requireKind(t, err, ladder.KindIneligibleParticipant, ladder.CodeParticipantFrozen)

	res, err := f.engine.Rollback(ctx, id, "mod")
	require.NoError(t, err)
	assert.Len(t, res.Reversals, 2)
	assert.Equal(t, 5, f.clan(t, f.a).MatchesPlayed)
	assert.Equal(t, 1000, f.clan(t, f.a).Rating)

	m, _ := f.store.Match(id)
	assert.False(t, m.Settled)
}

func TestResetRating(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	res, err := f.engine.ResetRating(ctx, f.a, "admin", 50)
	require.NoError(t, err)
	assert.Equal(t, ladder.CodeReset, res.Reason)
	assert.Equal(t, 1000, res.OldRating)
	assert.Equal(t, 50, res.NewRating)
	assert.Equal(t, -950, res.Delta)

	a := f.clan(t, f.a)
	assert.Equal(t, 50, a.Rating, "reset is not floor-clamped")
	assert.Equal(t, 7, a.MatchesPlayed)

	ledger := f.store.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, ladder.ReasonManualReset, ledger[0].Reason)
	assert.Nil(t, ledger[0].MatchID)
	assert.Equal(t, "admin", ledger[0].ActorID)

	_, err = f.engine.ResetRating(ctx, uuid.New(), "admin", 1000)
	requireKind(t, err, ladder.KindNotFound, ladder.CodeClanNotFound)
}

func TestVoid(t *testing.T) {
	ctx := context.Background()

	t.Run("settled match", func(t *testing.T) {
		f := newFixture(t, 3, 12)
		id := f.settled(t, f.a)

		res, err := f.engine.Void(ctx, id, "mod")
		require.NoError(t, err)
		assert.Equal(t, ladder.CodeVoided, res.Reason)
		assert.Equal(t, ladder.MatchVoid, res.State)
		assert.Len(t, res.Reversals, 2)
		assert.Equal(t, 1000, f.clan(t, f.a).Rating)

		m, _ := f.store.Match(id)
		assert.Equal(t, ladder.MatchVoid, m.State)
		assert.False(t, m.Settled)

		_, err = f.settler.Settle(ctx, id, &f.a)
		requireKind(t, err, ladder.KindInvalidState, ladder.CodeInvalidState)

		_, err = f.engine.Void(ctx, id, "mod")
		requireKind(t, err, ladder.KindInvalidState, ladder.CodeInvalidState)
	})

	t.Run("unsettled match", func(t *testing.T) {
		f := newFixture(t, 0, 0)
		id := uuid.New()
		f.store.AddMatch(ladder.Match{ID: id, ClanA: f.a, ClanB: f.b, State: ladder.MatchPending})

		res, err := f.engine.Void(ctx, id, "mod")
		require.NoError(t, err)
		assert.Empty(t, res.Reversals)
		assert.Empty(t, f.store.Ledger())
		m, _ := f.store.Match(id)
		assert.Equal(t, ladder.MatchVoid, m.State)
	})
}
