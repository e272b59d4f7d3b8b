package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
)

func TestWithTx_CommitsAndRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	clan := ladder.Competitor{ID: uuid.New(), Rating: 1000, Status: ladder.StatusActive}
	s.AddCompetitor(clan)

	err := s.WithTx(ctx, func(tx ladder.Tx) error {
		if err := tx.UpdateCompetitor(ctx, clan.ID, 1020, 1); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, &ladder.LedgerEntry{ClanID: clan.ID, RatingBefore: 1000, RatingAfter: 1020, Delta: 20, Reason: ladder.ReasonWin})
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	err = s.WithTx(ctx, func(tx ladder.Tx) error {
		if err := tx.UpdateCompetitor(ctx, clan.ID, 5, 1); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, &ladder.LedgerEntry{ClanID: clan.ID, Reason: ladder.ReasonLoss}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return the error")
	}

	got, _ := s.Competitor(clan.ID)
	if got.Rating != 1020 || got.MatchesPlayed != 1 {
		t.Errorf("rollback leaked writes: %+v", got)
	}
	if n := len(s.Ledger()); n != 1 {
		t.Errorf("expected 1 ledger entry, got %d", n)
	}
	if s.Ledger()[0].Seq != 1 {
		t.Errorf("expected seq 1, got %d", s.Ledger()[0].Seq)
	}
}

func TestWithTx_FailWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	clan := ladder.Competitor{ID: uuid.New(), Rating: 1000}
	s.AddCompetitor(clan)
	s.FailWrite = func(op string) error {
		if op == "append_ledger" {
			return errors.New("disk full")
		}
		return nil
	}

	err := s.WithTx(ctx, func(tx ladder.Tx) error {
		if err := tx.UpdateCompetitor(ctx, clan.ID, 1100, 1); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, &ladder.LedgerEntry{ClanID: clan.ID})
	})
	if err == nil {
		t.Fatal("expected injected failure")
	}
	if got, _ := s.Competitor(clan.ID); got.Rating != 1000 {
		t.Errorf("expected rating untouched, got %d", got.Rating)
	}
}

func TestGetMissingRows(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.WithTx(ctx, func(tx ladder.Tx) error {
		if _, err := tx.GetMatch(ctx, uuid.New()); !errors.Is(err, ladder.ErrNotFound) {
			t.Errorf("expected ErrNotFound for match, got %v", err)
		}
		if _, err := tx.GetCompetitor(ctx, uuid.New()); !errors.Is(err, ladder.ErrNotFound) {
			t.Errorf("expected ErrNotFound for clan, got %v", err)
		}
		return nil
	})
}

func settledMatch(a, b, winner uuid.UUID, at time.Time) ladder.Match {
	w := winner
	return ladder.Match{
		ID: uuid.New(), ClanA: a, ClanB: b, State: ladder.MatchConfirmed,
		Settled: true, WinnerID: &w, SettledAt: &at,
	}
}

func TestCountPairSettlements_Unordered(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.AddMatch(settledMatch(a, b, a, now.Add(-time.Hour)))
	s.AddMatch(settledMatch(b, a, b, now.Add(-2*time.Hour)))
	s.AddMatch(settledMatch(a, b, a, now.Add(-30*time.Hour))) // outside window
	s.AddMatch(settledMatch(a, c, a, now.Add(-time.Hour)))    // other pair
	s.AddMatch(ladder.Match{ID: uuid.New(), ClanA: a, ClanB: b, State: ladder.MatchConfirmed})

	_ = s.WithTx(ctx, func(tx ladder.Tx) error {
		n, err := tx.CountPairSettlements(ctx, a, b, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 matches in window, got %d", n)
		}
		n, _ = tx.CountPairSettlements(ctx, b, a, now.Add(-24*time.Hour))
		if n != 2 {
			t.Errorf("expected pair order not to matter, got %d", n)
		}
		return nil
	})
}

func TestWinStats_Lookback(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Oldest two are losses, newest three are wins.
	s.AddMatch(settledMatch(a, b, b, base))
	s.AddMatch(settledMatch(a, b, b, base.Add(time.Hour)))
	s.AddMatch(settledMatch(b, a, a, base.Add(2*time.Hour)))
	s.AddMatch(settledMatch(a, b, a, base.Add(3*time.Hour)))
	s.AddMatch(settledMatch(a, b, a, base.Add(4*time.Hour)))

	_ = s.WithTx(ctx, func(tx ladder.Tx) error {
		all, _ := tx.WinStats(ctx, a, 0)
		if all.Wins != 3 || all.Matches != 5 {
			t.Errorf("unexpected full stats %+v", all)
		}
		recent, _ := tx.WinStats(ctx, a, 3)
		if recent.Wins != 3 || recent.Matches != 3 {
			t.Errorf("unexpected recent stats %+v", recent)
		}
		return nil
	})
}
