package correction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/metrics"
)

// Reversal is the undoing of one clan's settlement entry.
type Reversal struct {
	ClanID         uuid.UUID `json:"clan_id"`
	OriginalDelta  int       `json:"original_delta"`
	RequestedDelta int       `json:"requested_delta"`
	AppliedDelta   int       `json:"applied_delta"`
	OldRating      int       `json:"old_rating"`
	NewRating      int       `json:"new_rating"`
	// Discrepancy is the part of the reversal absorbed by the rating floor.
	Discrepancy int `json:"discrepancy"`
}

// RollbackResult describes a rollback or void.
type RollbackResult struct {
	MatchID   uuid.UUID         `json:"match_id"`
	Reason    ladder.Code       `json:"reason"`
	ActorID   string            `json:"actor_id"`
	State     ladder.MatchState `json:"state"`
	Reversals []Reversal        `json:"reversals"`
	At        time.Time         `json:"at"`
}

// ResetResult describes a manual rating override.
type ResetResult struct {
	ClanID    uuid.UUID   `json:"clan_id"`
	Reason    ladder.Code `json:"reason"`
	ActorID   string      `json:"actor_id"`
	OldRating int         `json:"old_rating"`
	NewRating int         `json:"new_rating"`
	Delta     int         `json:"delta"`
	At        time.Time   `json:"at"`
}

// Engine performs privileged corrections against the rating store.
type Engine struct {
	store   ladder.Store
	floor   int
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(s ladder.Store, floor int, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   s,
		floor:   floor,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Rollback reverses the active settlement of a match and makes it eligible
// for settlement again.
func (e *Engine) Rollback(ctx context.Context, matchID uuid.UUID, actorID string) (*RollbackResult, error) {
	start := time.Now()

	var res *RollbackResult
	err := e.store.WithTx(ctx, func(tx ladder.Tx) error {
		m, err := loadMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if !m.Settled {
			return &ladder.Error{Kind: ladder.KindInvalidState, Code: ladder.CodeNotSettled, State: m.State}
		}
		res, err = e.reverse(ctx, tx, m, actorID)
		if err != nil {
			return err
		}
		res.Reason = ladder.CodeRolledBack
		res.State = m.State
		return nil
	})
	return e.finish("rollback", start, matchID, res, err)
}

// Void reverses any applied settlement and moves the match to the void
// state, from which it can never be settled.
func (e *Engine) Void(ctx context.Context, matchID uuid.UUID, actorID string) (*RollbackResult, error) {
	start := time.Now()

	var res *RollbackResult
	err := e.store.WithTx(ctx, func(tx ladder.Tx) error {
		m, err := loadMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.State == ladder.MatchVoid {
			return &ladder.Error{Kind: ladder.KindInvalidState, Code: ladder.CodeInvalidState, State: m.State}
		}
		if m.Settled {
			res, err = e.reverse(ctx, tx, m, actorID)
			if err != nil {
				return err
			}
		} else {
			res = &RollbackResult{MatchID: m.ID, ActorID: actorID, At: e.now().UTC()}
		}
		if err := tx.SetMatchState(ctx, m.ID, ladder.MatchVoid); err != nil {
			return fmt.Errorf("void match: %w", err)
		}
		res.Reason = ladder.CodeVoided
		res.State = ladder.MatchVoid
		return nil
	})
	return e.finish("void", start, matchID, res, err)
}

func (e *Engine) finish(op string, start time.Time, matchID uuid.UUID, res *RollbackResult, err error) (*RollbackResult, error) {
	if err != nil {
		reason := ladder.CodeOf(err)
		if reason == "" {
			e.logger.Error(op+" failed", "match_id", matchID, "error", err)
			e.metrics.ObserveCorrection(op, "error", time.Since(start))
		} else {
			e.logger.Info(op+" rejected", "match_id", matchID, "reason", reason)
			e.metrics.ObserveCorrection(op, string(reason), time.Since(start))
		}
		return nil, err
	}
	e.metrics.ObserveCorrection(op, string(res.Reason), time.Since(start))

	for _, r := range res.Reversals {
		if r.Discrepancy != 0 {
			e.logger.Warn("rating floor absorbed part of a reversal",
				"match_id", matchID,
				"clan_id", r.ClanID,
				"requested", r.RequestedDelta,
				"applied", r.AppliedDelta,
			)
		}
	}
	e.logger.Info("match "+string(res.Reason),
		"match_id", matchID,
		"actor_id", res.ActorID,
		"reversals", len(res.Reversals),
	)
	return res, nil
}

// reverse undoes the match's active settlement entries: the settlement
// entries written after the most recent rollback of the match.
func (e *Engine) reverse(ctx context.Context, tx ladder.Tx, m *ladder.Match, actorID string) (*RollbackResult, error) {
	entries, err := tx.MatchLedger(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("load match ledger: %w", err)
	}
	active := activeSettlement(entries)
	if len(active) == 0 {
		return nil, ladder.Fail(ladder.KindUnrecoverable, ladder.CodeNoLedgerTrail)
	}

	now := e.now().UTC()
	res := &RollbackResult{MatchID: m.ID, ActorID: actorID, At: now}
	for _, orig := range active {
		c, err := tx.GetCompetitor(ctx, orig.ClanID)
		if errors.Is(err, ladder.ErrNotFound) {
			return nil, &ladder.Error{Kind: ladder.KindUnrecoverable, Code: ladder.CodeClanNotFound, Clans: []uuid.UUID{orig.ClanID}}
		}
		if err != nil {
			return nil, fmt.Errorf("load clan %s: %w", orig.ClanID, err)
		}

		requested := -orig.Delta
		newRating := ladder.ClampFloor(c.Rating+requested, e.floor)
		played := -1
		if orig.Reason == ladder.ReasonIneligible {
			played = 0
		}
		if err := tx.UpdateCompetitor(ctx, c.ID, newRating, played); err != nil {
			return nil, fmt.Errorf("update clan %s: %w", c.ID, err)
		}
		entry := &ladder.LedgerEntry{
			ClanID:         c.ID,
			MatchID:        &m.ID,
			RatingBefore:   c.Rating,
			RatingAfter:    newRating,
			Delta:          newRating - c.Rating,
			RequestedDelta: requested,
			Reason:         ladder.ReasonRollback,
			ActorID:        actorID,
			CreatedAt:      now,
		}
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return nil, fmt.Errorf("append ledger: %w", err)
		}
		res.Reversals = append(res.Reversals, Reversal{
			ClanID:         c.ID,
			OriginalDelta:  orig.Delta,
			RequestedDelta: requested,
			AppliedDelta:   entry.Delta,
			OldRating:      c.Rating,
			NewRating:      newRating,
			Discrepancy:    entry.Discrepancy(),
		})
	}

	if err := tx.UpdateMatchSettlement(ctx, m.ID, ladder.Cleared()); err != nil {
		return nil, fmt.Errorf("clear settlement: %w", err)
	}
	return res, nil
}

func activeSettlement(entries []ladder.LedgerEntry) []ladder.LedgerEntry {
	start := 0
	for i, e := range entries {
		if e.Reason == ladder.ReasonRollback {
			start = i + 1
		}
	}
	var out []ladder.LedgerEntry
	for _, e := range entries[start:] {
		if e.Reason.IsSettlement() {
			out = append(out, e)
		}
	}
	return out
}

// ResetRating overrides a clan's rating. The floor does not apply and the
// matches-played counter is left alone.
func (e *Engine) ResetRating(ctx context.Context, clanID uuid.UUID, actorID string, target int) (*ResetResult, error) {
	start := time.Now()

	var res *ResetResult
	err := e.store.WithTx(ctx, func(tx ladder.Tx) error {
		c, err := tx.GetCompetitor(ctx, clanID)
		if errors.Is(err, ladder.ErrNotFound) {
			return &ladder.Error{Kind: ladder.KindNotFound, Code: ladder.CodeClanNotFound, Clans: []uuid.UUID{clanID}}
		}
		if err != nil {
			return fmt.Errorf("load clan %s: %w", clanID, err)
		}

		now := e.now().UTC()
		if err := tx.UpdateCompetitor(ctx, c.ID, target, 0); err != nil {
			return fmt.Errorf("update clan %s: %w", c.ID, err)
		}
		delta := target - c.Rating
		if err := tx.AppendLedger(ctx, &ladder.LedgerEntry{
			ClanID:         c.ID,
			RatingBefore:   c.Rating,
			RatingAfter:    target,
			Delta:          delta,
			RequestedDelta: delta,
			Reason:         ladder.ReasonManualReset,
			ActorID:        actorID,
			CreatedAt:      now,
		}); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
		res = &ResetResult{
			ClanID:    c.ID,
			Reason:    ladder.CodeReset,
			ActorID:   actorID,
			OldRating: c.Rating,
			NewRating: target,
			Delta:     delta,
			At:        now,
		}
		return nil
	})

	if err != nil {
		reason := ladder.CodeOf(err)
		if reason == "" {
			e.logger.Error("reset failed", "clan_id", clanID, "error", err)
			reason = "error"
		}
		e.metrics.ObserveCorrection("reset", string(reason), time.Since(start))
		return nil, err
	}
	e.metrics.ObserveCorrection("reset", string(res.Reason), time.Since(start))

	e.logger.Info("rating reset",
		"clan_id", clanID,
		"actor_id", actorID,
		"old_rating", res.OldRating,
		"new_rating", res.NewRating,
	)
	return res, nil
}

func loadMatch(ctx context.Context, tx ladder.Tx, id uuid.UUID) (*ladder.Match, error) {
	m, err := tx.GetMatch(ctx, id)
	if errors.Is(err, ladder.ErrNotFound) {
		return nil, ladder.Fail(ladder.KindNotFound, ladder.CodeMatchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	return m, nil
}
