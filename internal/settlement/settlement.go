package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/config"
	"github.com/MikeSquared-Agency/arbiter/internal/elo"
	"github.com/MikeSquared-Agency/arbiter/internal/fairness"
	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/metrics"
)

// SideResult is one clan's part of a settlement.
type SideResult struct {
	ClanID     uuid.UUID     `json:"clan_id"`
	Status     ladder.Status `json:"status"`
	Won        bool          `json:"won"`
	K          int           `json:"k"`
	Expected   float64       `json:"expected"`
	OldRating  int           `json:"old_rating"`
	NewRating  int           `json:"new_rating"`
	BaseDelta  int           `json:"base_delta"`
	FinalDelta int           `json:"final_delta"`
}

// Result is the outcome of a settlement attempt that reached the clans.
type Result struct {
	MatchID    uuid.UUID           `json:"match_id"`
	Success    bool                `json:"success"`
	Reason     ladder.Code         `json:"reason"`
	WinnerID   *uuid.UUID          `json:"winner_id,omitempty"`
	A          SideResult          `json:"a"`
	B          SideResult          `json:"b"`
	Multiplier float64             `json:"multiplier"`
	Breakdown  *fairness.Breakdown `json:"breakdown,omitempty"`
	Ineligible []uuid.UUID         `json:"ineligible,omitempty"`
	SettledAt  time.Time           `json:"settled_at"`
}

// Engine converts confirmed matches into rating changes.
type Engine struct {
	store   ladder.Store
	policy  config.Policy
	k       elo.KPolicy
	rules   fairness.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(s ladder.Store, policy config.Policy, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   s,
		policy:  policy,
		k:       policy.KPolicy(),
		rules:   policy.Fairness(),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Settle applies the rating consequences of a match exactly once.
//
// declaredWinner may be nil, in which case the winner is derived from the
// scores. The returned error is a *ladder.Error for every domain outcome
// other than success. An IneligibleParticipant error comes with a non-nil
// Result: the attempt was committed with zero deltas and will not be retried.
func (e *Engine) Settle(ctx context.Context, matchID uuid.UUID, declaredWinner *uuid.UUID) (*Result, error) {
	start := time.Now()

	var res *Result
	err := e.store.WithTx(ctx, func(tx ladder.Tx) error {
		var err error
		res, err = e.settle(ctx, tx, matchID, declaredWinner)
		return err
	})

	if err != nil {
		reason := ladder.CodeOf(err)
		if reason == "" {
			e.logger.Error("settlement failed", "match_id", matchID, "error", err)
			e.metrics.ObserveSettlement("error", time.Since(start))
			return nil, err
		}
		e.logger.Info("settlement rejected", "match_id", matchID, "reason", reason)
		e.metrics.ObserveSettlement(string(reason), time.Since(start))
		return nil, err
	}
	e.metrics.ObserveSettlement(string(res.Reason), time.Since(start))

	if !res.Success {
		e.logger.Warn("settlement consumed with zero effect",
			"match_id", matchID,
			"reason", res.Reason,
			"ineligible", res.Ineligible,
		)
		return res, &ladder.Error{Kind: ladder.KindIneligibleParticipant, Code: res.Reason, Clans: res.Ineligible}
	}

	e.logger.Info("match settled",
		"match_id", matchID,
		"winner_id", res.WinnerID,
		"delta_a", res.A.FinalDelta,
		"delta_b", res.B.FinalDelta,
		"multiplier", res.Multiplier,
		"fired", res.Breakdown.Fired,
	)
	return res, nil
}

func (e *Engine) settle(ctx context.Context, tx ladder.Tx, matchID uuid.UUID, declaredWinner *uuid.UUID) (*Result, error) {
	m, err := tx.GetMatch(ctx, matchID)
	if errors.Is(err, ladder.ErrNotFound) {
		return nil, ladder.Fail(ladder.KindNotFound, ladder.CodeMatchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	if !m.State.Settleable() {
		return nil, &ladder.Error{Kind: ladder.KindInvalidState, Code: ladder.CodeInvalidState, State: m.State}
	}
	if m.Settled {
		return nil, ladder.Fail(ladder.KindAlreadyApplied, ladder.CodeAlreadyApplied)
	}

	winnerID, err := resolveWinner(m, declaredWinner)
	if err != nil {
		return nil, err
	}

	a, err := loadClan(ctx, tx, m.ClanA)
	if err != nil {
		return nil, err
	}
	b, err := loadClan(ctx, tx, m.ClanB)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	res := &Result{
		MatchID:   m.ID,
		SettledAt: now,
		A:         SideResult{ClanID: a.ID, Status: a.Status, OldRating: a.Rating, NewRating: a.Rating},
		B:         SideResult{ClanID: b.ID, Status: b.Status, OldRating: b.Rating, NewRating: b.Rating},
	}

	if code, clans := eligibility(a, b); code != "" {
		res.Reason = code
		res.Ineligible = clans
		if err := e.consume(ctx, tx, m, a, b, now); err != nil {
			return nil, err
		}
		return res, nil
	}

	wonA := winnerID == a.ID
	winner := winnerID
	res.WinnerID = &winner
	res.A.Won, res.B.Won = wonA, !wonA
	res.A.K = e.k.KFactor(a.MatchesPlayed)
	res.B.K = e.k.KFactor(b.MatchesPlayed)
	res.A.Expected = elo.ExpectedScore(a.Rating, b.Rating)
	res.B.Expected = elo.ExpectedScore(b.Rating, a.Rating)
	res.A.BaseDelta = elo.BaseDelta(res.A.K, a.Rating, b.Rating, wonA)
	res.B.BaseDelta = elo.BaseDelta(res.B.K, b.Rating, a.Rating, !wonA)

	in, err := e.fairnessInput(ctx, tx, m, a, b, res, now)
	if err != nil {
		return nil, err
	}
	out := fairness.Apply(e.rules, in)

	res.Success = true
	res.Reason = ladder.CodeSettled
	res.Multiplier = out.Multiplier
	res.Breakdown = &out.Breakdown
	res.A.FinalDelta = out.FinalA
	res.B.FinalDelta = out.FinalB
	res.A.NewRating = ladder.ClampFloor(a.Rating+out.FinalA, e.policy.Floor)
	res.B.NewRating = ladder.ClampFloor(b.Rating+out.FinalB, e.policy.Floor)

	for _, side := range []SideResult{res.A, res.B} {
		if err := tx.UpdateCompetitor(ctx, side.ClanID, side.NewRating, 1); err != nil {
			return nil, fmt.Errorf("update clan %s: %w", side.ClanID, err)
		}
		reason := ladder.ReasonLoss
		if side.Won {
			reason = ladder.ReasonWin
		}
		if err := tx.AppendLedger(ctx, &ladder.LedgerEntry{
			ClanID:         side.ClanID,
			MatchID:        &m.ID,
			RatingBefore:   side.OldRating,
			RatingAfter:    side.NewRating,
			Delta:          side.NewRating - side.OldRating,
			RequestedDelta: side.FinalDelta,
			Reason:         reason,
			CreatedAt:      now,
		}); err != nil {
			return nil, fmt.Errorf("append ledger: %w", err)
		}
	}

	baseA, baseB := res.A.BaseDelta, res.B.BaseDelta
	finalA, finalB := res.A.FinalDelta, res.B.FinalDelta
	multiplier := out.Multiplier
	if err := tx.UpdateMatchSettlement(ctx, m.ID, ladder.MatchSettlement{
		Settled:     true,
		WinnerID:    &winnerID,
		BaseDeltaA:  &baseA,
		BaseDeltaB:  &baseB,
		FinalDeltaA: &finalA,
		FinalDeltaB: &finalB,
		Multiplier:  &multiplier,
		SettledAt:   &now,
	}); err != nil {
		return nil, fmt.Errorf("update match: %w", err)
	}
	return res, nil
}

// fairnessInput gathers only the statistics the enabled rules need.
func (e *Engine) fairnessInput(ctx context.Context, tx ladder.Tx, m *ladder.Match, a, b *ladder.Competitor, res *Result, now time.Time) (fairness.Input, error) {
	in := fairness.Input{
		A: fairness.Side{Rating: a.Rating, BaseDelta: res.A.BaseDelta, Won: res.A.Won},
		B: fairness.Side{Rating: b.Rating, BaseDelta: res.B.BaseDelta, Won: res.B.Won},
	}
	if e.rules.AntiFarm.Enabled {
		n, err := tx.CountPairSettlements(ctx, a.ID, b.ID, now.Add(-e.rules.AntiFarm.Window))
		if err != nil {
			return in, fmt.Errorf("count pair settlements: %w", err)
		}
		in.PriorPairMatches = n
	}
	if e.rules.WinRate.Enabled {
		sa, err := tx.WinStats(ctx, a.ID, e.rules.WinRate.Lookback)
		if err != nil {
			return in, fmt.Errorf("win stats %s: %w", a.ID, err)
		}
		sb, err := tx.WinStats(ctx, b.ID, e.rules.WinRate.Lookback)
		if err != nil {
			return in, fmt.Errorf("win stats %s: %w", b.ID, err)
		}
		in.A.Wins, in.A.Matches = sa.Wins, sa.Matches
		in.B.Wins, in.B.Matches = sb.Wins, sb.Matches
	}
	if e.rules.Rank.Enabled {
		tiers, ok, err := tx.RosterTiers(ctx, m.ID)
		if err != nil {
			return in, fmt.Errorf("roster tiers: %w", err)
		}
		if ok {
			in.Tiers = &fairness.Tiers{A: tiers.TierA, B: tiers.TierB}
		}
	}
	return in, nil
}

// consume marks the match settled with zero effect so it is never retried.
// Zero-delta ledger entries keep "settled iff referenced by the ledger" true.
func (e *Engine) consume(ctx context.Context, tx ladder.Tx, m *ladder.Match, a, b *ladder.Competitor, now time.Time) error {
	for _, c := range []*ladder.Competitor{a, b} {
		if err := tx.AppendLedger(ctx, &ladder.LedgerEntry{
			ClanID:       c.ID,
			MatchID:      &m.ID,
			RatingBefore: c.Rating,
			RatingAfter:  c.Rating,
			Reason:       ladder.ReasonIneligible,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
	}
	zero, none := 0, 0.0
	if err := tx.UpdateMatchSettlement(ctx, m.ID, ladder.MatchSettlement{
		Settled:     true,
		BaseDeltaA:  &zero,
		BaseDeltaB:  &zero,
		FinalDeltaA: &zero,
		FinalDeltaB: &zero,
		Multiplier:  &none,
		SettledAt:   &now,
	}); err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	return nil
}

func loadClan(ctx context.Context, tx ladder.Tx, id uuid.UUID) (*ladder.Competitor, error) {
	c, err := tx.GetCompetitor(ctx, id)
	if errors.Is(err, ladder.ErrNotFound) {
		return nil, &ladder.Error{Kind: ladder.KindNotFound, Code: ladder.CodeClanNotFound, Clans: []uuid.UUID{id}}
	}
	if err != nil {
		return nil, fmt.Errorf("load clan %s: %w", id, err)
	}
	return c, nil
}

// resolveWinner validates a declared winner or derives one from the scores.
func resolveWinner(m *ladder.Match, declared *uuid.UUID) (uuid.UUID, error) {
	if declared != nil {
		if !m.Involves(*declared) {
			return uuid.Nil, &ladder.Error{Kind: ladder.KindInvalidState, Code: ladder.CodeWinnerNotParticipant, Clans: []uuid.UUID{*declared}}
		}
		return *declared, nil
	}
	if m.ScoreA == nil || m.ScoreB == nil {
		return uuid.Nil, ladder.Fail(ladder.KindInvalidState, ladder.CodeWinnerRequired)
	}
	switch {
	case *m.ScoreA > *m.ScoreB:
		return m.ClanA, nil
	case *m.ScoreB > *m.ScoreA:
		return m.ClanB, nil
	default:
		return uuid.Nil, ladder.Fail(ladder.KindInvalidState, ladder.CodeDrawUnsupported)
	}
}

// eligibility returns the most severe non-active status code and every
// non-active clan, or "" when both clans are active.
func eligibility(a, b *ladder.Competitor) (ladder.Code, []uuid.UUID) {
	var code ladder.Code
	var clans []uuid.UUID
	for _, c := range []*ladder.Competitor{a, b} {
		if c.Status == ladder.StatusActive {
			continue
		}
		clans = append(clans, c.ID)
		switch {
		case c.Status == ladder.StatusBanned:
			code = ladder.CodeParticipantBanned
		case c.Status == ladder.StatusFrozen && code != ladder.CodeParticipantBanned:
			code = ladder.CodeParticipantFrozen
		case code == "":
			code = ladder.CodeParticipantInactive
		}
	}
	return code, clans
}
