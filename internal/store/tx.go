package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
)

// pgTx implements ladder.Tx on one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

const matchColumns = `id, clan_a, clan_b, state, score_a, score_b, settled, winner_id,
	base_delta_a, base_delta_b, final_delta_a, final_delta_b, multiplier, settled_at, created_at`

const ledgerColumns = `id, seq, clan_id, match_id, rating_before, rating_after, delta,
	requested_delta, reason, actor_id, created_at`

func (t *pgTx) GetMatch(ctx context.Context, id uuid.UUID) (*ladder.Match, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, id)

	var m ladder.Match
	err := row.Scan(&m.ID, &m.ClanA, &m.ClanB, &m.State, &m.ScoreA, &m.ScoreB, &m.Settled, &m.WinnerID,
		&m.BaseDeltaA, &m.BaseDeltaB, &m.FinalDeltaA, &m.FinalDeltaB, &m.Multiplier, &m.SettledAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ladder.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select match: %w", err)
	}
	return &m, nil
}

func (t *pgTx) GetCompetitor(ctx context.Context, id uuid.UUID) (*ladder.Competitor, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, name, rating, matches_played, status
		FROM clans
		WHERE id = $1
		FOR UPDATE`, id)

	var c ladder.Competitor
	err := row.Scan(&c.ID, &c.Name, &c.Rating, &c.MatchesPlayed, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ladder.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select clan: %w", err)
	}
	return &c, nil
}

func (t *pgTx) CountPairSettlements(ctx context.Context, a, b uuid.UUID, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM matches
		WHERE settled AND winner_id IS NOT NULL AND settled_at >= $3
		  AND ((clan_a = $1 AND clan_b = $2) OR (clan_a = $2 AND clan_b = $1))`,
		a, b, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pair settlements: %w", err)
	}
	return n, nil
}

func (t *pgTx) WinStats(ctx context.Context, clanID uuid.UUID, lookback int) (ladder.WinStats, error) {
	var limit *int
	if lookback > 0 {
		limit = &lookback
	}
	var s ladder.WinStats
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE winner_id = $1), count(*)
		FROM (
			SELECT winner_id
			FROM matches
			WHERE settled AND winner_id IS NOT NULL AND settled_at IS NOT NULL
			  AND (clan_a = $1 OR clan_b = $1)
			ORDER BY settled_at DESC
			LIMIT $2
		) recent`,
		clanID, limit,
	).Scan(&s.Wins, &s.Matches)
	if err != nil {
		return ladder.WinStats{}, fmt.Errorf("win stats: %w", err)
	}
	return s, nil
}

func (t *pgTx) RosterTiers(ctx context.Context, matchID uuid.UUID) (ladder.RosterTiers, bool, error) {
	var r ladder.RosterTiers
	err := t.tx.QueryRow(ctx, `SELECT tier_a, tier_b FROM match_roster_tiers WHERE match_id = $1`, matchID).
		Scan(&r.TierA, &r.TierB)
	if errors.Is(err, pgx.ErrNoRows) {
		return ladder.RosterTiers{}, false, nil
	}
	if err != nil {
		return ladder.RosterTiers{}, false, fmt.Errorf("select roster tiers: %w", err)
	}
	return r, true, nil
}

func (t *pgTx) MatchLedger(ctx context.Context, matchID uuid.UUID) ([]ladder.LedgerEntry, error) {
	return t.ledger(ctx, `SELECT `+ledgerColumns+` FROM rating_ledger WHERE match_id = $1 ORDER BY seq`, matchID)
}

func (t *pgTx) CompetitorLedger(ctx context.Context, clanID uuid.UUID) ([]ladder.LedgerEntry, error) {
	return t.ledger(ctx, `SELECT `+ledgerColumns+` FROM rating_ledger WHERE clan_id = $1 ORDER BY seq`, clanID)
}

func (t *pgTx) ledger(ctx context.Context, query string, arg uuid.UUID) ([]ladder.LedgerEntry, error) {
	rows, err := t.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []ladder.LedgerEntry
	for rows.Next() {
		var e ladder.LedgerEntry
		var actor *string
		if err := rows.Scan(&e.ID, &e.Seq, &e.ClanID, &e.MatchID, &e.RatingBefore, &e.RatingAfter, &e.Delta,
			&e.RequestedDelta, &e.Reason, &actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		if actor != nil {
			e.ActorID = *actor
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateCompetitor(ctx context.Context, clanID uuid.UUID, rating, playedDelta int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE clans
		SET rating = $2, matches_played = GREATEST(matches_played + $3, 0), updated_at = now()
		WHERE id = $1`,
		clanID, rating, playedDelta,
	)
	if err != nil {
		return fmt.Errorf("update clan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update clan %s: %w", clanID, ladder.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendLedger(ctx context.Context, e *ladder.LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var actor *string
	if e.ActorID != "" {
		actor = &e.ActorID
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO rating_ledger (id, clan_id, match_id, rating_before, rating_after, delta, requested_delta, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`,
		e.ID, e.ClanID, e.MatchID, e.RatingBefore, e.RatingAfter, e.Delta, e.RequestedDelta, e.Reason, actor, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateMatchSettlement(ctx context.Context, matchID uuid.UUID, s ladder.MatchSettlement) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE matches
		SET settled = $2, winner_id = $3,
		    base_delta_a = $4, base_delta_b = $5,
		    final_delta_a = $6, final_delta_b = $7,
		    multiplier = $8, settled_at = $9
		WHERE id = $1`,
		matchID, s.Settled, s.WinnerID, s.BaseDeltaA, s.BaseDeltaB, s.FinalDeltaA, s.FinalDeltaB, s.Multiplier, s.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("update match settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update match %s: %w", matchID, ladder.ErrNotFound)
	}
	return nil
}

func (t *pgTx) SetMatchState(ctx context.Context, matchID uuid.UUID, state ladder.MatchState) error {
	tag, err := t.tx.Exec(ctx, `UPDATE matches SET state = $2 WHERE id = $1`, matchID, state)
	if err != nil {
		return fmt.Errorf("update match state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update match %s: %w", matchID, ladder.ErrNotFound)
	}
	return nil
}
