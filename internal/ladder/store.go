package ladder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the rating store. Every operation runs inside WithTx so that the
// reads, the derived computation and all writes commit or abort together.
type Store interface {
	// WithTx runs fn in a serializable transaction. fn may be invoked more
	// than once if the transaction loses a serialization conflict; it must
	// not keep state across invocations.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the read/write surface available inside one transaction.
type Tx interface {
	// GetMatch returns the match row locked for update, or ErrNotFound.
	GetMatch(ctx context.Context, id uuid.UUID) (*Match, error)
	// GetCompetitor returns the clan row locked for update, or ErrNotFound.
	GetCompetitor(ctx context.Context, id uuid.UUID) (*Competitor, error)

	// CountPairSettlements counts settled matches between the unordered pair
	// whose settlement time is at or after since.
	CountPairSettlements(ctx context.Context, a, b uuid.UUID, since time.Time) (int, error)
	// WinStats returns the clan's record over its last lookback settled
	// matches. lookback <= 0 means all settled matches.
	WinStats(ctx context.Context, clanID uuid.UUID, lookback int) (WinStats, error)
	// RosterTiers returns the roster-average tiers recorded for the match.
	// ok is false when none were supplied.
	RosterTiers(ctx context.Context, matchID uuid.UUID) (tiers RosterTiers, ok bool, err error)

	// MatchLedger returns ledger entries referencing the match, oldest first.
	MatchLedger(ctx context.Context, matchID uuid.UUID) ([]LedgerEntry, error)
	// CompetitorLedger returns every ledger entry of the clan, oldest first.
	CompetitorLedger(ctx context.Context, clanID uuid.UUID) ([]LedgerEntry, error)

	// UpdateCompetitor writes the new rating and adds playedDelta to the
	// matches-played counter (never below zero).
	UpdateCompetitor(ctx context.Context, clanID uuid.UUID, rating, playedDelta int) error
	// AppendLedger inserts the entry, assigning ID (if nil) and Seq.
	AppendLedger(ctx context.Context, e *LedgerEntry) error
	// UpdateMatchSettlement overwrites the settlement columns of the match.
	UpdateMatchSettlement(ctx context.Context, matchID uuid.UUID, s MatchSettlement) error
	// SetMatchState changes the reporting state of the match.
	SetMatchState(ctx context.Context, matchID uuid.UUID, state MatchState) error
}
