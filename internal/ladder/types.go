package ladder

import (
	"time"

	"github.com/google/uuid"
)

// Status is a clan's lifecycle status. Only active clans move rating.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusFrozen   Status = "frozen"
	StatusBanned   Status = "banned"
)

// MatchState is the reporting state of a match.
type MatchState string

const (
	MatchPending   MatchState = "pending"
	MatchConfirmed MatchState = "confirmed"
	MatchResolved  MatchState = "resolved"
	MatchVoid      MatchState = "void"
)

// Settleable reports whether a match in this state may have rating applied.
func (s MatchState) Settleable() bool {
	return s == MatchConfirmed || s == MatchResolved
}

// Reason is the ledger reason code of a rating change.
type Reason string

const (
	ReasonWin         Reason = "win"
	ReasonLoss        Reason = "loss"
	ReasonIneligible  Reason = "ineligible"
	ReasonRollback    Reason = "rollback"
	ReasonManualReset Reason = "manual_reset"
)

// IsSettlement reports whether the entry was written by a settlement.
func (r Reason) IsSettlement() bool {
	return r == ReasonWin || r == ReasonLoss || r == ReasonIneligible
}

// Competitor is a clan on the ladder.
type Competitor struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Rating        int       `json:"rating"`
	MatchesPlayed int       `json:"matches_played"`
	Status        Status    `json:"status"`
}

// Match is a reported clan-vs-clan match and its settlement fields.
// Settlement fields are nil until the match has been settled.
type Match struct {
	ID          uuid.UUID  `json:"id"`
	ClanA       uuid.UUID  `json:"clan_a"`
	ClanB       uuid.UUID  `json:"clan_b"`
	State       MatchState `json:"state"`
	ScoreA      *int       `json:"score_a,omitempty"`
	ScoreB      *int       `json:"score_b,omitempty"`
	Settled     bool       `json:"settled"`
	WinnerID    *uuid.UUID `json:"winner_id,omitempty"`
	BaseDeltaA  *int       `json:"base_delta_a,omitempty"`
	BaseDeltaB  *int       `json:"base_delta_b,omitempty"`
	FinalDeltaA *int       `json:"final_delta_a,omitempty"`
	FinalDeltaB *int       `json:"final_delta_b,omitempty"`
	Multiplier  *float64   `json:"multiplier,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Involves reports whether the clan plays in the match.
func (m *Match) Involves(clanID uuid.UUID) bool {
	return m.ClanA == clanID || m.ClanB == clanID
}

// Opponent returns the other side of the match.
func (m *Match) Opponent(clanID uuid.UUID) uuid.UUID {
	if m.ClanA == clanID {
		return m.ClanB
	}
	return m.ClanA
}

// MatchSettlement is the set of settlement columns written atomically on a match row.
type MatchSettlement struct {
	Settled     bool
	WinnerID    *uuid.UUID
	BaseDeltaA  *int
	BaseDeltaB  *int
	FinalDeltaA *int
	FinalDeltaB *int
	Multiplier  *float64
	SettledAt   *time.Time
}

// Cleared is the settlement state of a match that has been rolled back.
func Cleared() MatchSettlement {
	return MatchSettlement{}
}

// LedgerEntry is one immutable rating change.
//
// Delta is always RatingAfter - RatingBefore. RequestedDelta is what the
// operation asked for before floor clamping; the two differ only when the
// floor absorbed part of the change.
type LedgerEntry struct {
	ID             uuid.UUID  `json:"id"`
	Seq            int64      `json:"seq"`
	ClanID         uuid.UUID  `json:"clan_id"`
	MatchID        *uuid.UUID `json:"match_id,omitempty"`
	RatingBefore   int        `json:"rating_before"`
	RatingAfter    int        `json:"rating_after"`
	Delta          int        `json:"delta"`
	RequestedDelta int        `json:"requested_delta"`
	Reason         Reason     `json:"reason"`
	ActorID        string     `json:"actor_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Discrepancy is the part of the requested change absorbed by the rating floor.
func (e LedgerEntry) Discrepancy() int {
	return e.Delta - e.RequestedDelta
}

// WinStats is a clan's rolling record over its most recent settled matches.
type WinStats struct {
	Wins    int `json:"wins"`
	Matches int `json:"matches"`
}

// Rate returns the win fraction, zero when no matches are recorded.
func (w WinStats) Rate() float64 {
	if w.Matches == 0 {
		return 0
	}
	return float64(w.Wins) / float64(w.Matches)
}

// RosterTiers holds the roster-average skill tier of each side of a match.
type RosterTiers struct {
	TierA float64 `json:"tier_a"`
	TierB float64 `json:"tier_b"`
}

// ClampFloor applies the rating floor.
func ClampFloor(rating, floor int) int {
	if rating < floor {
		return floor
	}
	return rating
}
