package hermes

import (
	"github.com/google/uuid"
)

// Inbound subjects: requests from the match-confirmation and moderation workflows.
const (
	SubjectMatchConfirmed    = "ladder.match.confirmed"
	SubjectRollbackRequested = "ladder.match.rollback_requested"
	SubjectResetRequested    = "ladder.clan.reset_requested"
)

// Outbound subjects: results for the presentation layer.
const (
	SubjectRatingSettled    = "ladder.rating.settled"
	SubjectRatingRejected   = "ladder.rating.rejected"
	SubjectRatingRolledBack = "ladder.rating.rolled_back"
	SubjectRatingReset      = "ladder.rating.reset"
)

// MatchConfirmed asks for a match to be settled. WinnerID is optional; when
// absent the winner is derived from the reported scores.
type MatchConfirmed struct {
	MatchID  uuid.UUID  `json:"match_id"`
	WinnerID *uuid.UUID `json:"winner_id,omitempty"`
}

// RollbackRequested asks for a settled match to be reversed.
type RollbackRequested struct {
	MatchID uuid.UUID `json:"match_id"`
	ActorID string    `json:"actor_id"`
}

// ResetRequested asks for a clan's rating to be overridden.
type ResetRequested struct {
	ClanID       uuid.UUID `json:"clan_id"`
	ActorID      string    `json:"actor_id"`
	TargetRating int       `json:"target_rating"`
}

// Rejection reports a request the rating core refused or could not apply.
type Rejection struct {
	Subject string     `json:"subject"`
	MatchID *uuid.UUID `json:"match_id,omitempty"`
	ClanID  *uuid.UUID `json:"clan_id,omitempty"`
	Kind    string     `json:"kind"`
	Reason  string     `json:"reason"`
	// Result carries the zero-effect settlement when a participant was ineligible.
	Result any `json:"result,omitempty"`
}
