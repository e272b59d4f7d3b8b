package ladder

import "github.com/google/uuid"

// Replay rebuilds a rating from its ledger, starting at initial. Settlement
// and rollback entries are floor-clamped the same way they were when
// written; manual resets are explicit overrides and are not.
func Replay(initial, floor int, entries []LedgerEntry) int {
	rating := initial
	for _, e := range entries {
		if e.Reason == ReasonManualReset {
			rating += e.Delta
			continue
		}
		rating = ClampFloor(rating+e.Delta, floor)
	}
	return rating
}

// Audit is the result of checking a clan's stored rating against its ledger.
type Audit struct {
	ClanID     uuid.UUID   `json:"clan_id"`
	Stored     int         `json:"stored"`
	Replayed   int         `json:"replayed"`
	Entries    int         `json:"entries"`
	Breaks     []uuid.UUID `json:"breaks,omitempty"`
	Consistent bool        `json:"consistent"`
}

// AuditLedger replays entries and reports entries whose RatingBefore does not
// continue from the previous entry's RatingAfter.
func AuditLedger(c Competitor, initial, floor int, entries []LedgerEntry) Audit {
	a := Audit{
		ClanID:   c.ID,
		Stored:   c.Rating,
		Replayed: Replay(initial, floor, entries),
		Entries:  len(entries),
	}
	prev := initial
	for _, e := range entries {
		if e.RatingBefore != prev || e.RatingAfter-e.RatingBefore != e.Delta {
			a.Breaks = append(a.Breaks, e.ID)
		}
		prev = e.RatingAfter
	}
	a.Consistent = a.Replayed == a.Stored && len(a.Breaks) == 0
	return a
}
