package ladder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by store reads when the row does not exist.
var ErrNotFound = errors.New("not found")

// Kind classifies a domain failure. Callers switch on Kind; Code carries the detail.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidState
	KindAlreadyApplied
	KindIneligibleParticipant
	KindUnrecoverable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindAlreadyApplied:
		return "already_applied"
	case KindIneligibleParticipant:
		return "ineligible_participant"
	case KindUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Code is a stable reason code reported to the presentation layer.
type Code string

const (
	CodeSettled    Code = "settled"
	CodeRolledBack Code = "rolled_back"
	CodeVoided     Code = "voided"
	CodeReset      Code = "reset"

	CodeMatchNotFound        Code = "match_not_found"
	CodeClanNotFound         Code = "clan_not_found"
	CodeInvalidState         Code = "invalid_state"
	CodeAlreadyApplied       Code = "already_applied"
	CodeDrawUnsupported      Code = "draw_unsupported"
	CodeWinnerRequired       Code = "winner_required"
	CodeWinnerNotParticipant Code = "winner_not_participant"
	CodeParticipantInactive  Code = "participant_inactive"
	CodeParticipantFrozen    Code = "participant_frozen"
	CodeParticipantBanned    Code = "participant_banned"
	CodeNotSettled           Code = "not_settled"
	CodeNoLedgerTrail        Code = "no_ledger_trail"
)

// Error is a typed domain failure. It never wraps storage errors.
type Error struct {
	Kind  Kind
	Code  Code
	State MatchState
	Clans []uuid.UUID
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(string(e.Code))
	if e.State != "" {
		fmt.Fprintf(&b, " (state %s)", e.State)
	}
	if len(e.Clans) > 0 {
		ids := make([]string, len(e.Clans))
		for i, id := range e.Clans {
			ids[i] = id.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(ids, ", "))
	}
	return b.String()
}

// Fail builds a domain error.
func Fail(kind Kind, code Code) *Error {
	return &Error{Kind: kind, Code: code}
}

// KindOf extracts the domain kind from err. ok is false for non-domain errors.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// CodeOf returns the reason code carried by err, or "" for non-domain errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
