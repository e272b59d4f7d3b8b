package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

type settleRequest struct {
	WinnerID *uuid.UUID `json:"winner_id,omitempty"`
}

type correctionRequest struct {
	ActorID string `json:"actor_id" validate:"required,max=128"`
}

type resetRequest struct {
	ActorID      string `json:"actor_id" validate:"required,max=128"`
	TargetRating *int   `json:"target_rating" validate:"required,min=0"`
}

type settleResponse struct {
	Applied bool               `json:"applied"`
	Reason  string             `json:"reason"`
	Result  *settlement.Result `json:"result"`
}

type ledgerResponse struct {
	Clan    ladder.Competitor    `json:"clan"`
	Entries []ladder.LedgerEntry `json:"entries"`
}

type errorBody struct {
	Error  string            `json:"error"`
	Reason string            `json:"reason,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// settle handles POST /api/v1/matches/{id}/settle
func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.deps.Settler.Settle(r.Context(), id, req.WinnerID)
	if kind, _ := ladder.KindOf(err); kind == ladder.KindIneligibleParticipant && res != nil {
		writeJSON(w, http.StatusOK, settleResponse{Applied: false, Reason: string(res.Reason), Result: res})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{Applied: true, Reason: string(res.Reason), Result: res})
}

// rollback handles POST /api/v1/matches/{id}/rollback
func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req correctionRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.deps.Corrector.Rollback(r.Context(), id, req.ActorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// void handles POST /api/v1/matches/{id}/void
func (s *Server) void(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req correctionRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.deps.Corrector.Void(r.Context(), id, req.ActorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reset handles POST /api/v1/clans/{id}/reset
func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.deps.Corrector.ResetRating(r.Context(), id, req.ActorID, *req.TargetRating)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ledger handles GET /api/v1/clans/{id}/ledger
func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	resp, err := s.loadLedger(r, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// audit handles GET /api/v1/clans/{id}/audit
func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	resp, err := s.loadLedger(r, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ladder.AuditLedger(resp.Clan, s.deps.Policy.DefaultRating, s.deps.Policy.Floor, resp.Entries))
}

func (s *Server) loadLedger(r *http.Request, id uuid.UUID) (*ledgerResponse, error) {
	var resp ledgerResponse
	err := s.deps.Store.WithTx(r.Context(), func(tx ladder.Tx) error {
		c, err := tx.GetCompetitor(r.Context(), id)
		if errors.Is(err, ladder.ErrNotFound) {
			return &ladder.Error{Kind: ladder.KindNotFound, Code: ladder.CodeClanNotFound, Clans: []uuid.UUID{id}}
		}
		if err != nil {
			return err
		}
		entries, err := tx.CompetitorLedger(r.Context(), id)
		if err != nil {
			return err
		}
		resp = ledgerResponse{Clan: *c, Entries: entries}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Entries == nil {
		resp.Entries = []ladder.LedgerEntry{}
	}
	return &resp, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps a domain kind to its HTTP status.
func statusFor(kind ladder.Kind) int {
	switch kind {
	case ladder.KindNotFound:
		return http.StatusNotFound
	case ladder.KindAlreadyApplied:
		return http.StatusConflict
	case ladder.KindInvalidState, ladder.KindUnrecoverable:
		return http.StatusUnprocessableEntity
	case ladder.KindIneligibleParticipant:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: reqErr.msg, Fields: reqErr.fields})
		return
	}
	if kind, ok := ladder.KindOf(err); ok {
		writeJSON(w, statusFor(kind), errorBody{Error: kind.String(), Reason: string(ladder.CodeOf(err))})
		return
	}
	s.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}
