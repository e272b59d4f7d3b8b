package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/correction"
	"github.com/MikeSquared-Agency/arbiter/internal/hermes"
	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

// handlerTimeout bounds one request, storage retries included.
const handlerTimeout = 30 * time.Second

// Publisher sends a JSON-encoded event. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor turns inbound ladder events into rating operations and
// publishes their results.
type Processor struct {
	settler   *settlement.Engine
	corrector *correction.Engine
	pub       Publisher
	logger    *slog.Logger
}

func New(settler *settlement.Engine, corrector *correction.Engine, pub Publisher, logger *slog.Logger) *Processor {
	return &Processor{
		settler:   settler,
		corrector: corrector,
		pub:       pub,
		logger:    logger,
	}
}

// Subscribe registers every handler on the client.
func (p *Processor) Subscribe(c *hermes.Client) error {
	handlers := map[string]func(string, []byte){
		hermes.SubjectMatchConfirmed:    p.HandleMatchConfirmed,
		hermes.SubjectRollbackRequested: p.HandleRollbackRequested,
		hermes.SubjectResetRequested:    p.HandleResetRequested,
	}
	for subject, h := range handlers {
		if err := c.Subscribe(subject, h); err != nil {
			return err
		}
	}
	return nil
}

// HandleMatchConfirmed is the NATS handler for ladder.match.confirmed.
func (p *Processor) HandleMatchConfirmed(subject string, data []byte) {
	var evt hermes.MatchConfirmed
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse match confirmation", "subject", subject, "error", err)
		return
	}
	if evt.MatchID == uuid.Nil {
		p.logger.Error("match confirmation without match_id", "subject", subject)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	res, err := p.settler.Settle(ctx, evt.MatchID, evt.WinnerID)
	if err != nil {
		rej := hermes.Rejection{Subject: subject, MatchID: &evt.MatchID}
		if res != nil {
			rej.Result = res
		}
		p.reject(rej, err)
		return
	}
	p.publish(hermes.SubjectRatingSettled, res)
}

// HandleRollbackRequested is the NATS handler for ladder.match.rollback_requested.
func (p *Processor) HandleRollbackRequested(subject string, data []byte) {
	var evt hermes.RollbackRequested
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse rollback request", "subject", subject, "error", err)
		return
	}
	if evt.MatchID == uuid.Nil || evt.ActorID == "" {
		p.logger.Error("rollback request missing match_id or actor_id", "subject", subject)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	res, err := p.corrector.Rollback(ctx, evt.MatchID, evt.ActorID)
	if err != nil {
		p.reject(hermes.Rejection{Subject: subject, MatchID: &evt.MatchID}, err)
		return
	}
	p.publish(hermes.SubjectRatingRolledBack, res)
}

// HandleResetRequested is the NATS handler for ladder.clan.reset_requested.
func (p *Processor) HandleResetRequested(subject string, data []byte) {
	var evt hermes.ResetRequested
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse reset request", "subject", subject, "error", err)
		return
	}
	if evt.ClanID == uuid.Nil || evt.ActorID == "" {
		p.logger.Error("reset request missing clan_id or actor_id", "subject", subject)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	res, err := p.corrector.ResetRating(ctx, evt.ClanID, evt.ActorID, evt.TargetRating)
	if err != nil {
		p.reject(hermes.Rejection{Subject: subject, ClanID: &evt.ClanID}, err)
		return
	}
	p.publish(hermes.SubjectRatingReset, res)
}

// reject publishes domain refusals. Storage failures are only logged: the
// request left nothing committed and may be redelivered.
func (p *Processor) reject(rej hermes.Rejection, err error) {
	kind, ok := ladder.KindOf(err)
	if !ok {
		p.logger.Error("rating operation failed", "subject", rej.Subject, "error", err)
		return
	}
	rej.Kind = kind.String()
	rej.Reason = string(ladder.CodeOf(err))
	p.publish(hermes.SubjectRatingRejected, rej)
}

func (p *Processor) publish(subject string, v any) {
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(subject, v); err != nil {
		p.logger.Error("failed to publish", "subject", subject, "error", err)
	}
}
