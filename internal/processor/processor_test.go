package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/arbiter/internal/config"
	"github.com/MikeSquared-Agency/arbiter/internal/correction"
	"github.com/MikeSquared-Agency/arbiter/internal/hermes"
	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/memstore"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
)

type published struct {
	subject string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data any) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject: subject, payload: b})
	return nil
}

func (f *fakePublisher) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		t.Fatal("nothing published")
	}
	return f.msgs[len(f.msgs)-1]
}

type harness struct {
	store *memstore.Store
	pub   *fakePublisher
	proc  *Processor
	a, b  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memstore.New()
	policy := config.DefaultPolicy()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{store: s, pub: &fakePublisher{}, a: uuid.New(), b: uuid.New()}
	s.AddCompetitor(ladder.Competitor{ID: h.a, Rating: 1000, MatchesPlayed: 3, Status: ladder.StatusActive})
	s.AddCompetitor(ladder.Competitor{ID: h.b, Rating: 1000, MatchesPlayed: 12, Status: ladder.StatusActive})

	h.proc = New(
		settlement.New(s, policy, nil, logger),
		correction.New(s, policy.Floor, nil, logger),
		h.pub,
		logger,
	)
	return h
}

func (h *harness) match() uuid.UUID {
	id := uuid.New()
	h.store.AddMatch(ladder.Match{ID: id, ClanA: h.a, ClanB: h.b, State: ladder.MatchConfirmed})
	return id
}

func TestHandleMatchConfirmed_PublishesSettlement(t *testing.T) {
	h := newHarness(t)
	id := h.match()

	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, []byte(fmt.Sprintf(`{"match_id":%q,"winner_id":%q}`, id, h.a)))

	msg := h.pub.last(t)
	if msg.subject != hermes.SubjectRatingSettled {
		t.Fatalf("expected %s, got %s", hermes.SubjectRatingSettled, msg.subject)
	}
	var res settlement.Result
	if err := json.Unmarshal(msg.payload, &res); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if !res.Success || res.A.FinalDelta != 20 || res.B.FinalDelta != -16 {
		t.Errorf("unexpected settlement %+v", res)
	}
	if c, _ := h.store.Competitor(h.a); c.Rating != 1020 {
		t.Errorf("expected rating 1020, got %d", c.Rating)
	}
}

func TestHandleMatchConfirmed_RedeliveryIsRejected(t *testing.T) {
	h := newHarness(t)
	payload := []byte(fmt.Sprintf(`{"match_id":%q,"winner_id":%q}`, h.match(), h.a))

	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, payload)
	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, payload)

	msg := h.pub.last(t)
	if msg.subject != hermes.SubjectRatingRejected {
		t.Fatalf("expected %s, got %s", hermes.SubjectRatingRejected, msg.subject)
	}
	var rej hermes.Rejection
	if err := json.Unmarshal(msg.payload, &rej); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if rej.Kind != "already_applied" || rej.Reason != "already_applied" {
		t.Errorf("unexpected rejection %+v", rej)
	}
	if len(h.store.Ledger()) != 2 {
		t.Errorf("expected 2 ledger entries, got %d", len(h.store.Ledger()))
	}
}

func TestHandleMatchConfirmed_IneligibleCarriesResult(t *testing.T) {
	h := newHarness(t)
	h.store.SetStatus(h.b, ladder.StatusBanned)
	id := h.match()

	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, []byte(fmt.Sprintf(`{"match_id":%q,"winner_id":%q}`, id, h.a)))

	msg := h.pub.last(t)
	var rej struct {
		Kind   string             `json:"kind"`
		Reason string             `json:"reason"`
		Result *settlement.Result `json:"result"`
	}
	if err := json.Unmarshal(msg.payload, &rej); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if rej.Kind != "ineligible_participant" || rej.Reason != "participant_banned" {
		t.Errorf("unexpected rejection %+v", rej)
	}
	if rej.Result == nil || rej.Result.Success {
		t.Errorf("expected zero-effect result, got %+v", rej.Result)
	}
}

func TestHandleMatchConfirmed_BadPayload(t *testing.T) {
	h := newHarness(t)

	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, []byte(`not json`))
	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, []byte(`{}`))

	if len(h.pub.msgs) != 0 {
		t.Errorf("expected nothing published, got %d messages", len(h.pub.msgs))
	}
}

func TestHandleMatchConfirmed_StorageFailureIsNotPublished(t *testing.T) {
	h := newHarness(t)
	h.store.FailWrite = func(string) error { return errors.New("disk full") }

	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, []byte(fmt.Sprintf(`{"match_id":%q,"winner_id":%q}`, h.match(), h.a)))

	if len(h.pub.msgs) != 0 {
		t.Errorf("expected nothing published, got %d messages", len(h.pub.msgs))
	}
}

func TestHandleRollbackRequested(t *testing.T) {
	h := newHarness(t)
	id := h.match()
	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, []byte(fmt.Sprintf(`{"match_id":%q,"winner_id":%q}`, id, h.a)))

	h.proc.HandleRollbackRequested(hermes.SubjectRollbackRequested, []byte(fmt.Sprintf(`{"match_id":%q,"actor_id":"mod-1"}`, id)))

	msg := h.pub.last(t)
	if msg.subject != hermes.SubjectRatingRolledBack {
		t.Fatalf("expected %s, got %s", hermes.SubjectRatingRolledBack, msg.subject)
	}
	var res correction.RollbackResult
	if err := json.Unmarshal(msg.payload, &res); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if len(res.Reversals) != 2 || res.ActorID != "mod-1" {
		t.Errorf("unexpected rollback %+v", res)
	}
	if c, _ := h.store.Competitor(h.a); c.Rating != 1000 {
		t.Errorf("expected rating restored to 1000, got %d", c.Rating)
	}

	// A second rollback has nothing to reverse.
	h.proc.HandleRollbackRequested(hermes.SubjectRollbackRequested, []byte(fmt.Sprintf(`{"match_id":%q,"actor_id":"mod-1"}`, id)))
	var rej hermes.Rejection
	if err := json.Unmarshal(h.pub.last(t).payload, &rej); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if rej.Reason != "not_settled" {
		t.Errorf("expected not_settled, got %q", rej.Reason)
	}
}

func TestHandleRollbackRequested_RequiresActor(t *testing.T) {
	h := newHarness(t)
	h.proc.HandleRollbackRequested(hermes.SubjectRollbackRequested, []byte(fmt.Sprintf(`{"match_id":%q}`, h.match())))

	if len(h.pub.msgs) != 0 {
		t.Errorf("expected nothing published, got %d messages", len(h.pub.msgs))
	}
}

func TestHandleResetRequested(t *testing.T) {
	h := newHarness(t)

	h.proc.HandleResetRequested(hermes.SubjectResetRequested, []byte(fmt.Sprintf(`{"clan_id":%q,"actor_id":"admin","target_rating":1200}`, h.b)))

	msg := h.pub.last(t)
	if msg.subject != hermes.SubjectRatingReset {
		t.Fatalf("expected %s, got %s", hermes.SubjectRatingReset, msg.subject)
	}
	if c, _ := h.store.Competitor(h.b); c.Rating != 1200 {
		t.Errorf("expected rating 1200, got %d", c.Rating)
	}

	h.proc.HandleResetRequested(hermes.SubjectResetRequested, []byte(fmt.Sprintf(`{"clan_id":%q,"actor_id":"admin","target_rating":1200}`, uuid.New())))
	var rej hermes.Rejection
	if err := json.Unmarshal(h.pub.last(t).payload, &rej); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if rej.Kind != "not_found" || rej.Reason != "clan_not_found" {
		t.Errorf("unexpected rejection %+v", rej)
	}
}

func TestPublishFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("nats down")

	h.proc.HandleMatchConfirmed(hermes.SubjectMatchConfirmed, []byte(fmt.Sprintf(`{"match_id":%q,"winner_id":%q}`, h.match(), h.a)))

	if c, _ := h.store.Competitor(h.a); c.Rating != 1020 {
		t.Errorf("settlement must commit regardless of publish failure, got %d", c.Rating)
	}
}
