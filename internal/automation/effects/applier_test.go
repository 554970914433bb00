package effects

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"pipeline_backend/internal/automation/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct{ id uuid.UUID }

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("unexpected scan targets")
	}
	target, ok := dest[0].(*uuid.UUID)
	if !ok {
		return errors.New("unexpected scan type")
	}
	*target = r.id
	return nil
}

type fakeQuerier struct {
	statements []string
	affected   int64
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.statements = append(q.statements, sql)
	return pgconn.NewCommandTag("UPDATE " + strconv.FormatInt(q.affected, 10)), nil
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.statements = append(q.statements, sql)
	return fakeRow{id: uuid.New()}
}

func TestApplyAllWritesEveryEffectInOrder(t *testing.T) {
	q := &fakeQuerier{affected: 1}
	leadID := uuid.New()
	agentID := uuid.New()

	batch := []domain.Effect{
		domain.TagEffect{LeadID: leadID, Tag: "vip"},
		domain.NotificationEffect{LeadID: leadID, RecipientAgentID: agentID, AlertType: "sla_breach", Title: "SLA", Content: "late"},
		domain.DispatchEffect{LeadID: leadID, Channel: domain.ChannelSMS, Recipient: "+31612345678", Body: "hi", SourceKind: domain.SourceCadence, SourceID: uuid.New(), StepKey: "day:3:sms"},
	}
	if err := ApplyAll(context.Background(), q, batch, time.Now()); err != nil {
		t.Fatalf("ApplyAll returned error: %v", err)
	}
	if len(q.statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(q.statements))
	}
	wants := []string{"UPDATE leads", "INSERT INTO notifications", "INSERT INTO dispatch_outbox"}
	for i, want := range wants {
		if !strings.Contains(q.statements[i], want) {
			t.Fatalf("statement %d: expected %q in %q", i, want, q.statements[i])
		}
	}
}

func TestApplyAllReportsAlreadyAssigned(t *testing.T) {
	q := &fakeQuerier{affected: 0}
	err := ApplyAll(context.Background(), q, []domain.Effect{
		domain.AssignmentEffect{LeadID: uuid.New(), AgentID: uuid.New(), AssignedAt: time.Now(), FirstContactDueAt: time.Now()},
		domain.HistoryEffect{LeadID: uuid.New(), EventType: "lead_assigned"},
	}, time.Now())
	if !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	if len(q.statements) != 1 {
		t.Fatalf("expected the batch to stop at the failed assignment, got %d statements", len(q.statements))
	}
}

func TestApplyAllRejectsWritesToClosedLead(t *testing.T) {
	q := &fakeQuerier{affected: 0}
	err := ApplyAll(context.Background(), q, []domain.Effect{
		domain.TemperatureEffect{LeadID: uuid.New(), From: domain.TemperatureCold, To: domain.TemperatureHot},
	}, time.Now())
	if err == nil {
		t.Fatalf("expected error when no open lead row was updated")
	}
}

func TestApplyAllWritesLedgerRowWithTheDispatch(t *testing.T) {
	q := &fakeQuerier{affected: 1}
	leadID, cadenceID := uuid.New(), uuid.New()
	batch := []domain.Effect{
		domain.DispatchEffect{LeadID: leadID, Channel: domain.ChannelSMS, Recipient: "+31612345678", Body: "hi", SourceKind: domain.SourceCadence, SourceID: cadenceID, StepKey: "day:0:sms"},
		domain.LedgerEffect{Record: domain.ExecutionRecord{SourceKind: domain.SourceCadence, SourceID: cadenceID, StepKey: "day:0:sms", LeadID: leadID, Status: domain.ExecutionCompleted}},
	}
	if err := ApplyAll(context.Background(), q, batch, time.Now()); err != nil {
		t.Fatalf("ApplyAll returned error: %v", err)
	}
	if len(q.statements) != 2 || !strings.Contains(q.statements[1], "INSERT INTO automation_executions") {
		t.Fatalf("expected the ledger insert after the outbox insert, got %q", q.statements)
	}
}

func TestApplyAllSkipsLedgerRowWhenAnEarlierWriteFails(t *testing.T) {
	q := &fakeQuerier{affected: 0}
	leadID := uuid.New()
	err := ApplyAll(context.Background(), q, []domain.Effect{
		domain.TemperatureEffect{LeadID: leadID, From: domain.TemperatureCold, To: domain.TemperatureHot},
		domain.LedgerEffect{Record: domain.ExecutionRecord{SourceKind: domain.SourceRule, SourceID: uuid.New(), LeadID: leadID, Status: domain.ExecutionCompleted}},
	}, time.Now())
	if err == nil {
		t.Fatalf("expected the closed lead write to fail")
	}
	for _, statement := range q.statements {
		if strings.Contains(statement, "automation_executions") {
			t.Fatalf("ledger row must not be written once the batch failed: %q", q.statements)
		}
	}
}
