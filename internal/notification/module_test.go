package notification

import (
	"context"
	"testing"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/notification/sse"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

func newTestModule() *Module {
	return &Module{stream: sse.New(logger.Discard()), log: logger.Discard()}
}

func TestHandleForwardsTemperatureChange(t *testing.T) {
	m := newTestModule()
	ch, release := m.stream.Subscribe("dashboard")
	defer release()

	leadID := uuid.New()
	if err := m.Handle(context.Background(), events.LeadTemperatureChanged{LeadID: leadID, From: "cold", To: "hot"}); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	got := <-ch
	if got.Type != sse.EventTemperatureChanged || got.LeadID == nil || *got.LeadID != leadID {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.Message != "cold -> hot" {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestHandleForwardsJobCompletion(t *testing.T) {
	m := newTestModule()
	ch, release := m.stream.Subscribe("dashboard")
	defer release()

	_ = m.Handle(context.Background(), events.JobCompleted{Job: "sla", Processed: 4})

	got := <-ch
	done, ok := got.Data.(events.JobCompleted)
	if got.Type != sse.EventJobCompleted || !ok || done.Processed != 4 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestRegisterHandlersSubscribesEngineEvents(t *testing.T) {
	m := newTestModule()
	bus := events.NewInMemoryBus(logger.Discard())
	m.RegisterHandlers(bus)

	ch, release := m.stream.Subscribe("dashboard")
	defer release()

	if err := bus.PublishSync(context.Background(), events.LeadAssigned{LeadID: uuid.New(), AgentID: uuid.New()}); err != nil {
		t.Fatalf("PublishSync returned error: %v", err)
	}
	if got := <-ch; got.Type != sse.EventLeadAssigned {
		t.Fatalf("expected lead_assigned, got %s", got.Type)
	}
}
