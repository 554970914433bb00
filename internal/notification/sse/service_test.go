package sse

import (
	"testing"

	"pipeline_backend/platform/logger"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	s := New(logger.Discard())
	first, releaseFirst := s.Subscribe("scheduler")
	defer releaseFirst()
	second, releaseSecond := s.Subscribe("dashboard")
	defer releaseSecond()

	s.Publish(Event{Type: EventJobCompleted, Message: "sla"})

	for _, ch := range []<-chan Event{first, second} {
		got := <-ch
		if got.Type != EventJobCompleted || got.Message != "sla" {
			t.Fatalf("unexpected event %+v", got)
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	s := New(logger.Discard())
	ch, release := s.Subscribe("slow")
	defer release()

	for i := 0; i < clientBuffer+5; i++ {
		s.Publish(Event{Type: EventLeadAssigned})
	}
	if len(ch) != clientBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", clientBuffer, len(ch))
	}
}

func TestReleaseRemovesClient(t *testing.T) {
	s := New(logger.Discard())
	_, release := s.Subscribe("dashboard")
	if s.Clients() != 1 {
		t.Fatalf("expected one client")
	}
	release()
	release()
	if s.Clients() != 0 {
		t.Fatalf("expected no clients after release")
	}
}

func TestCloseRefusesNewSubscribers(t *testing.T) {
	s := New(logger.Discard())
	ch, release := s.Subscribe("dashboard")
	s.Close()
	release()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed on shutdown")
	}
	if late, _ := s.Subscribe("late"); late != nil {
		t.Fatalf("closed service must refuse subscribers")
	}
}
