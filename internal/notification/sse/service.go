// Package sse streams engine activity to connected dashboards as Server-Sent Events.
package sse

import (
	"encoding/json"
	"sync"

	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventJobCompleted       EventType = "job_completed"
	EventLeadAssigned       EventType = "lead_assigned"
	EventTemperatureChanged EventType = "temperature_changed"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type    EventType   `json:"type"`
	LeadID  *uuid.UUID  `json:"leadId,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type client struct {
	id      uuid.UUID
	subject string
	events  chan Event
}

// Service fans engine events out to every connected client.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	closed  bool
	log     *logger.Logger
}

func New(log *logger.Logger) *Service {
	return &Service{clients: make(map[uuid.UUID]*client), log: log}
}

func (s *Service) addClient(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)
	close(c.events)
}

// Subscribe registers a listener and returns its event channel and a release
// func. The channel is nil when the service is closed.
func (s *Service) Subscribe(subject string) (<-chan Event, func()) {
	cl := &client{id: uuid.New(), subject: subject, events: make(chan Event, clientBuffer)}
	if !s.addClient(cl) {
		return nil, func() {}
	}
	return cl.events, func() { s.removeClient(cl) }
}

// Clients reports how many streams are open.
func (s *Service) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Publish delivers an event to every client. Slow clients drop events instead
// of blocking the publisher.
func (s *Service) Publish(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse buffer full, event dropped", "subject", c.subject, "type", string(event.Type))
		}
	}
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := httpkit.GetCaller(c)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		subject := caller.Subject()
		stream, release := s.Subscribe(subject)
		if stream == nil {
			return
		}
		defer release()

		c.SSEvent("connected", gin.H{"subject": subject})
		c.Writer.Flush()
		s.log.Debug("sse client connected", "subject", subject)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("sse client disconnected", "subject", subject)
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, c := range s.clients {
		close(c.events)
		delete(s.clients, id)
	}
}
