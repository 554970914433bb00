// Package notification exposes the agent notifications written by the
// automation engine and streams engine events to connected dashboards.
package notification

import (
	"context"

	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/internal/notification/handler"
	"pipeline_backend/internal/notification/inapp"
	"pipeline_backend/internal/notification/sse"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the notification bounded context module implementing http.Module.
type Module struct {
	inApp   *inapp.Repository
	stream  *sse.Service
	handler *handler.HTTPHandler
	log     *logger.Logger
}

func New(pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger) *Module {
	repo := inapp.NewRepository(pool)
	stream := sse.New(log)
	return &Module{
		inApp:   repo,
		stream:  stream,
		handler: handler.NewHTTPHandler(repo, val, stream.Handler()),
		log:     log,
	}
}

func (m *Module) Name() string { return "notification" }

// RegisterRoutes mounts notification routes under the service-token group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/notifications"))
}

// InApp returns the notification store. It doubles as the alert lookup used
// by the first-contact check.
func (m *Module) InApp() *inapp.Repository { return m.inApp }

// Stream returns the SSE fan-out.
func (m *Module) Stream() *sse.Service { return m.stream }

// RegisterHandlers subscribes to the engine events that dashboards follow.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.JobCompleted{}.EventName(), m)
	bus.Subscribe(events.LeadAssigned{}.EventName(), m)
	bus.Subscribe(events.LeadTemperatureChanged{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the stream.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.JobCompleted:
		m.stream.Publish(sse.Event{Type: sse.EventJobCompleted, Data: e})
	case events.LeadAssigned:
		leadID := e.LeadID
		m.stream.Publish(sse.Event{Type: sse.EventLeadAssigned, LeadID: &leadID, Data: e})
	case events.LeadTemperatureChanged:
		leadID := e.LeadID
		m.stream.Publish(sse.Event{
			Type:    sse.EventTemperatureChanged,
			LeadID:  &leadID,
			Message: e.From + " -> " + e.To,
			Data:    e,
		})
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
	}
	return nil
}

// Close disconnects open streams.
func (m *Module) Close() { m.stream.Close() }

var _ apphttp.Module = (*Module)(nil)
