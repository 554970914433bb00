package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Channel is an outbound dispatch channel.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// UsesPhone reports whether recipients on this channel are phone numbers.
func (c Channel) UsesPhone() bool {
	return c == ChannelWhatsApp || c == ChannelSMS
}

// MessageTemplate is a reusable outbound message body.
type MessageTemplate struct {
	ID      uuid.UUID
	Name    string
	Channel Channel
	Body    string
}

// CadenceStep is one outreach message sent DayOffset days after stage entry.
type CadenceStep struct {
	ID         uuid.UUID
	Position   int
	DayOffset  int
	Channel    Channel
	TemplateID *uuid.UUID
	Body       string
}

// Key identifies the step within its cadence for ledger lookups.
func (s CadenceStep) Key() string {
	return fmt.Sprintf("day:%d:%s", s.DayOffset, s.Channel)
}

// Cadence is an ordered list of day-offset steps scoped to a pipeline or stage.
type Cadence struct {
	ID         uuid.UUID
	Name       string
	PipelineID *uuid.UUID
	StageID    *uuid.UUID
	Active     bool
	Steps      []CadenceStep
}

// InScope reports whether the lead falls within the cadence scope.
func (c Cadence) InScope(lead Lead) bool {
	if c.PipelineID != nil && *c.PipelineID != lead.PipelineID {
		return false
	}
	if c.StageID != nil && *c.StageID != lead.StageID {
		return false
	}
	return true
}

// Validate checks step offsets, channels and message sources.
func (c Cadence) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("cadence name is required")
	}
	seen := make(map[string]struct{}, len(c.Steps))
	for _, step := range c.Steps {
		if step.DayOffset < 0 {
			return fmt.Errorf("cadence %q: day_offset must not be negative", c.Name)
		}
		switch step.Channel {
		case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		default:
			return fmt.Errorf("cadence %q: unknown channel %q", c.Name, step.Channel)
		}
		if step.TemplateID == nil && strings.TrimSpace(step.Body) == "" {
			return fmt.Errorf("cadence %q: step on day %d needs a body or template", c.Name, step.DayOffset)
		}
		if _, dup := seen[step.Key()]; dup {
			return fmt.Errorf("cadence %q: duplicate step %s", c.Name, step.Key())
		}
		seen[step.Key()] = struct{}{}
	}
	return nil
}
