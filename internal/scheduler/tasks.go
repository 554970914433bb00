package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskAutomationRun = "automation.run"

const TaskFirstContactCheck = "automation.first_contact_check"

// TaskDispatchDeliver is consumed by the delivery worker on DeliveryQueue.
const TaskDispatchDeliver = "dispatch.deliver"

// DeliveryQueue is owned by the external delivery worker. This process only
// produces into it.
const DeliveryQueue = "dispatch"

type AutomationRunPayload struct {
	Job string `json:"job"`
}

type FirstContactCheckPayload struct {
	LeadID  string    `json:"leadId"`
	AgentID string    `json:"agentId"`
	DueAt   time.Time `json:"dueAt"`
}

type DispatchDeliverPayload struct {
	OutboxID  string `json:"outboxId"`
	LeadID    string `json:"leadId"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Attempt   int    `json:"attempt"`
}

func NewAutomationRunTask(payload AutomationRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutomationRun, data), nil
}

func ParseAutomationRunPayload(task *asynq.Task) (AutomationRunPayload, error) {
	var payload AutomationRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AutomationRunPayload{}, err
	}
	return payload, nil
}

func NewFirstContactCheckTask(payload FirstContactCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFirstContactCheck, data), nil
}

func ParseFirstContactCheckPayload(task *asynq.Task) (FirstContactCheckPayload, error) {
	var payload FirstContactCheckPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FirstContactCheckPayload{}, err
	}
	return payload, nil
}

func NewDispatchDeliverTask(payload DispatchDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDispatchDeliver, data), nil
}

func ParseDispatchDeliverPayload(task *asynq.Task) (DispatchDeliverPayload, error) {
	var payload DispatchDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DispatchDeliverPayload{}, err
	}
	return payload, nil
}
