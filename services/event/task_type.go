package event

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TypeProcessEvent = "github:event:process"

// ProcessEventPayload carries only the stored event's identifier, never the
// raw webhook body; reprocessing re-reads the canonical stored payload.
type ProcessEventPayload struct {
	EventID string `json:"event_id"`
}

func NewProcessEventTask(eventID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessEventPayload{EventID: eventID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessEvent, payload), nil
}
