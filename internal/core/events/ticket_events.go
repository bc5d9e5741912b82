package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeTicketSubmitted   = "ticket.submitted"
	EventTypeTicketNodeEntered = "ticket.node_entered"
	EventTypeTicketApproved    = "ticket.approved"
	EventTypeTicketRejected    = "ticket.rejected"
	EventTypeTicketProcessing  = "ticket.processing"
	EventTypeTicketCompleted   = "ticket.completed"
	EventTypeTicketCancelled   = "ticket.cancelled"
	EventTypeTicketCC          = "ticket.cc"
)

// TicketEventTypes lists every ticket lifecycle event, for subscribers that want all of them.
var TicketEventTypes = []string{
	EventTypeTicketSubmitted,
	EventTypeTicketNodeEntered,
	EventTypeTicketApproved,
	EventTypeTicketRejected,
	EventTypeTicketProcessing,
	EventTypeTicketCompleted,
	EventTypeTicketCancelled,
	EventTypeTicketCC,
}

type TicketEvent struct {
	BaseEvent
	TicketID   int64   `json:"ticket_id"`
	TicketNo   string  `json:"ticket_no"`
	Title      string  `json:"title"`
	CreatorID  int64   `json:"creator_id"`
	ActorID    int64   `json:"actor_id"`
	NodeID     int64   `json:"node_id,omitempty"`
	NodeName   string  `json:"node_name,omitempty"`
	Status     string  `json:"status"`
	Recipients []int64 `json:"recipients,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

func NewTicketEvent(eventType string, ev TicketEvent) *TicketEvent {
	ev.BaseEvent = BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
	return &ev
}
