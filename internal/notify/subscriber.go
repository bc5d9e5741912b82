package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frahmantamala/ssoflow/internal/core/events"
	"github.com/frahmantamala/ssoflow/internal/identity"
)

type Enqueuer interface {
	Enqueue(msg Message) error
}

type Directory interface {
	GetUsersByIDs(ctx context.Context, ids []int64) ([]*identity.User, error)
}

// LogSender writes messages to the application log. It is the fallback channel.
func LogSender(logger *slog.Logger) Sender {
	return SenderFunc(func(_ context.Context, msg Message) error {
		logger.Info("notification",
			"ref", msg.Ref,
			"to", msg.To,
			"subject", msg.Subject,
			"body", msg.Body)
		return nil
	})
}

// Subscriber turns ticket lifecycle events into messages on the configured channels.
type Subscriber struct {
	queue       Enqueuer
	settings    Settings
	users       Directory
	frontendURL string
	logger      *slog.Logger
}

func NewSubscriber(queue Enqueuer, settings Settings, users Directory, frontendURL string, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		queue:       queue,
		settings:    settings,
		users:       users,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

func (s *Subscriber) RegisterEventHandlers(bus *events.EventBus) {
	bus.Subscribe(s.HandleTicketEvent, events.TicketEventTypes...)
	s.logger.Info("notification event handlers registered", "handlers", events.TicketEventTypes)
}

// HandleTicketEvent never fails the publisher: delivery problems are logged.
func (s *Subscriber) HandleTicketEvent(ctx context.Context, event events.Event) error {
	ev, ok := event.(*events.TicketEvent)
	if !ok {
		return fmt.Errorf("expected TicketEvent, got %T", event)
	}
	if len(ev.Recipients) == 0 {
		return nil
	}
	subject, body := s.render(ev)
	if subject == "" {
		return nil
	}

	users, err := s.users.GetUsersByIDs(ctx, ev.Recipients)
	if err != nil {
		s.logger.Error("failed to load notification recipients", "ticket_id", ev.TicketID, "error", err)
		return nil
	}
	var emails, names []string
	for _, u := range users {
		if !u.Enabled() {
			continue
		}
		if u.Email != "" {
			emails = append(emails, u.Email)
		}
		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		names = append(names, name)
	}

	for _, channel := range s.channels(ctx) {
		msg := Message{Channel: channel, Subject: subject, Body: body, Ref: ev.TicketNo}
		switch channel {
		case ChannelEmail:
			if len(emails) == 0 {
				continue
			}
			msg.To = emails
		default:
			msg.To = names
		}
		if err := s.queue.Enqueue(msg); err != nil {
			s.logger.Warn("notification not queued", "channel", channel, "ticket_id", ev.TicketID, "event_type", ev.EventType(), "error", err)
		}
	}
	return nil
}

// channels falls back to the log when nothing is configured.
func (s *Subscriber) channels(ctx context.Context) []string {
	cfg, err := s.settings.Notify(ctx)
	if err != nil {
		s.logger.Warn("failed to load notify settings, using log channel", "error", err)
		return []string{ChannelLog}
	}
	if len(cfg.Channels) == 0 {
		return []string{ChannelLog}
	}
	return cfg.Channels
}

func (s *Subscriber) render(ev *events.TicketEvent) (string, string) {
	head := fmt.Sprintf("[%s] %s", ev.TicketNo, ev.Title)
	var subject, body string
	switch ev.EventType() {
	case events.EventTypeTicketNodeEntered:
		subject = "Approval required: " + head
		body = fmt.Sprintf("Ticket %s is waiting for your decision at %q.", ev.TicketNo, ev.NodeName)
	case events.EventTypeTicketCC:
		subject = "For your information: " + head
		body = fmt.Sprintf("You were copied on ticket %s at %q.", ev.TicketNo, ev.NodeName)
	case events.EventTypeTicketApproved:
		subject = "Approved: " + head
		body = fmt.Sprintf("Ticket %s was approved.", ev.TicketNo)
	case events.EventTypeTicketRejected:
		subject = "Rejected: " + head
		body = fmt.Sprintf("Ticket %s was rejected at %q.", ev.TicketNo, ev.NodeName)
		if ev.Comment != "" {
			body += "\nComment: " + ev.Comment
		}
	case events.EventTypeTicketProcessing:
		subject = "In progress: " + head
		body = fmt.Sprintf("Ticket %s is being processed.", ev.TicketNo)
	case events.EventTypeTicketCompleted:
		subject = "Completed: " + head
		body = fmt.Sprintf("Ticket %s was completed.", ev.TicketNo)
	case events.EventTypeTicketCancelled:
		subject = "Cancelled: " + head
		body = fmt.Sprintf("Ticket %s was cancelled by its creator.", ev.TicketNo)
	default:
		return "", ""
	}
	if s.frontendURL != "" {
		body += fmt.Sprintf("\n\n%s/tickets/%d", s.frontendURL, ev.TicketID)
	}
	return subject, body
}
