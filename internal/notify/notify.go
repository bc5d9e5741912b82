// Package notify delivers ticket notifications over email, chat robot webhooks and the log.
package notify

import (
	"context"
	"errors"

	"github.com/frahmantamala/ssoflow/internal/sysconfig"
)

const (
	ChannelEmail    = "email"
	ChannelDingTalk = "dingtalk"
	ChannelWeChat   = "wechat"
	ChannelLog      = "log"
)

var (
	ErrQueueFull          = errors.New("notification queue is full")
	ErrChannelUnavailable = errors.New("notification channel is not configured")
	ErrNoRecipients       = errors.New("notification has no recipients")
)

// Message is one delivery on one channel. To holds email addresses for email and is informational for robots.
type Message struct {
	Channel string
	To      []string
	Subject string
	Body    string
	// Ref identifies the source of the message in logs, e.g. a ticket number.
	Ref string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Settings reads the runtime channel configuration. Implemented by sysconfig.Service.
type Settings interface {
	Email(ctx context.Context) (*sysconfig.EmailSettings, error)
	Notify(ctx context.Context) (*sysconfig.NotifySettings, error)
}
