// Package publisher keeps exactly one live webhook message per destination,
// creating it once and editing it in place afterwards.
package publisher

import (
	"context"
	"errors"
	"strings"

	"speedhook/internal/report"
	"speedhook/internal/webhook"
	logx "speedhook/pkg/logx"
)

// ErrUnconfigured is reported while the destination URL is unset or a placeholder.
var ErrUnconfigured = errors.New("webhook destination is not configured")

// Transport is the subset of webhook.Client the publisher needs.
type Transport interface {
	Create(ctx context.Context, webhookURL string, msg webhook.Message) (string, error)
	Edit(ctx context.Context, webhookURL, id string, msg webhook.Message) error
}

// Kind classifies one Publish call.
type Kind int

const (
	Unconfigured Kind = iota
	Created
	Edited
	Deleted
	Failed
)

func (k Kind) String() string {
	switch k {
	case Unconfigured:
		return "unconfigured"
	case Created:
		return "created"
	case Edited:
		return "edited"
	case Deleted:
		return "deleted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Publish call. Err is set for Failed and Unconfigured.
type Outcome struct {
	Kind      Kind
	MessageID string
	Err       error
}

// Publisher owns the identity of the published message.
//
// It is not safe for concurrent use; the monitor loop is its only caller.
type Publisher struct {
	transport   Transport
	destination string
	username    string
	avatarURL   string
	log         logx.Logger

	messageID string // empty while no message is known to exist
}

// Option customizes a Publisher.
type Option func(*Publisher)

func WithLogger(log logx.Logger) Option { return func(p *Publisher) { p.log = log } }

// WithIdentity sets the display name and avatar sent with every message.
func WithIdentity(username, avatarURL string) Option {
	return func(p *Publisher) {
		p.username = strings.TrimSpace(username)
		p.avatarURL = strings.TrimSpace(avatarURL)
	}
}

func New(transport Transport, destination string, opts ...Option) *Publisher {
	p := &Publisher{transport: transport, destination: strings.TrimSpace(destination), log: logx.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// MessageID returns the ID of the live message, or "" when none is held.
func (p *Publisher) MessageID() string { return p.messageID }

func (p *Publisher) Destination() string { return p.destination }

// SetDestination switches the webhook URL. A different URL forgets the held
// message ID, since IDs are only valid for the webhook that created them.
func (p *Publisher) SetDestination(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == p.destination {
		return
	}
	p.destination = raw
	if p.messageID != "" {
		p.log.Info("destination changed; next publish creates a new message", logx.String("previous_id", p.messageID))
		p.messageID = ""
	}
}

// Publish sends body, creating the message when no ID is held and editing it
// otherwise. Exactly one request is made per call, none when unconfigured.
func (p *Publisher) Publish(ctx context.Context, body report.Body) Outcome {
	if !webhook.Configured(p.destination) {
		return Outcome{Kind: Unconfigured, Err: ErrUnconfigured}
	}

	msg := webhook.Message{Username: p.username, AvatarURL: p.avatarURL, Embeds: []report.Body{body}}

	if p.messageID == "" {
		id, err := p.transport.Create(ctx, p.destination, msg)
		if err != nil {
			if errors.Is(err, webhook.ErrNoMessageID) {
				// Accepted: the orphaned message stays behind and the next cycle posts a new one.
				p.log.Warn("message created but id unreadable; next publish creates a new message", logx.Err(err))
			}
			return Outcome{Kind: Failed, Err: err}
		}
		p.messageID = id
		return Outcome{Kind: Created, MessageID: id}
	}

	id := p.messageID
	err := p.transport.Edit(ctx, p.destination, id, msg)
	switch {
	case err == nil:
		return Outcome{Kind: Edited, MessageID: id}
	case errors.Is(err, webhook.ErrNotFound):
		p.messageID = ""
		return Outcome{Kind: Deleted, MessageID: id}
	default:
		// Keep the ID: rate limits and 5xx are usually transient.
		return Outcome{Kind: Failed, MessageID: id, Err: err}
	}
}
