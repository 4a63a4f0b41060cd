// Package notify pushes position lifecycle alerts to chat channels.
// Alerts go to every registered sender and can be filtered by event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Level drives how a sender decorates an alert.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Field is one labelled value rendered under the title.
type Field struct {
	Name  string
	Value string
}

// Message is a rendered alert.
type Message struct {
	Event  string
	Level  Level
	Title  string
	Fields []Field
}

// Text renders the fields as "name: value" lines.
func (m Message) Text() string {
	var b strings.Builder
	for i, f := range m.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans messages out to its senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. With a non-empty events list only those
// event names are delivered; LevelError messages always pass.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers msg unless its event is filtered out.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if n == nil || len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[msg.Event] && msg.Level < LevelError {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
