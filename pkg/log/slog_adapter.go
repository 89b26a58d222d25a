package log

import (
	"context"
	"log/slog"
	"strings"
)

// SlogAdapter writes broker events to an slog.Logger at Debug level.
// Handy during development to watch subscriptions and commits on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.Layer == LayerTransport || event.Layer == LayerWire {
		attrs = append(attrs, slog.String("direction", event.Direction.String()))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.Uint64("msg_id", uint64(event.Message.MessageID)),
			slog.String("msg_type", event.Message.Type.String()),
		)
		if event.Message.Operation != nil {
			attrs = append(attrs, slog.String("operation", event.Message.Operation.String()))
		}
		if event.Message.Status != nil {
			attrs = append(attrs, slog.String("status", event.Message.Status.String()))
		}
		if len(event.Message.Keys) > 0 {
			attrs = append(attrs, keysAttr("keys", event.Message.Keys))
		}
		if event.Message.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("processing_time", *event.Message.ProcessingTime))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
		if len(event.StateChange.Keys) > 0 {
			attrs = append(attrs, keysAttr("keys", event.StateChange.Keys))
		}
	case event.ControlMsg != nil:
		attrs = append(attrs, slog.String("ctrl_type", event.ControlMsg.Type.String()))
	case event.Subscription != nil:
		attrs = append(attrs,
			slog.String("action", event.Subscription.Action.String()),
			keysAttr("keys", event.Subscription.Keys),
		)
		if len(event.Subscription.FirstSubscribed) > 0 {
			attrs = append(attrs, keysAttr("first_subscribed", event.Subscription.FirstSubscribed))
		}
		if len(event.Subscription.LastUnsubscribed) > 0 {
			attrs = append(attrs, keysAttr("last_unsubscribed", event.Subscription.LastUnsubscribed))
		}
	case event.Commit != nil:
		attrs = append(attrs,
			slog.Bool("accepted", event.Commit.Accepted),
			keysAttr("changed", event.Commit.Changed),
			keysAttr("undetermined", event.Commit.Undetermined),
			slog.Int("notified", event.Commit.Notified),
		)
		if len(event.Commit.InvalidKeys) > 0 {
			attrs = append(attrs, keysAttr("invalid", event.Commit.InvalidKeys))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "contextd", attrs...)
}

func keysAttr(name string, keys []string) slog.Attr {
	return slog.String(name, strings.Join(keys, ","))
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
