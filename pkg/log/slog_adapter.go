package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.SrcPhy != 0 {
		attrs = append(attrs, slog.Uint64("src_phy", uint64(event.SrcPhy)))
	}
	if event.DstPhy != 0 {
		attrs = append(attrs, slog.Uint64("dst_phy", uint64(event.DstPhy)))
	}

	switch {
	case event.Packet != nil:
		attrs = append(attrs,
			slog.String("opcode", event.Packet.Opcode.String()),
			slog.Uint64("src_port", uint64(event.Packet.SrcPort)),
			slog.Uint64("dst_port", uint64(event.Packet.DstPort)),
			slog.Int("size", event.Packet.Size),
		)
	case event.Subscription != nil:
		attrs = append(attrs,
			slog.Uint64("port", uint64(event.Subscription.Port)),
			slog.Uint64("sub_id", uint64(event.Subscription.SubscriptionID)),
			slog.Uint64("action_id", uint64(event.Subscription.ActionID)),
			slog.String("change", event.Subscription.Change),
		)
	case event.State != nil:
		attrs = append(attrs, slog.String("what", event.State.What))
		if event.State.Port != 0 {
			attrs = append(attrs, slog.Uint64("port", uint64(event.State.Port)))
		}
		if event.State.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.State.Detail))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
