package tools

import (
	"context"
	"fmt"

	"voice-engine/internal/store"
)

// endCall records a graceful hang-up with no booking.
func (d *Dispatcher) endCall(ctx context.Context, cc CallContext, args map[string]any) (Result, error) {
	if err := requireCallID(cc); err != nil {
		return nil, err
	}
	if d.store == nil {
		return nil, fmt.Errorf("store not available")
	}

	reason := argString(args, "reason")
	if reason == "" {
		reason = "Call ended"
	}
	summary := argString(args, "call_summary")

	patch := store.Record{
		"status":         store.CallStatusFailed,
		"failure_reason": reason,
	}
	if summary != "" {
		patch["transcript_summary"] = summary
	}
	if _, err := d.store.Update(ctx, store.TableCalls, patch, store.Filter{"id": cc.CallID}); err != nil {
		return nil, fmt.Errorf("record call end: %w", err)
	}

	d.log.Info("call ended by model", "call_id", cc.CallID, "reason", reason)

	return Result{
		"success":      true,
		"reason":       reason,
		"call_summary": summary,
	}, nil
}
