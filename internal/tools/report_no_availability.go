package tools

import (
	"context"
	"fmt"

	"voice-engine/internal/store"
)

// reportNoAvailability records why the restaurant could not accommodate.
// The call is only marked failed when no alternative is worth pursuing;
// otherwise it stays ongoing so downstream orchestration can continue.
func (d *Dispatcher) reportNoAvailability(ctx context.Context, cc CallContext, args map[string]any) (Result, error) {
	if err := requireCallID(cc); err != nil {
		return nil, err
	}
	if d.store == nil {
		return nil, fmt.Errorf("store not available")
	}

	reason := argString(args, "reason")
	if reason == "" {
		reason = "Unknown reason"
	}
	alternative := argString(args, "alternative_offered")
	shouldTry := argBool(args, "should_try_alternative")

	failureReason := "No availability: " + reason
	if alternative != "" {
		failureReason += ". Alternative offered: " + alternative
	}

	patch := store.Record{"failure_reason": failureReason}
	if !shouldTry {
		patch["status"] = store.CallStatusFailed
	}
	if _, err := d.store.Update(ctx, store.TableCalls, patch, store.Filter{"id": cc.CallID}); err != nil {
		return nil, fmt.Errorf("record no availability: %w", err)
	}

	d.log.Info("no availability recorded",
		"call_id", cc.CallID, "reason", reason,
		"alternative", alternative, "should_try_alternative", shouldTry,
	)

	return Result{
		"success":                true,
		"reason":                 reason,
		"alternative_offered":    alternative,
		"should_try_alternative": shouldTry,
	}, nil
}
