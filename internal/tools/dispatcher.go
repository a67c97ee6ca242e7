package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"voice-engine/internal/store"
)

// Result is a structured tool outcome. Every result carries "success";
// failures carry "error". Results are sent back to the model verbatim, so
// an invocation must always produce exactly one terminal result; an
// unanswered tool call stalls the model's turn indefinitely.
type Result map[string]any

// errValidation marks bad tool arguments or missing required context.
// It is converted to a failure Result at the dispatch boundary, never
// propagated to the transport layer.
var errValidation = errors.New("validation")

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// Dispatcher executes named tool invocations against a call-scoped context
// and the table store. It is stateless and safe for concurrent dispatches.
type Dispatcher struct {
	store store.Store
	log   *slog.Logger
}

func NewDispatcher(st store.Store, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: st, log: log}
}

// Dispatch runs one tool invocation. The second return is false for
// unknown tool names, which the caller logs and ignores (no result is sent
// upstream for tools that were never registered). All execution failures
// are converted to {success:false, error} results.
func (d *Dispatcher) Dispatch(ctx context.Context, cc CallContext, name string, args map[string]any) (Result, bool) {
	var (
		res Result
		err error
	)
	switch name {
	case NameSaveBooking:
		res, err = d.saveBooking(ctx, cc, args)
	case NameReportNoAvailability:
		res, err = d.reportNoAvailability(ctx, cc, args)
	case NameEndCall:
		res, err = d.endCall(ctx, cc, args)
	default:
		return nil, false
	}

	if err != nil {
		d.log.Error("tool execution failed", "tool", name, "call_id", cc.CallID, "err", err)
		return Result{"success": false, "error": err.Error()}, true
	}
	return res, true
}

func requireCallID(cc CallContext) error {
	if cc.CallID == "" {
		return fmt.Errorf("%w: no call_id available", errValidation)
	}
	return nil
}

// Argument readers tolerant of upstream payload drift: unknown or extra
// fields are ignored, absent fields fall back to zero values.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}
