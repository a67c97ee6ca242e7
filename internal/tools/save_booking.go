package tools

import (
	"context"
	"fmt"

	"voice-engine/internal/store"
)

// saveBooking persists a confirmed reservation, advances the call to
// completed and, when the call belongs to a reservation request, advances
// the request too.
func (d *Dispatcher) saveBooking(ctx context.Context, cc CallContext, args map[string]any) (Result, error) {
	if err := requireCallID(cc); err != nil {
		return nil, err
	}
	if d.store == nil {
		return nil, fmt.Errorf("store not available")
	}

	confirmedDate := argString(args, "confirmed_date")
	confirmedTime := argString(args, "confirmed_time")
	if !dateRe.MatchString(confirmedDate) || !timeRe.MatchString(confirmedTime) {
		return nil, fmt.Errorf("%w: Invalid date/time format: expected YYYY-MM-DD and 24-hour HH:MM, got %q %q",
			errValidation, confirmedDate, confirmedTime)
	}
	partySize := argInt(args, "party_size")
	if partySize <= 0 {
		return nil, fmt.Errorf("%w: party_size must be a positive integer", errValidation)
	}

	restaurantName := d.resolveRestaurantName(ctx, cc)

	reservation := store.Record{
		"call_id":         cc.CallID,
		"restaurant_name": restaurantName,
		"party_size":      partySize,
		"confirmed_date":  confirmedDate,
		"confirmed_time":  confirmedTime,
		"status":          "confirmed",
	}
	if code := argString(args, "confirmation_code"); code != "" {
		reservation["confirmation_code"] = code
	}
	if notes := argString(args, "notes"); notes != "" {
		reservation["notes"] = notes
	}
	if cc.RequestID != "" {
		reservation["request_id"] = cc.RequestID
	}
	if cc.RestaurantID != "" {
		reservation["restaurant_id"] = cc.RestaurantID
	}
	if cc.UserID != "" {
		reservation["user_id"] = cc.UserID
	}

	saved, err := d.store.Insert(ctx, store.TableReservations, reservation)
	if err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}

	if _, err := d.store.Update(ctx, store.TableCalls,
		store.Record{"status": store.CallStatusCompleted},
		store.Filter{"id": cc.CallID},
	); err != nil {
		return nil, fmt.Errorf("mark call completed: %w", err)
	}

	if cc.RequestID != "" {
		if _, err := d.store.Update(ctx, store.TableReservationRequests,
			store.Record{"status": store.RequestStatusCompleted},
			store.Filter{"id": cc.RequestID},
		); err != nil {
			// Reservation is saved; a stale request status is recoverable.
			d.log.Error("mark request completed failed", "request_id", cc.RequestID, "err", err)
		}
	}

	d.log.Info("booking saved",
		"call_id", cc.CallID,
		"reservation_id", saved.String("id"),
		"restaurant", restaurantName,
		"date", confirmedDate, "time", confirmedTime, "party_size", partySize,
	)

	return Result{
		"success":        true,
		"reservation_id": saved.String("id"),
		"message": fmt.Sprintf("Reservation confirmed at %s for %d on %s at %s",
			restaurantName, partySize, confirmedDate, confirmedTime),
	}, nil
}

// resolveRestaurantName prefers the context's name, then a lookup by id,
// then a sentinel.
func (d *Dispatcher) resolveRestaurantName(ctx context.Context, cc CallContext) string {
	if cc.RestaurantName != "" {
		return cc.RestaurantName
	}
	if cc.RestaurantID != "" && d.store != nil {
		rows, err := d.store.Select(ctx, store.TableRestaurants, store.Filter{"id": cc.RestaurantID})
		if err != nil {
			d.log.Warn("restaurant lookup failed", "restaurant_id", cc.RestaurantID, "err", err)
		} else if len(rows) > 0 {
			if name := rows[0].String("name"); name != "" {
				return name
			}
		}
	}
	return "Unknown"
}
