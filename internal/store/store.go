package store

import (
	"context"
	"errors"
)

// Store is the narrow table-oriented persistence interface used by the
// voice pipeline. The pipeline never issues raw queries; everything it
// needs is covered by these three operations against the calls,
// reservations, reservation_requests, restaurants and users tables.
//
// Implementations must be safe for concurrent use: many media sessions
// share one Store.
type Store interface {
	// Insert adds a record and returns it with any generated columns
	// (id, created_at) populated.
	Insert(ctx context.Context, table string, rec Record) (Record, error)

	// Update patches all records matching filter and returns them.
	Update(ctx context.Context, table string, patch Record, filter Filter) ([]Record, error)

	// Select returns all records matching filter.
	Select(ctx context.Context, table string, filter Filter) ([]Record, error)
}

// Record is one table row keyed by column name.
type Record map[string]any

// Filter is a conjunction of column equality constraints.
type Filter map[string]any

// ErrNoRows indicates an operation that required a matching row found none.
var ErrNoRows = errors.New("store: no matching rows")

// Table names used by the voice pipeline.
const (
	TableCalls               = "calls"
	TableReservations        = "reservations"
	TableReservationRequests = "reservation_requests"
	TableRestaurants         = "restaurants"
	TableUsers               = "users"
)

// Call statuses. Transitions only move forward: ongoing is the creation
// state and completed/failed are terminal.
const (
	CallStatusOngoing   = "ongoing"
	CallStatusCompleted = "completed"
	CallStatusFailed    = "failed"
)

// Reservation request statuses touched by this service.
const (
	RequestStatusPending    = "pending"
	RequestStatusCalling    = "calling"
	RequestStatusInProgress = "in_progress"
	RequestStatusCompleted  = "completed"
)

// String reads a string column from a record, tolerating absent or
// non-string values.
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}
