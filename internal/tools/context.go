package tools

// CallContext is the immutable per-call bundle passed into every tool
// invocation. Inbound calls carry only the call id; outbound calls
// populate the correlation fields from the initiating request.
type CallContext struct {
	CallID         string
	RequestID      string
	RestaurantID   string
	RestaurantName string
	UserID         string
}
