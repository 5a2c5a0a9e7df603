package domain

import "time"

// EventKind names a lifecycle event published by the engine and delivered
// verbatim to the interested rooms.
type EventKind string

const (
	// EventOrderNew goes to the restaurant room of the order's restaurant.
	EventOrderNew EventKind = "order:new"
	// EventOrderUpdate goes to the customer room on any status change.
	EventOrderUpdate EventKind = "order:update"
	// EventOrderAccepted goes to the customer room on PENDING -> ACCEPTED.
	EventOrderAccepted EventKind = "order:accepted"
	// EventOrderReady goes to the driver room (reserved for dispatch).
	EventOrderReady EventKind = "order:ready"
)

// Event is the payload put on the wire after a transition commits. The order
// snapshot is the full current order; rooms receive it as-is.
type Event struct {
	Kind         EventKind `json:"kind"`
	OrderID      string    `json:"order_id"`
	RestaurantID string    `json:"restaurant_id"`
	CustomerID   string    `json:"customer_id"`
	DriverID     string    `json:"driver_id,omitempty"`
	Order        *Order    `json:"order"`
	OccurredAt   time.Time `json:"occurred_at"`
}
