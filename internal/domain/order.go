package domain

import "time"

// Status is the lifecycle state of an order. Transitions between statuses are
// owned by the lifecycle engine; everything else treats these as opaque labels.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusPickedUp  Status = "PICKED_UP"
	StatusDelivered Status = "DELIVERED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// ActiveStatuses are the states shown on the restaurant's live dashboard.
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusPreparing, StatusReady}

// TerminalStatuses permit no further transitions.
var TerminalStatuses = []Status{StatusDelivered, StatusRejected, StatusCancelled}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPreparing, StatusReady,
		StatusPickedUp, StatusDelivered, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusRejected || s == StatusCancelled
}

type Addon struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// OrderItem is a snapshot of a menu item at order time. Later menu edits never
// alter a placed order.
type OrderItem struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Addons     []Addon `json:"addons,omitempty"`
}

// DeliveryAddress is captured once at order time, geocoordinates included.
type DeliveryAddress struct {
	AddressLine1 string  `json:"address_line1"`
	AddressLine2 string  `json:"address_line2,omitempty"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	PostalCode   string  `json:"postal_code"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

// PartyInfo is the contact card attached to order snapshots sent to clients.
type PartyInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type Order struct {
	ID           string  `json:"id"`
	Number       string  `json:"order_number"`
	CustomerID   string  `json:"customer_id"`
	RestaurantID string  `json:"restaurant_id"`
	DriverID     *string `json:"driver_id,omitempty"`

	Items           []OrderItem     `json:"items"`
	Subtotal        float64         `json:"subtotal"`
	DeliveryFee     float64         `json:"delivery_fee"`
	PlatformFee     float64         `json:"platform_fee"`
	Tax             float64         `json:"tax"`
	Total           float64         `json:"total"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	PaymentMethod   string          `json:"payment_method"`
	CustomerNotes   string          `json:"customer_notes,omitempty"`

	Status Status `json:"status"`

	PlacedAt    time.Time  `json:"placed_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	EstimatedPrepTime     *int       `json:"estimated_prep_time,omitempty"` // minutes
	EstimatedDeliveryTime *time.Time `json:"estimated_delivery_time,omitempty"`

	// Contact cards resolved from the directory for client-facing snapshots.
	Restaurant *PartyInfo `json:"restaurant,omitempty"`
	Customer   *PartyInfo `json:"customer,omitempty"`
	Driver     *PartyInfo `json:"driver,omitempty"`
}

// StatusHistoryEntry is one row of the append-only transition log. Rows are
// never updated or deleted.
type StatusHistoryEntry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RestaurantEarning is written exactly once per order, on the READY transition.
type RestaurantEarning struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	OrderID      string    `json:"order_id"`
	GrossAmount  float64   `json:"gross_amount"`
	Commission   float64   `json:"commission"`
	NetAmount    float64   `json:"net_amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// Restaurant is the directory record resolving an authenticated user to the
// restaurant it owns.
type Restaurant struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Timezone string `json:"timezone"` // IANA name, empty means UTC
}

// Customer is the directory record resolving an authenticated user to its
// customer profile.
type Customer struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

// MenuItem is the read-only catalog record consulted when pricing a new order.
type MenuItem struct {
	ID           string  `json:"id"`
	RestaurantID string  `json:"restaurant_id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Available    bool    `json:"available"`
}
