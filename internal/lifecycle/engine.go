// Package lifecycle validates and applies order state transitions.
//
// The engine holds no locks across store calls; correctness under concurrent
// actors comes from the store's conditional writes. Two racing transitions on
// the same order produce exactly one success, the loser sees a Conflict with
// the actual current status.
package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"feastline/internal/domain"
	"feastline/internal/ledger"
	"feastline/internal/store"
	"feastline/pkg/logger"
)

// deliveryAllowance is the fixed courier allowance added to the restaurant's
// prep estimate when computing the estimated delivery time.
const deliveryAllowance = 20 * time.Minute

const (
	minPrepMinutes = 5
	maxPrepMinutes = 120
)

// OrderStore is the durable order repository consumed by the engine.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *domain.Order, changedBy string) error
	ApplyTransition(ctx context.Context, orderID string, tr store.Transition) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	History(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error)
	ActiveOrders(ctx context.Context, restaurantID string) ([]domain.Order, error)
	RestaurantOrders(ctx context.Context, restaurantID string, status *domain.Status) ([]domain.Order, error)
	TerminalOrders(ctx context.Context, restaurantID string, page, limit int) ([]domain.Order, int, error)
}

// Directory resolves authenticated users to their domain-role records.
type Directory interface {
	RestaurantByUser(ctx context.Context, userID string) (*domain.Restaurant, error)
	RestaurantByID(ctx context.Context, id string) (*domain.Restaurant, error)
	CustomerByUser(ctx context.Context, userID string) (*domain.Customer, error)
	CustomerByID(ctx context.Context, id string) (*domain.Customer, error)
}

// MenuSource supplies the catalog snapshot used to verify line items at order
// creation. May be nil, in which case client-supplied items are trusted.
type MenuSource interface {
	Snapshot(ctx context.Context, restaurantID string) ([]domain.MenuItem, error)
}

// Publisher puts lifecycle events on the wire. Publish runs strictly after the
// store commit; its failures are logged, never escalated.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type Engine struct {
	orders    OrderStore
	directory Directory
	menu      MenuSource
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time
}

func NewEngine(orders OrderStore, directory Directory, menu MenuSource, publisher Publisher, log *logger.Logger) *Engine {
	return &Engine{
		orders:    orders,
		directory: directory,
		menu:      menu,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

type CreateOrderInput struct {
	RestaurantID    string                 `json:"restaurant_id"`
	Items           []domain.OrderItem     `json:"items"`
	Subtotal        float64                `json:"subtotal"`
	DeliveryFee     float64                `json:"delivery_fee"`
	Total           float64                `json:"total"`
	DeliveryAddress domain.DeliveryAddress `json:"delivery_address"`
	PaymentMethod   string                 `json:"payment_method"`
	CustomerNotes   string                 `json:"customer_notes"`
}

// Create places a new PENDING order for the customer behind userID. Platform
// fee and tax are derived here and frozen into the order.
func (e *Engine) Create(ctx context.Context, userID string, in CreateOrderInput) (*domain.Order, error) {
	customer, err := e.directory.CustomerByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := e.directory.RestaurantByID(ctx, in.RestaurantID); err != nil {
		return nil, err
	}
	if err := e.validateCreate(ctx, in); err != nil {
		return nil, err
	}

	platformFee := ledger.PlatformFee(in.Subtotal)
	tax := ledger.Tax(in.Subtotal)
	if !ledger.TotalMatches(in.Total, in.Subtotal, in.DeliveryFee, platformFee, tax) {
		return nil, domain.Invalid("total %.2f does not match subtotal+delivery_fee+platform_fee+tax %.2f",
			in.Total, in.Subtotal+in.DeliveryFee+platformFee+tax)
	}

	now := e.now().UTC()
	order := &domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      customer.ID,
		RestaurantID:    in.RestaurantID,
		Items:           in.Items,
		Subtotal:        in.Subtotal,
		DeliveryFee:     in.DeliveryFee,
		PlatformFee:     platformFee,
		Tax:             tax,
		Total:           in.Total,
		DeliveryAddress: in.DeliveryAddress,
		PaymentMethod:   in.PaymentMethod,
		CustomerNotes:   in.CustomerNotes,
		Status:          domain.StatusPending,
		PlacedAt:        now,
	}

	// Number clashes are near-impossible but cheap to retry.
	for attempt := 0; ; attempt++ {
		order.Number = newOrderNumber(e.now())
		err = e.orders.CreateOrder(ctx, order, userID)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrNumberTaken) && attempt < 2 {
			continue
		}
		return nil, err
	}

	e.attachParties(ctx, order)
	e.publish(ctx, domain.EventOrderNew, order)
	return order, nil
}

func (e *Engine) validateCreate(ctx context.Context, in CreateOrderInput) error {
	if len(in.Items) == 0 {
		return domain.Invalid("order must contain at least one item")
	}
	for i, item := range in.Items {
		if item.MenuItemID == "" || item.Name == "" {
			return domain.Invalid("item %d: menu_item_id and name are required", i+1)
		}
		if item.Quantity <= 0 {
			return domain.Invalid("item %d: quantity must be positive", i+1)
		}
		if item.Price < 0 {
			return domain.Invalid("item %d: price must be non-negative", i+1)
		}
	}
	if in.Subtotal < 0 || in.DeliveryFee < 0 || in.Total < 0 {
		return domain.Invalid("amounts must be non-negative")
	}
	if in.PaymentMethod == "" {
		return domain.Invalid("payment_method is required")
	}
	return e.verifyAgainstMenu(ctx, in)
}

// verifyAgainstMenu cross-checks line items with the catalog snapshot. A
// failing snapshot lookup only logs: the store of record is the snapshot in
// the order itself, and order intake must not depend on the cache being up.
func (e *Engine) verifyAgainstMenu(ctx context.Context, in CreateOrderInput) error {
	if e.menu == nil {
		return nil
	}
	items, err := e.menu.Snapshot(ctx, in.RestaurantID)
	if err != nil {
		e.log.Action("menu_snapshot_failed").Error("skipping menu verification", err, "restaurant_id", in.RestaurantID)
		return nil
	}
	byID := make(map[string]domain.MenuItem, len(items))
	for _, m := range items {
		byID[m.ID] = m
	}
	for i, item := range in.Items {
		m, ok := byID[item.MenuItemID]
		if !ok {
			return domain.Invalid("item %d: menu item %s is not available", i+1, item.MenuItemID)
		}
		if !ledger.TotalMatches(item.Price, m.Price, 0, 0, 0) {
			return domain.Invalid("item %d: price %.2f does not match menu price %.2f", i+1, item.Price, m.Price)
		}
	}
	return nil
}

// Accept moves a PENDING order to ACCEPTED on behalf of the owning restaurant
// and records the prep estimate.
func (e *Engine) Accept(ctx context.Context, userID, orderID string, prepMinutes int) (*domain.Order, error) {
	if prepMinutes < minPrepMinutes || prepMinutes > maxPrepMinutes {
		return nil, domain.Invalid("estimated_prep_time must be between %d and %d minutes", minPrepMinutes, maxPrepMinutes)
	}
	if _, err := e.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	eta := now.Add(time.Duration(prepMinutes)*time.Minute + deliveryAllowance)
	updated, err := e.orders.ApplyTransition(ctx, orderID, store.Transition{
		To:                    domain.StatusAccepted,
		Expected:              []domain.Status{domain.StatusPending},
		ChangedBy:             userID,
		Notes:                 notesPrepTime(prepMinutes),
		AcceptedAt:            &now,
		EstimatedPrepTime:     &prepMinutes,
		EstimatedDeliveryTime: &eta,
	})
	if err != nil {
		return nil, err
	}

	e.attachParties(ctx, updated)
	e.publish(ctx, domain.EventOrderAccepted, updated)
	e.publish(ctx, domain.EventOrderUpdate, updated)
	return updated, nil
}

// Reject declines a PENDING order.
func (e *Engine) Reject(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	if _, err := e.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	updated, err := e.orders.ApplyTransition(ctx, orderID, store.Transition{
		To:          domain.StatusRejected,
		Expected:    []domain.Status{domain.StatusPending},
		ChangedBy:   userID,
		CancelledAt: &now,
	})
	if err != nil {
		return nil, err
	}

	e.attachParties(ctx, updated)
	e.publish(ctx, domain.EventOrderUpdate, updated)
	return updated, nil
}

// MarkReady moves an ACCEPTED or PREPARING order to READY and records the
// restaurant earning. The earning insert rides the same transaction as the
// conditional status update, so a duplicate or concurrent call cannot fire it
// twice: the loser gets a Conflict.
func (e *Engine) MarkReady(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := e.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	updated, err := e.orders.ApplyTransition(ctx, orderID, store.Transition{
		To:        domain.StatusReady,
		Expected:  []domain.Status{domain.StatusAccepted, domain.StatusPreparing},
		ChangedBy: userID,
		ReadyAt:   &now,
		Earning:   ledger.EarningFor(order),
	})
	if err != nil {
		return nil, err
	}

	e.attachParties(ctx, updated)
	e.publish(ctx, domain.EventOrderReady, updated)
	e.publish(ctx, domain.EventOrderUpdate, updated)
	return updated, nil
}

// Cancel ends a not-yet-picked-up order. Either the owning customer or the
// owning restaurant may cancel.
func (e *Engine) Cancel(ctx context.Context, userID, orderID string, notes string) (*domain.Order, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := e.requireParty(ctx, userID, order); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	updated, err := e.orders.ApplyTransition(ctx, orderID, store.Transition{
		To:          domain.StatusCancelled,
		Expected:    []domain.Status{domain.StatusPending, domain.StatusAccepted, domain.StatusPreparing, domain.StatusReady},
		ChangedBy:   userID,
		Notes:       notes,
		CancelledAt: &now,
	})
	if err != nil {
		return nil, err
	}

	e.attachParties(ctx, updated)
	e.publish(ctx, domain.EventOrderUpdate, updated)
	return updated, nil
}

// OverrideStatus is the administrative escape hatch: it moves any non-terminal
// order to any valid status with no guard table and never fires financial
// side effects. Kept separate from the guarded transitions on purpose.
func (e *Engine) OverrideStatus(ctx context.Context, userID, orderID string, status domain.Status, notes string) (*domain.Order, error) {
	if !status.Valid() {
		return nil, domain.Invalid("unknown status %q", status)
	}

	updated, err := e.orders.ApplyTransition(ctx, orderID, store.Transition{
		To:        status,
		Expected:  nonTerminal(),
		ChangedBy: userID,
		Notes:     notes,
	})
	if err != nil {
		return nil, err
	}

	e.attachParties(ctx, updated)
	e.publish(ctx, domain.EventOrderUpdate, updated)
	return updated, nil
}

// Get returns the order with its full transition history, provided the user
// is a party to it.
func (e *Engine) Get(ctx context.Context, userID, orderID string) (*domain.Order, []domain.StatusHistoryEntry, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.requireParty(ctx, userID, order); err != nil {
		return nil, nil, err
	}
	history, err := e.orders.History(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	e.attachParties(ctx, order)
	return order, history, nil
}

// Active lists the live-dashboard orders of the restaurant owned by userID.
func (e *Engine) Active(ctx context.Context, userID string) ([]domain.Order, error) {
	restaurant, err := e.directory.RestaurantByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.orders.ActiveOrders(ctx, restaurant.ID)
}

// List returns all restaurant orders, optionally filtered by status.
func (e *Engine) List(ctx context.Context, userID string, status *domain.Status) ([]domain.Order, error) {
	if status != nil && !status.Valid() {
		return nil, domain.Invalid("unknown status %q", *status)
	}
	restaurant, err := e.directory.RestaurantByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.orders.RestaurantOrders(ctx, restaurant.ID, status)
}

// Pagination describes one page of a terminal-order listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// HistoryPage pages through the restaurant's delivered/cancelled/rejected
// orders, newest first.
func (e *Engine) HistoryPage(ctx context.Context, userID string, page, limit int) ([]domain.Order, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	restaurant, err := e.directory.RestaurantByUser(ctx, userID)
	if err != nil {
		return nil, Pagination{}, err
	}
	orders, total, err := e.orders.TerminalOrders(ctx, restaurant.ID, page, limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	return orders, Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// ownedOrder resolves the acting user to their restaurant and verifies the
// order belongs to it. A missing restaurant or order is NotFound; a mismatch
// is Forbidden, never NotFound.
func (e *Engine) ownedOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	restaurant, err := e.directory.RestaurantByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RestaurantID != restaurant.ID {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

// requireParty allows the owning customer or the owning restaurant through.
func (e *Engine) requireParty(ctx context.Context, userID string, order *domain.Order) error {
	if restaurant, err := e.directory.RestaurantByUser(ctx, userID); err == nil {
		if restaurant.ID == order.RestaurantID {
			return nil
		}
		return domain.ErrForbidden
	}
	if customer, err := e.directory.CustomerByUser(ctx, userID); err == nil {
		if customer.ID == order.CustomerID {
			return nil
		}
		return domain.ErrForbidden
	}
	return domain.ErrForbidden
}

// attachParties decorates the order snapshot with directory contact cards.
// Lookup failures leave the cards empty rather than failing the operation.
func (e *Engine) attachParties(ctx context.Context, order *domain.Order) {
	if restaurant, err := e.directory.RestaurantByID(ctx, order.RestaurantID); err == nil {
		order.Restaurant = &domain.PartyInfo{ID: restaurant.ID, Name: restaurant.Name, Phone: restaurant.Phone}
	}
	if customer, err := e.directory.CustomerByID(ctx, order.CustomerID); err == nil {
		order.Customer = &domain.PartyInfo{ID: customer.ID, Name: customer.Name, Phone: customer.Phone}
	}
}

// publish sends a lifecycle event after the transition has committed. Fanout
// failures never roll back or fail the transition.
func (e *Engine) publish(ctx context.Context, kind domain.EventKind, order *domain.Order) {
	ev := domain.Event{
		Kind:         kind,
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		CustomerID:   order.CustomerID,
		Order:        order,
		OccurredAt:   e.now().UTC(),
	}
	if order.DriverID != nil {
		ev.DriverID = *order.DriverID
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Action("event_publish_failed").Error("lifecycle event not delivered", err,
			"kind", string(kind), "order_id", order.ID)
	}
}

func nonTerminal() []domain.Status {
	return []domain.Status{
		domain.StatusPending, domain.StatusAccepted, domain.StatusPreparing,
		domain.StatusReady, domain.StatusPickedUp,
	}
}

func notesPrepTime(minutes int) string {
	return "Prep time: " + strconv.Itoa(minutes) + " minutes"
}
