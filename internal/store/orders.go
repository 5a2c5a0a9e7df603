package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feastline/internal/domain"
)

// ErrNumberTaken is returned when the generated order number already exists.
// The caller regenerates and retries.
var ErrNumberTaken = errors.New("order number already taken")

const orderColumns = `id, number, customer_id, restaurant_id, driver_id, items,
	subtotal, delivery_fee, platform_fee, tax, total, delivery_address,
	payment_method, customer_notes, status, placed_at, accepted_at, ready_at,
	cancelled_at, estimated_prep_time, estimated_delivery_time`

// Transition describes one state change applied conditionally on the order's
// expected current status. Timestamp fields set here are written once and kept
// by COALESCE afterwards. If Earning is non-nil the row is inserted in the
// same transaction, which is what makes the READY side effect at-most-once.
type Transition struct {
	To       domain.Status
	Expected []domain.Status

	ChangedBy string
	Notes     string

	AcceptedAt            *time.Time
	ReadyAt               *time.Time
	CancelledAt           *time.Time
	EstimatedPrepTime     *int
	EstimatedDeliveryTime *time.Time

	Earning *domain.RestaurantEarning
}

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// CreateOrder inserts the order and its first history row atomically.
func (s *OrderStore) CreateOrder(ctx context.Context, o *domain.Order, changedBy string) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	address, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, number, customer_id, restaurant_id, items,
			subtotal, delivery_fee, platform_fee, tax, total,
			delivery_address, payment_method, customer_notes, status, placed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, o.ID, o.Number, o.CustomerID, o.RestaurantID, items,
		o.Subtotal, o.DeliveryFee, o.PlatformFee, o.Tax, o.Total,
		address, o.PaymentMethod, o.CustomerNotes, o.Status, o.PlacedAt)
	if err != nil {
		if uniqueViolationOn(err, "orders_number_key") {
			return ErrNumberTaken
		}
		return mapErr(fmt.Errorf("insert order: %w", err))
	}

	if err := insertHistory(ctx, tx, o.ID, o.Status, changedBy, ""); err != nil {
		return mapErr(err)
	}

	return mapErr(tx.Commit(ctx))
}

// ApplyTransition performs the conditional status update plus its history row
// (and earning, if any) in one transaction. When the conditional update
// matches no row the current status is re-read to distinguish a missing order
// from a stale expectation.
func (s *OrderStore) ApplyTransition(ctx context.Context, orderID string, tr Transition) (*domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	defer tx.Rollback(ctx)

	expected := make([]string, len(tr.Expected))
	for i, st := range tr.Expected {
		expected[i] = string(st)
	}

	row := tx.QueryRow(ctx, `
		UPDATE orders SET
			status                  = $2,
			accepted_at             = COALESCE($3, accepted_at),
			ready_at                = COALESCE($4, ready_at),
			cancelled_at            = COALESCE($5, cancelled_at),
			estimated_prep_time     = COALESCE($6, estimated_prep_time),
			estimated_delivery_time = COALESCE($7, estimated_delivery_time),
			updated_at              = NOW()
		WHERE id = $1 AND status = ANY($8)
		RETURNING `+orderColumns,
		orderID, tr.To, tr.AcceptedAt, tr.ReadyAt, tr.CancelledAt,
		tr.EstimatedPrepTime, tr.EstimatedDeliveryTime, expected)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.explainMiss(ctx, orderID)
		}
		return nil, mapErr(err)
	}

	if err := insertHistory(ctx, tx, orderID, tr.To, tr.ChangedBy, tr.Notes); err != nil {
		return nil, mapErr(err)
	}

	if tr.Earning != nil {
		e := tr.Earning
		_, err = tx.Exec(ctx, `
			INSERT INTO restaurant_earnings (id, restaurant_id, order_id, gross_amount, commission, net_amount)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.ID, e.RestaurantID, e.OrderID, e.GrossAmount, e.Commission, e.NetAmount)
		if err != nil {
			if uniqueViolationOn(err, "restaurant_earnings_order_id_key") {
				// An earning already exists for this order, so the READY
				// transition must have been applied before.
				return nil, domain.Conflict(domain.StatusReady)
			}
			return nil, mapErr(fmt.Errorf("insert earning: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err)
	}
	return order, nil
}

// explainMiss turns a zero-row conditional update into NotFound or Conflict.
func (s *OrderStore) explainMiss(ctx context.Context, orderID string) error {
	var current domain.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return mapErr(err)
	}
	return domain.Conflict(current)
}

func (s *OrderStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return order, nil
}

// History returns the append-only transition log, oldest first.
func (s *OrderStore) History(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, status, changed_by, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var entries []domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.ChangedBy, &e.Notes, &e.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, e)
	}
	return entries, mapErr(rows.Err())
}

// ActiveOrders lists the restaurant's live-dashboard orders, oldest first.
func (s *OrderStore) ActiveOrders(ctx context.Context, restaurantID string) ([]domain.Order, error) {
	statuses := make([]string, len(domain.ActiveStatuses))
	for i, st := range domain.ActiveStatuses {
		statuses[i] = string(st)
	}
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE restaurant_id = $1 AND status = ANY($2)
		ORDER BY placed_at ASC
	`, restaurantID, statuses)
}

// RestaurantOrders lists all orders of a restaurant, newest first, optionally
// filtered by status.
func (s *OrderStore) RestaurantOrders(ctx context.Context, restaurantID string, status *domain.Status) ([]domain.Order, error) {
	if status != nil {
		return s.listOrders(ctx, `
			SELECT `+orderColumns+` FROM orders
			WHERE restaurant_id = $1 AND status = $2
			ORDER BY placed_at DESC
		`, restaurantID, *status)
	}
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE restaurant_id = $1
		ORDER BY placed_at DESC
	`, restaurantID)
}

// TerminalOrders pages through delivered/cancelled/rejected orders, newest
// first, and returns the total count for pagination.
func (s *OrderStore) TerminalOrders(ctx context.Context, restaurantID string, page, limit int) ([]domain.Order, int, error) {
	statuses := make([]string, len(domain.TerminalStatuses))
	for i, st := range domain.TerminalStatuses {
		statuses[i] = string(st)
	}

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE restaurant_id = $1 AND status = ANY($2)
	`, restaurantID, statuses).Scan(&total)
	if err != nil {
		return nil, 0, mapErr(err)
	}

	offset := (page - 1) * limit
	orders, err := s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE restaurant_id = $1 AND status = ANY($2)
		ORDER BY placed_at DESC
		OFFSET $3 LIMIT $4
	`, restaurantID, statuses, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *OrderStore) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		orders = append(orders, *order)
	}
	return orders, mapErr(rows.Err())
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOrder(row scannable) (*domain.Order, error) {
	var (
		o          domain.Order
		items      []byte
		address    []byte
		driverID   *string
		notes      string
		prepTime   *int
		acceptedAt *time.Time
		readyAt    *time.Time
		cancelled  *time.Time
		estimated  *time.Time
	)
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.RestaurantID, &driverID, &items,
		&o.Subtotal, &o.DeliveryFee, &o.PlatformFee, &o.Tax, &o.Total, &address,
		&o.PaymentMethod, &notes, &o.Status, &o.PlacedAt, &acceptedAt, &readyAt,
		&cancelled, &prepTime, &estimated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if err := json.Unmarshal(address, &o.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	o.DriverID = driverID
	o.CustomerNotes = notes
	o.AcceptedAt = acceptedAt
	o.ReadyAt = readyAt
	o.CancelledAt = cancelled
	o.EstimatedPrepTime = prepTime
	o.EstimatedDeliveryTime = estimated
	return &o, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID string, status domain.Status, changedBy, notes string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, status, changed_by, notes)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), orderID, status, changedBy, notes)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}
