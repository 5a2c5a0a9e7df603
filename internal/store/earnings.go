package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"feastline/internal/domain"
)

// EarningStore reads restaurant earnings. Writes happen only inside the READY
// transition transaction in OrderStore.
type EarningStore struct {
	pool *pgxpool.Pool
}

func NewEarningStore(pool *pgxpool.Pool) *EarningStore {
	return &EarningStore{pool: pool}
}

// Summary is the read-only rollup for a restaurant's earnings view.
type Summary struct {
	TotalEarnings float64 `json:"total_earnings"`
	OrderCount    int     `json:"order_count"`
}

// EarningsSince sums net amounts of earnings created at or after the given
// instant. Zero rows is a valid result, not an error.
func (s *EarningStore) EarningsSince(ctx context.Context, restaurantID string, since time.Time) (Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(net_amount), 0), COUNT(*)
		FROM restaurant_earnings
		WHERE restaurant_id = $1 AND created_at >= $2
	`, restaurantID, since).Scan(&sum.TotalEarnings, &sum.OrderCount)
	if err != nil {
		return Summary{}, mapErr(err)
	}
	return sum, nil
}

// EarningByOrder fetches the single earning row of an order, if any.
func (s *EarningStore) EarningByOrder(ctx context.Context, orderID string) (*domain.RestaurantEarning, error) {
	var e domain.RestaurantEarning
	err := s.pool.QueryRow(ctx, `
		SELECT id, restaurant_id, order_id, gross_amount, commission, net_amount, created_at
		FROM restaurant_earnings WHERE order_id = $1
	`, orderID).Scan(&e.ID, &e.RestaurantID, &e.OrderID, &e.GrossAmount, &e.Commission, &e.NetAmount, &e.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}
