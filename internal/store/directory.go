package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feastline/internal/domain"
)

// Directory resolves authenticated actor identities to their domain records.
// It is consumed read-only; account management lives elsewhere.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) RestaurantByUser(ctx context.Context, userID string) (*domain.Restaurant, error) {
	return d.restaurant(ctx, `SELECT id, user_id, name, phone, timezone FROM restaurants WHERE user_id = $1`, userID)
}

func (d *Directory) RestaurantByID(ctx context.Context, id string) (*domain.Restaurant, error) {
	return d.restaurant(ctx, `SELECT id, user_id, name, phone, timezone FROM restaurants WHERE id = $1`, id)
}

func (d *Directory) restaurant(ctx context.Context, query, arg string) (*domain.Restaurant, error) {
	var r domain.Restaurant
	err := d.pool.QueryRow(ctx, query, arg).Scan(&r.ID, &r.UserID, &r.Name, &r.Phone, &r.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRestaurantNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (d *Directory) CustomerByUser(ctx context.Context, userID string) (*domain.Customer, error) {
	return d.customer(ctx, `SELECT id, user_id, name, phone FROM customers WHERE user_id = $1`, userID)
}

func (d *Directory) CustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	return d.customer(ctx, `SELECT id, user_id, name, phone FROM customers WHERE id = $1`, id)
}

func (d *Directory) customer(ctx context.Context, query, arg string) (*domain.Customer, error) {
	var c domain.Customer
	err := d.pool.QueryRow(ctx, query, arg).Scan(&c.ID, &c.UserID, &c.Name, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// MenuSnapshot returns the available catalog items of a restaurant, consulted
// when pricing a new order. Catalog CRUD is out of scope here.
func (d *Directory) MenuSnapshot(ctx context.Context, restaurantID string) ([]domain.MenuItem, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, restaurant_id, name, price, available
		FROM menu_items WHERE restaurant_id = $1 AND available
	`, restaurantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var items []domain.MenuItem
	for rows.Next() {
		var m domain.MenuItem
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Price, &m.Available); err != nil {
			return nil, mapErr(err)
		}
		items = append(items, m)
	}
	return items, mapErr(rows.Err())
}
