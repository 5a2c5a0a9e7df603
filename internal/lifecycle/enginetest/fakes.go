// Package enginetest provides in-memory fakes for the engine's collaborators.
// The fake store honors the conditional-write contract of the real one, so
// race and at-most-once behavior can be exercised without a database.
package enginetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"feastline/internal/domain"
	"feastline/internal/store"
)

type Store struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	history  map[string][]domain.StatusHistoryEntry
	earnings map[string]*domain.RestaurantEarning

	// FailCreateWith, when set, is returned once by CreateOrder.
	FailCreateWith error
}

func NewStore() *Store {
	return &Store{
		orders:   make(map[string]*domain.Order),
		history:  make(map[string][]domain.StatusHistoryEntry),
		earnings: make(map[string]*domain.RestaurantEarning),
	}
}

func (s *Store) CreateOrder(_ context.Context, o *domain.Order, changedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailCreateWith; err != nil {
		s.FailCreateWith = nil
		return err
	}
	for _, existing := range s.orders {
		if existing.Number == o.Number {
			return store.ErrNumberTaken
		}
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.appendHistory(o.ID, o.Status, changedBy, "")
	return nil
}

func (s *Store) ApplyTransition(_ context.Context, orderID string, tr store.Transition) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	expected := false
	for _, st := range tr.Expected {
		if o.Status == st {
			expected = true
			break
		}
	}
	if !expected {
		return nil, domain.Conflict(o.Status)
	}
	if tr.Earning != nil {
		if _, exists := s.earnings[orderID]; exists {
			return nil, domain.Conflict(domain.StatusReady)
		}
		e := *tr.Earning
		e.CreatedAt = time.Now().UTC()
		s.earnings[orderID] = &e
	}

	o.Status = tr.To
	if tr.AcceptedAt != nil {
		o.AcceptedAt = tr.AcceptedAt
	}
	if tr.ReadyAt != nil {
		o.ReadyAt = tr.ReadyAt
	}
	if tr.CancelledAt != nil {
		o.CancelledAt = tr.CancelledAt
	}
	if tr.EstimatedPrepTime != nil {
		o.EstimatedPrepTime = tr.EstimatedPrepTime
	}
	if tr.EstimatedDeliveryTime != nil {
		o.EstimatedDeliveryTime = tr.EstimatedDeliveryTime
	}
	s.appendHistory(orderID, tr.To, tr.ChangedBy, tr.Notes)

	cp := *o
	return &cp, nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) History(_ context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StatusHistoryEntry(nil), s.history[orderID]...), nil
}

func (s *Store) ActiveOrders(_ context.Context, restaurantID string) ([]domain.Order, error) {
	return s.filter(restaurantID, func(o *domain.Order) bool {
		for _, st := range domain.ActiveStatuses {
			if o.Status == st {
				return true
			}
		}
		return false
	}, false), nil
}

func (s *Store) RestaurantOrders(_ context.Context, restaurantID string, status *domain.Status) ([]domain.Order, error) {
	return s.filter(restaurantID, func(o *domain.Order) bool {
		return status == nil || o.Status == *status
	}, true), nil
}

func (s *Store) TerminalOrders(_ context.Context, restaurantID string, page, limit int) ([]domain.Order, int, error) {
	all := s.filter(restaurantID, func(o *domain.Order) bool {
		return o.Status.Terminal()
	}, true)
	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *Store) filter(restaurantID string, keep func(*domain.Order) bool, newestFirst bool) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.RestaurantID == restaurantID && keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].PlacedAt.After(out[j].PlacedAt)
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

func (s *Store) appendHistory(orderID string, status domain.Status, changedBy, notes string) {
	s.history[orderID] = append(s.history[orderID], domain.StatusHistoryEntry{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    status,
		ChangedBy: changedBy,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	})
}

// Seed inserts an order directly, bypassing the engine. For test setup only.
func (s *Store) Seed(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	s.orders[o.ID] = &cp
	s.appendHistory(o.ID, o.Status, "seed", "")
}

// Earning returns the earning row of an order, or nil.
func (s *Store) Earning(orderID string) *domain.RestaurantEarning {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.earnings[orderID]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// EarningCount reports how many earning rows exist in total.
func (s *Store) EarningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.earnings)
}

// Directory is a static actor directory.
type Directory struct {
	Restaurants []domain.Restaurant
	Customers   []domain.Customer
}

func (d *Directory) RestaurantByUser(_ context.Context, userID string) (*domain.Restaurant, error) {
	for _, r := range d.Restaurants {
		if r.UserID == userID {
			cp := r
			return &cp, nil
		}
	}
	return nil, domain.ErrRestaurantNotFound
}

func (d *Directory) RestaurantByID(_ context.Context, id string) (*domain.Restaurant, error) {
	for _, r := range d.Restaurants {
		if r.ID == id {
			cp := r
			return &cp, nil
		}
	}
	return nil, domain.ErrRestaurantNotFound
}

func (d *Directory) CustomerByUser(_ context.Context, userID string) (*domain.Customer, error) {
	for _, c := range d.Customers {
		if c.UserID == userID {
			cp := c
			return &cp, nil
		}
	}
	return nil, domain.ErrCustomerNotFound
}

func (d *Directory) CustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	for _, c := range d.Customers {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, domain.ErrCustomerNotFound
}

// Publisher records published events instead of putting them on a broker.
type Publisher struct {
	mu     sync.Mutex
	Events []domain.Event
}

func (p *Publisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, ev)
	return nil
}

// Kinds lists the kinds of all recorded events, in publish order.
func (p *Publisher) Kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]domain.EventKind, len(p.Events))
	for i, ev := range p.Events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Last returns the most recent event, or nil.
func (p *Publisher) Last() *domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Events) == 0 {
		return nil
	}
	cp := p.Events[len(p.Events)-1]
	return &cp
}

// Menu is a static menu source.
type Menu struct {
	Items []domain.MenuItem
	Err   error
}

func (m *Menu) Snapshot(context.Context, string) ([]domain.MenuItem, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Items, nil
}
