// Package api exposes the lifecycle engine over HTTP and hands websocket
// upgrades to the notification gateway.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feastline/internal/domain"
	"feastline/internal/gateway"
	"feastline/internal/ledger"
	"feastline/internal/lifecycle"
	"feastline/internal/store"
	"feastline/pkg/logger"
)

// requestTimeout bounds every store-touching request. On a timeout the
// outcome is unknown and clients must re-read before retrying.
const requestTimeout = 10 * time.Second

// maxPageLimit caps client-supplied page sizes.
const maxPageLimit = 100

// EarningsReader is the read-only rollup the earnings endpoint needs.
type EarningsReader interface {
	EarningsSince(ctx context.Context, restaurantID string, since time.Time) (store.Summary, error)
}

type Handler struct {
	engine    *lifecycle.Engine
	earnings  EarningsReader
	directory lifecycle.Directory
	ws        *gateway.Server
	log       *logger.Logger
}

func NewHandler(engine *lifecycle.Engine, earnings EarningsReader, directory lifecycle.Directory, ws *gateway.Server, log *logger.Logger) *Handler {
	return &Handler{engine: engine, earnings: earnings, directory: directory, ws: ws, log: log}
}

// Router assembles the HTTP surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(WithActor)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/restaurant/active", h.activeOrders)
			r.Get("/restaurant/all", h.restaurantOrders)
			r.Get("/restaurant/history", h.orderHistory)
			r.Get("/{id}", h.getOrder)
			r.Post("/{id}/accept", h.acceptOrder)
			r.Post("/{id}/reject", h.rejectOrder)
			r.Post("/{id}/ready", h.markReady)
			r.Post("/{id}/cancel", h.cancelOrder)
			r.Patch("/{id}/status", h.overrideStatus)
		})

		r.Get("/restaurants/me/earnings/today", h.todayEarnings)
		r.Get("/ws", h.websocket)
	})

	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	if actor.Role != RoleCustomer {
		jsonError(w, http.StatusForbidden, "forbidden", "only customers can place orders")
		return
	}

	var in lifecycle.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_json", "failed to parse request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.engine.Create(ctx, actor.UserID, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, history, err := h.engine.Get(ctx, actor.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"order":          order,
		"status_history": history,
	})
}

func (h *Handler) activeOrders(w http.ResponseWriter, r *http.Request) {
	h.restaurantOnly(w, r, func(ctx context.Context, actor Actor) (any, error) {
		return h.engine.Active(ctx, actor.UserID)
	})
}

func (h *Handler) restaurantOrders(w http.ResponseWriter, r *http.Request) {
	var status *domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.Status(raw)
		status = &s
	}
	h.restaurantOnly(w, r, func(ctx context.Context, actor Actor) (any, error) {
		return h.engine.List(ctx, actor.UserID, status)
	})
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	h.restaurantOnly(w, r, func(ctx context.Context, actor Actor) (any, error) {
		orders, pagination, err := h.engine.HistoryPage(ctx, actor.UserID, page, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"orders": orders, "pagination": pagination}, nil
	})
}

func (h *Handler) acceptOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EstimatedPrepTime int `json:"estimated_prep_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_json", "failed to parse request body")
		return
	}
	orderID := chi.URLParam(r, "id")
	h.restaurantOnly(w, r, func(ctx context.Context, actor Actor) (any, error) {
		return h.engine.Accept(ctx, actor.UserID, orderID, body.EstimatedPrepTime)
	})
}

func (h *Handler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	h.restaurantOnly(w, r, func(ctx context.Context, actor Actor) (any, error) {
		return h.engine.Reject(ctx, actor.UserID, orderID)
	})
}

func (h *Handler) markReady(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	h.restaurantOnly(w, r, func(ctx context.Context, actor Actor) (any, error) {
		return h.engine.MarkReady(ctx, actor.UserID, orderID)
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	// Body is optional on cancel.
	_ = json.NewDecoder(r.Body).Decode(&body)

	actor := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.engine.Cancel(ctx, actor.UserID, chi.URLParam(r, "id"), body.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// overrideStatus is the administrative escape hatch around the guarded state
// machine. It shares nothing with the guarded endpoints above on purpose.
func (h *Handler) overrideStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status domain.Status `json:"status"`
		Notes  string        `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_json", "failed to parse request body")
		return
	}

	actor := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.engine.OverrideStatus(ctx, actor.UserID, chi.URLParam(r, "id"), body.Status, body.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

func (h *Handler) todayEarnings(w http.ResponseWriter, r *http.Request) {
	h.restaurantOnly(w, r, func(ctx context.Context, actor Actor) (any, error) {
		restaurant, err := h.directory.RestaurantByUser(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		since := ledger.StartOfDay(time.Now(), restaurant.Timezone)
		return h.earnings.EarningsSince(ctx, restaurant.ID, since)
	})
}

func (h *Handler) websocket(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	h.ws.Handle(w, r, actor.UserID)
}

// restaurantOnly runs fn for restaurant actors with a bounded context and
// writes the result or the mapped domain error.
func (h *Handler) restaurantOnly(w http.ResponseWriter, r *http.Request, fn func(context.Context, Actor) (any, error)) {
	actor := ActorFrom(r.Context())
	if actor.Role != RoleRestaurant {
		jsonError(w, http.StatusForbidden, "forbidden", "restaurant role required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := fn(ctx, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
