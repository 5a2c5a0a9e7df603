// Package ledger derives the platform's financial figures from order amounts.
// Fee and tax are computed once at order creation and frozen into the order;
// commission and net earning are computed once on the READY transition. Later
// rate changes never retroactively alter existing orders or earnings.
package ledger

import (
	"math"
	"time"

	"github.com/google/uuid"

	"feastline/internal/domain"
)

const (
	platformFeeRate = 0.05
	taxRate         = 0.05
	commissionRate  = 0.20

	// moneyEpsilon absorbs float noise when checking client-supplied totals.
	moneyEpsilon = 0.005
)

// PlatformFee is 5% of the subtotal.
func PlatformFee(subtotal float64) float64 { return subtotal * platformFeeRate }

// Tax is 5% GST on the subtotal.
func Tax(subtotal float64) float64 { return subtotal * taxRate }

// Commission is the platform's 20% cut of the subtotal, taken at READY.
func Commission(subtotal float64) float64 { return subtotal * commissionRate }

// TotalMatches reports whether the client-supplied total equals the sum of its
// parts within float tolerance.
func TotalMatches(total, subtotal, deliveryFee, platformFee, tax float64) bool {
	return math.Abs(total-(subtotal+deliveryFee+platformFee+tax)) < moneyEpsilon
}

// EarningFor builds the one-shot earning row written on the READY transition.
func EarningFor(order *domain.Order) *domain.RestaurantEarning {
	commission := Commission(order.Subtotal)
	return &domain.RestaurantEarning{
		ID:           uuid.NewString(),
		RestaurantID: order.RestaurantID,
		OrderID:      order.ID,
		GrossAmount:  order.Subtotal,
		Commission:   commission,
		NetAmount:    order.Subtotal - commission,
	}
}

// StartOfDay returns midnight of the current calendar day in the restaurant's
// local timezone. An unknown or empty zone falls back to UTC.
func StartOfDay(now time.Time, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
