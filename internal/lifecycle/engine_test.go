package lifecycle

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feastline/internal/domain"
	"feastline/internal/lifecycle/enginetest"
	"feastline/internal/store"
	"feastline/pkg/logger"
)

var testTime = time.Date(2025, 6, 12, 18, 30, 0, 0, time.UTC)

func newTestEngine(menu MenuSource) (*Engine, *enginetest.Store, *enginetest.Publisher) {
	st := enginetest.NewStore()
	pub := &enginetest.Publisher{}
	dir := &enginetest.Directory{
		Restaurants: []domain.Restaurant{
			{ID: "rest-1", UserID: "user-rest", Name: "Tandoori Palace", Phone: "555-0100", Timezone: "UTC"},
			{ID: "rest-2", UserID: "user-rest2", Name: "Pasta Corner", Timezone: "UTC"},
		},
		Customers: []domain.Customer{
			{ID: "cust-1", UserID: "user-cust", Name: "Asha", Phone: "555-0199"},
			{ID: "cust-2", UserID: "user-cust2", Name: "Bram"},
		},
	}
	e := NewEngine(st, dir, menu, pub, logger.New("test"))
	e.now = func() time.Time { return testTime }
	return e, st, pub
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		RestaurantID: "rest-1",
		Items: []domain.OrderItem{
			{MenuItemID: "mi-1", Name: "Butter Chicken", Price: 80, Quantity: 2},
			{MenuItemID: "mi-2", Name: "Garlic Naan", Price: 10, Quantity: 4},
		},
		Subtotal:    200,
		DeliveryFee: 30,
		Total:       250,
		DeliveryAddress: domain.DeliveryAddress{
			AddressLine1: "12 Hill Road", City: "Mumbai", State: "MH",
			PostalCode: "400050", Latitude: 19.06, Longitude: 72.83,
		},
		PaymentMethod: "CARD",
	}
}

func TestCreateDerivesFeesAndFreezesThem(t *testing.T) {
	e, st, pub := newTestEngine(nil)

	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, 10.0, order.PlatformFee)
	assert.Equal(t, 10.0, order.Tax)
	assert.Equal(t, 250.0, order.Total)
	assert.Equal(t, "cust-1", order.CustomerID)
	assert.True(t, strings.HasPrefix(order.Number, "ORD-"))
	assert.Equal(t, order.Number, strings.ToUpper(order.Number))

	history, err := st.History(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusPending, history[0].Status)
	assert.Equal(t, "user-cust", history[0].ChangedBy)

	require.Equal(t, []domain.EventKind{domain.EventOrderNew}, pub.Kinds())
	assert.Equal(t, "rest-1", pub.Last().RestaurantID)
	assert.Equal(t, order.ID, pub.Last().Order.ID)
}

func TestCreateRetriesOnNumberClash(t *testing.T) {
	e, st, _ := newTestEngine(nil)
	st.FailCreateWith = store.ErrNumberTaken

	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(order.Number, "ORD-"))
}

func TestCreateRejectsMismatchedTotal(t *testing.T) {
	e, _, pub := newTestEngine(nil)

	in := validInput()
	in.Total = 240 // should be 250 once fees are derived

	_, err := e.Create(context.Background(), "user-cust", in)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, pub.Kinds())
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	e, _, _ := newTestEngine(nil)

	in := validInput()
	in.Items = nil

	_, err := e.Create(context.Background(), "user-cust", in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateUnknownRestaurant(t *testing.T) {
	e, _, _ := newTestEngine(nil)

	in := validInput()
	in.RestaurantID = "rest-404"

	_, err := e.Create(context.Background(), "user-cust", in)
	assert.ErrorIs(t, err, domain.ErrRestaurantNotFound)
}

func TestCreateVerifiesAgainstMenu(t *testing.T) {
	menu := &enginetest.Menu{Items: []domain.MenuItem{
		{ID: "mi-1", RestaurantID: "rest-1", Name: "Butter Chicken", Price: 80, Available: true},
		{ID: "mi-2", RestaurantID: "rest-1", Name: "Garlic Naan", Price: 10, Available: true},
	}}
	e, _, _ := newTestEngine(menu)

	_, err := e.Create(context.Background(), "user-cust", validInput())
	assert.NoError(t, err)

	in := validInput()
	in.Items[0].Price = 75 // stale client price
	_, err = e.Create(context.Background(), "user-cust", in)
	assert.ErrorIs(t, err, domain.ErrValidation)

	in = validInput()
	in.Items[0].MenuItemID = "mi-404"
	_, err = e.Create(context.Background(), "user-cust", in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateToleratesMenuSourceOutage(t *testing.T) {
	menu := &enginetest.Menu{Err: context.DeadlineExceeded}
	e, _, _ := newTestEngine(menu)

	_, err := e.Create(context.Background(), "user-cust", validInput())
	assert.NoError(t, err)
}

func TestAcceptSetsEstimatesAndNotifiesCustomer(t *testing.T) {
	e, st, pub := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	accepted, err := e.Accept(context.Background(), "user-rest", order.ID, 20)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)
	require.NotNil(t, accepted.EstimatedDeliveryTime)
	assert.Equal(t, testTime, *accepted.AcceptedAt)
	assert.Equal(t, testTime.Add(40*time.Minute), *accepted.EstimatedDeliveryTime)
	require.NotNil(t, accepted.EstimatedPrepTime)
	assert.Equal(t, 20, *accepted.EstimatedPrepTime)

	history, _ := st.History(context.Background(), order.ID)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StatusAccepted, history[1].Status)
	assert.Equal(t, "Prep time: 20 minutes", history[1].Notes)

	assert.Equal(t, []domain.EventKind{
		domain.EventOrderNew, domain.EventOrderAccepted, domain.EventOrderUpdate,
	}, pub.Kinds())
}

func TestAcceptPrepTimeBounds(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	for _, prep := range []int{4, 121, 0, -1} {
		_, err := e.Accept(context.Background(), "user-rest", order.ID, prep)
		assert.ErrorIs(t, err, domain.ErrValidation, "prep=%d", prep)
	}
}

func TestAcceptByWrongRestaurantIsForbidden(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	_, err = e.Accept(context.Background(), "user-rest2", order.ID, 20)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAcceptMissingOrderIsNotFound(t *testing.T) {
	e, _, _ := newTestEngine(nil)

	_, err := e.Accept(context.Background(), "user-rest", "no-such-order", 20)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestAcceptTwiceConflicts(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	_, err = e.Accept(context.Background(), "user-rest", order.ID, 20)
	require.NoError(t, err)

	_, err = e.Accept(context.Background(), "user-rest", order.ID, 20)
	ce, ok := domain.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusAccepted, ce.Current)
}

func TestConcurrentAcceptRejectExactlyOneWins(t *testing.T) {
	e, st, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = e.Accept(context.Background(), "user-rest", order.ID, 20)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = e.Reject(context.Background(), "user-rest", order.ID)
	}()
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if _, ok := domain.AsConflict(err); ok {
			conflicts++
		}
	}
	assert.Equal(t, 1, wins, "exactly one transition must win")
	assert.Equal(t, 1, conflicts, "the loser must see a conflict")

	final, err := st.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Contains(t, []domain.Status{domain.StatusAccepted, domain.StatusRejected}, final.Status)
}

func TestRejectSetsCancelledAtAndNeverEarns(t *testing.T) {
	e, st, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	rejected, err := e.Reject(context.Background(), "user-rest", order.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.CancelledAt)
	assert.Nil(t, st.Earning(order.ID))

	// Terminal: nothing moves a rejected order.
	_, err = e.Accept(context.Background(), "user-rest", order.ID, 20)
	_, ok := domain.AsConflict(err)
	assert.True(t, ok)
}

func TestMarkReadyRecordsEarningExactlyOnce(t *testing.T) {
	e, st, pub := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)
	_, err = e.Accept(context.Background(), "user-rest", order.ID, 20)
	require.NoError(t, err)

	ready, err := e.MarkReady(context.Background(), "user-rest", order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, ready.Status)
	require.NotNil(t, ready.ReadyAt)

	earning := st.Earning(order.ID)
	require.NotNil(t, earning)
	assert.Equal(t, 200.0, earning.GrossAmount)
	assert.Equal(t, 40.0, earning.Commission)
	assert.Equal(t, 160.0, earning.NetAmount)
	assert.Equal(t, "rest-1", earning.RestaurantID)

	// A retry is a conflict, not a silent re-apply.
	_, err = e.MarkReady(context.Background(), "user-rest", order.ID)
	_, ok := domain.AsConflict(err)
	assert.True(t, ok)
	assert.Equal(t, 1, st.EarningCount())

	kinds := pub.Kinds()
	assert.Contains(t, kinds, domain.EventOrderReady)
}

func TestConcurrentMarkReadySingleEarning(t *testing.T) {
	e, st, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)
	_, err = e.Accept(context.Background(), "user-rest", order.ID, 20)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.MarkReady(context.Background(), "user-rest", order.ID)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, st.EarningCount())
}

func TestMarkReadyFromPreparing(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)
	_, err = e.Accept(context.Background(), "user-rest", order.ID, 20)
	require.NoError(t, err)
	_, err = e.OverrideStatus(context.Background(), "user-rest", order.ID, domain.StatusPreparing, "")
	require.NoError(t, err)

	ready, err := e.MarkReady(context.Background(), "user-rest", order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, ready.Status)
}

func TestMarkReadyRequiresAcceptedOrPreparing(t *testing.T) {
	e, st, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	_, err = e.MarkReady(context.Background(), "user-rest", order.ID)
	ce, ok := domain.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, ce.Current)
	assert.Equal(t, 0, st.EarningCount())
}

func TestCancelByCustomer(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	cancelled, err := e.Cancel(context.Background(), "user-cust", order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
}

func TestCancelByStrangerIsForbidden(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	_, err = e.Cancel(context.Background(), "user-cust2", order.ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.Cancel(context.Background(), "user-rest2", order.ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestOverrideBypassesGuardsButNotTerminalStates(t *testing.T) {
	e, st, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	// Straight from PENDING to DELIVERED, no guard table.
	delivered, err := e.OverrideStatus(context.Background(), "user-rest", order.ID, domain.StatusDelivered, "manual fix")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)
	assert.Equal(t, 0, st.EarningCount(), "override never fires financial side effects")

	history, _ := st.History(context.Background(), order.ID)
	assert.Equal(t, "manual fix", history[len(history)-1].Notes)

	// Terminal states stay terminal even for the override.
	_, err = e.OverrideStatus(context.Background(), "user-rest", order.ID, domain.StatusPending, "")
	_, ok := domain.AsConflict(err)
	assert.True(t, ok)
}

func TestOverrideRejectsUnknownStatus(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)

	_, err = e.OverrideStatus(context.Background(), "user-rest", order.ID, domain.Status("BAKING"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetEnforcesRelationshipAndReturnsHistory(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	order, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)
	_, err = e.Accept(context.Background(), "user-rest", order.ID, 30)
	require.NoError(t, err)

	got, history, err := e.Get(context.Background(), "user-cust", order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, got.Status, history[len(history)-1].Status,
		"last history entry must match current status")
	require.NotNil(t, got.Restaurant)
	assert.Equal(t, "Tandoori Palace", got.Restaurant.Name)

	_, _, err = e.Get(context.Background(), "user-cust2", order.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestHistoryPagePagination(t *testing.T) {
	e, st, _ := newTestEngine(nil)

	for i := 0; i < 15; i++ {
		st.Seed(domain.Order{
			ID:           "term-" + strconv.Itoa(i),
			Number:       "ORD-TEST" + strconv.Itoa(i),
			CustomerID:   "cust-1",
			RestaurantID: "rest-1",
			Items:        []domain.OrderItem{{MenuItemID: "mi-1", Name: "x", Price: 1, Quantity: 1}},
			Status:       domain.StatusDelivered,
			PlacedAt:     testTime.Add(time.Duration(i) * time.Minute),
		})
	}

	orders, pagination, err := e.HistoryPage(context.Background(), "user-rest", 2, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 5)
	assert.Equal(t, 15, pagination.Total)
	assert.Equal(t, 2, pagination.TotalPages)
	assert.Equal(t, 2, pagination.Page)
}

func TestActiveListsOnlyDashboardStatuses(t *testing.T) {
	e, _, _ := newTestEngine(nil)
	first, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)
	second, err := e.Create(context.Background(), "user-cust", validInput())
	require.NoError(t, err)
	_, err = e.Reject(context.Background(), "user-rest", second.ID)
	require.NoError(t, err)

	active, err := e.Active(context.Background(), "user-rest")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)
}
