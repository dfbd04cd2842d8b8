package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withgift/storefront/internal/cart"
	"github.com/withgift/storefront/internal/order"
	"github.com/withgift/storefront/internal/payment"
	"github.com/withgift/storefront/pkg/logger"
)

type submission struct {
	roomID  string
	orderID string
	total   decimal.Decimal
	points  decimal.Decimal
}

type fakeOrders struct {
	created     int
	noID        bool
	serverTotal decimal.Decimal
	err         error
}

func (f *fakeOrders) Create(ctx context.Context, receiverID string, items []cart.LineItem) (order.Order, error) {
	f.created++
	if f.err != nil {
		return order.Order{}, f.err
	}
	if f.noID {
		return order.Order{}, order.ErrNoOrderID
	}
	total := f.serverTotal
	if total.IsZero() {
		total = Total(items)
	}
	return order.Order{ID: "order-1", ReceiverID: receiverID, Items: items, TotalPrice: total, Status: order.StatusCreated}, nil
}

type fakePayments struct {
	declined bool
	err      error
	submits  []submission
}

func (f *fakePayments) Submit(ctx context.Context, orderID string, total, points decimal.Decimal) (payment.Result, error) {
	return f.record(submission{orderID: orderID, total: total, points: points})
}

func (f *fakePayments) SubmitGift(ctx context.Context, roomID, orderID string, total, points decimal.Decimal) (payment.Result, error) {
	return f.record(submission{roomID: roomID, orderID: orderID, total: total, points: points})
}

func (f *fakePayments) record(s submission) (payment.Result, error) {
	f.submits = append(f.submits, s)
	if f.err != nil {
		return payment.Result{}, f.err
	}
	status := payment.StatusApproved
	if f.declined {
		status = payment.StatusDeclined
	}
	return payment.Result{OrderID: s.orderID, CashAmount: s.total.Sub(s.points), PointsUsed: s.points, Status: status}, nil
}

type fakeCart struct {
	cleared int
	err     error
}

func (f *fakeCart) Clear(ctx context.Context) error {
	f.cleared++
	return f.err
}

func items(prices ...int64) []cart.LineItem {
	out := make([]cart.LineItem, len(prices))
	for i, p := range prices {
		out[i] = cart.LineItem{ProductID: "p", Name: "item", UnitPrice: decimal.NewFromInt(p), Quantity: 1}
	}
	return out
}

func newFlow(orders *fakeOrders, payments *fakePayments, cartSvc *fakeCart) *Flow {
	return NewFlow(orders, payments, cartSvc, logger.NewNop())
}

func TestTotal(t *testing.T) {
	lineItems := []cart.LineItem{
		{UnitPrice: decimal.NewFromInt(10), Quantity: 3},
		{UnitPrice: decimal.RequireFromString("2.50"), Quantity: 2},
	}
	assert.True(t, Total(lineItems).Equal(decimal.NewFromInt(35)), "10*3 + 2.50*2")
}

func TestRun_CashPlusPointsAlwaysEqualsTotal(t *testing.T) {
	cases := []struct {
		name      string
		method    Method
		balance   int64
		requested int64
	}{
		{"cash only", MethodCash, 0, 0},
		{"points only", MethodPoints, 1000, 0},
		{"split in range", MethodSplit, 1000, 30},
		{"split negative", MethodSplit, 1000, -5},
		{"split overshoot total", MethodSplit, 1000, 99999},
		{"split overshoot balance", MethodSplit, 20, 99999},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payments := &fakePayments{}
			flow := newFlow(&fakeOrders{}, payments, &fakeCart{})

			res, err := flow.Run(context.Background(), Request{
				Items:           items(40, 25),
				Method:          tc.method,
				PointsRequested: decimal.NewFromInt(tc.requested),
				PointsAvailable: decimal.NewFromInt(tc.balance),
			})
			require.NoError(t, err)

			total := decimal.NewFromInt(65)
			assert.True(t, res.CashAmount.Add(res.PointsUsed).Equal(total),
				"cash %s + points %s != total %s", res.CashAmount, res.PointsUsed, total)
			assert.False(t, res.PointsUsed.IsNegative(), "points never negative")
			assert.True(t, res.PointsUsed.LessThanOrEqual(decimal.Min(total, decimal.NewFromInt(tc.balance))) || tc.method == MethodPoints,
				"points within [0, min(total, balance)]")
		})
	}
}

func TestSplitPoints_Clamping(t *testing.T) {
	total := decimal.NewFromInt(100)

	cases := []struct {
		name      string
		available int64
		requested int64
		want      int64
	}{
		{"negative clamps to zero", 500, -50, 0},
		{"over total clamps to total", 500, 400, 100},
		{"over balance clamps to balance", 60, 400, 60},
		{"in range untouched", 500, 40, 40},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, err := SplitPoints(MethodSplit, total, decimal.NewFromInt(tc.available), decimal.NewFromInt(tc.requested))
			require.NoError(t, err)
			assert.True(t, points.Equal(decimal.NewFromInt(tc.want)), "points = %s, want %d", points, tc.want)
		})
	}
}

func TestRun_PointsOnlyInsufficientBalance(t *testing.T) {
	orders := &fakeOrders{}
	payments := &fakePayments{}
	flow := newFlow(orders, payments, &fakeCart{})

	_, err := flow.Run(context.Background(), Request{
		Items:           items(40, 25),
		Method:          MethodPoints,
		PointsAvailable: decimal.NewFromInt(10),
	})

	var insufficientErr *InsufficientPointsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.True(t, insufficientErr.Required.Equal(decimal.NewFromInt(65)))
	assert.True(t, insufficientErr.Available.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 0, orders.created, "rejected locally, no order call")
	assert.Empty(t, payments.submits, "rejected locally, no payment call")
	assert.Equal(t, StateFailed, flow.State())
}

func TestRun_EmptyItems(t *testing.T) {
	orders := &fakeOrders{}
	flow := newFlow(orders, &fakePayments{}, &fakeCart{})

	_, err := flow.Run(context.Background(), Request{Method: MethodCash})
	require.ErrorIs(t, err, ErrNoItems)
	assert.Equal(t, 0, orders.created)
}

func TestRun_AbortsWithoutOrderID(t *testing.T) {
	payments := &fakePayments{}
	flow := newFlow(&fakeOrders{noID: true}, payments, &fakeCart{})

	_, err := flow.Run(context.Background(), Request{Items: items(10), Method: MethodCash})
	require.ErrorIs(t, err, order.ErrNoOrderID)
	assert.Empty(t, payments.submits, "no payment after failed order creation")
	assert.Equal(t, StateFailed, flow.State())
}

func TestRun_GiftRoutesToGiftPayment(t *testing.T) {
	payments := &fakePayments{}
	flow := newFlow(&fakeOrders{}, payments, &fakeCart{})

	_, err := flow.Run(context.Background(), Request{
		Items:      items(10),
		Method:     MethodCash,
		GiftRoomID: "room-7",
	})
	require.NoError(t, err)
	require.Len(t, payments.submits, 1)
	assert.Equal(t, "room-7", payments.submits[0].roomID, "gift flow must use the gift endpoint")
}

func TestRun_PlainPaymentHasNoRoom(t *testing.T) {
	payments := &fakePayments{}
	flow := newFlow(&fakeOrders{}, payments, &fakeCart{})

	_, err := flow.Run(context.Background(), Request{Items: items(10), Method: MethodCash})
	require.NoError(t, err)
	require.Len(t, payments.submits, 1)
	assert.Empty(t, payments.submits[0].roomID)
}

func TestRun_CartClearFailureDoesNotFail(t *testing.T) {
	cartSvc := &fakeCart{err: errors.New("cart service down")}
	flow := newFlow(&fakeOrders{}, &fakePayments{}, cartSvc)

	res, err := flow.Run(context.Background(), Request{
		Items:    items(10),
		Method:   MethodCash,
		FromCart: true,
	})
	require.NoError(t, err, "cart clear is best effort")
	assert.Equal(t, 1, cartSvc.cleared)
	assert.Equal(t, "order-1", res.OrderID)
	assert.Equal(t, StateDone, flow.State())
}

func TestRun_NoCartClearForDirectPurchase(t *testing.T) {
	cartSvc := &fakeCart{}
	flow := newFlow(&fakeOrders{}, &fakePayments{}, cartSvc)

	_, err := flow.Run(context.Background(), Request{Items: items(10), Method: MethodCash})
	require.NoError(t, err)
	assert.Equal(t, 0, cartSvc.cleared)
}

func TestRun_ServerTotalMismatchProceeds(t *testing.T) {
	orders := &fakeOrders{serverTotal: decimal.NewFromInt(999)}
	payments := &fakePayments{}
	flow := newFlow(orders, payments, &fakeCart{})

	res, err := flow.Run(context.Background(), Request{Items: items(10), Method: MethodCash})
	require.NoError(t, err, "total mismatch is logged, not fatal")
	require.Len(t, payments.submits, 1)
	assert.True(t, payments.submits[0].total.Equal(decimal.NewFromInt(10)), "payment uses the client-computed total")
	assert.True(t, res.Total.Equal(decimal.NewFromInt(10)))
}

func TestRun_DeclinedPayment(t *testing.T) {
	flow := newFlow(&fakeOrders{}, &fakePayments{declined: true}, &fakeCart{})

	_, err := flow.Run(context.Background(), Request{Items: items(10), Method: MethodCash, FromCart: true})
	require.ErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, StateFailed, flow.State())
}
