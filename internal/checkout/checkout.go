// Package checkout orchestrates the order/payment sequence: compute the
// total, create the order, split cash against points, submit the payment
// (or its gift variant), and clear the cart. The flow is an explicit state
// machine; there is no compensation on failure, the order stays in
// whatever state the server left it.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/withgift/storefront/internal/cart"
	"github.com/withgift/storefront/internal/order"
	"github.com/withgift/storefront/internal/payment"
	"github.com/withgift/storefront/pkg/logger"
)

// Method selects how the order total is covered.
type Method int

const (
	MethodCash Method = iota
	MethodPoints
	MethodSplit
)

func (m Method) String() string {
	switch m {
	case MethodCash:
		return "cash"
	case MethodPoints:
		return "points"
	case MethodSplit:
		return "split"
	default:
		return "unknown"
	}
}

// State is the flow's position in the checkout sequence.
type State int

const (
	StateIdle State = iota
	StateCreatingOrder
	StatePaying
	StateClearingCart
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreatingOrder:
		return "creating-order"
	case StatePaying:
		return "paying"
	case StateClearingCart:
		return "clearing-cart"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Errors
var (
	ErrNoItems         = errors.New("nothing to buy")
	ErrPaymentDeclined = errors.New("payment declined")
)

// InsufficientPointsError reports a points-only payment attempted with too
// small a balance. Raised locally, before any network call.
type InsufficientPointsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: need %s, have %s", e.Required, e.Available)
}

// OrderService creates orders.
type OrderService interface {
	Create(ctx context.Context, receiverID string, items []cart.LineItem) (order.Order, error)
}

// PaymentService submits payments.
type PaymentService interface {
	Submit(ctx context.Context, orderID string, total, pointsUsed decimal.Decimal) (payment.Result, error)
	SubmitGift(ctx context.Context, roomID, orderID string, total, pointsUsed decimal.Decimal) (payment.Result, error)
}

// CartService clears the cart after a successful purchase.
type CartService interface {
	Clear(ctx context.Context) error
}

// Request describes one checkout.
type Request struct {
	ReceiverID string
	Items      []cart.LineItem
	Method     Method
	// PointsRequested is the user-entered points amount for split payment.
	// It is clamped into [0, min(total, available)]; negative or overshoot
	// input never escapes the client.
	PointsRequested decimal.Decimal
	// PointsAvailable is the caller's known points balance, fetched on the
	// payment screen. The flow validates against it locally; no balance
	// lookup happens inside the flow.
	PointsAvailable decimal.Decimal
	// GiftRoomID, when set, routes the payment through the gift variant so
	// the chat room is notified with the purchase.
	GiftRoomID string
	// FromCart marks cart-originated checkouts whose cart should be
	// cleared on success.
	FromCart bool
}

// Result is a completed checkout.
type Result struct {
	OrderID    string
	Status     string
	Total      decimal.Decimal
	CashAmount decimal.Decimal
	PointsUsed decimal.Decimal
	Payment    payment.Result
	Items      []cart.LineItem
}

// Flow runs checkouts. One Flow handles one checkout at a time.
type Flow struct {
	orders   OrderService
	payments PaymentService
	cart     CartService
	log      *logger.Logger
	state    State
}

// NewFlow creates a checkout flow.
func NewFlow(orders OrderService, payments PaymentService, cartSvc CartService, log *logger.Logger) *Flow {
	if log == nil {
		log = logger.NewDefault("checkout")
	}
	return &Flow{
		orders:   orders,
		payments: payments,
		cart:     cartSvc,
		log:      log,
		state:    StateIdle,
	}
}

// State reports the flow's current state.
func (f *Flow) State() State {
	return f.state
}

// Total sums unit price times quantity across line items.
func Total(items []cart.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// SplitPoints computes the points portion for a payment. The returned value
// always satisfies cash + points == total with cash = total - points.
func SplitPoints(method Method, total, available, requested decimal.Decimal) (decimal.Decimal, error) {
	switch method {
	case MethodCash:
		return decimal.Zero, nil
	case MethodPoints:
		if available.LessThan(total) {
			return decimal.Zero, &InsufficientPointsError{Required: total, Available: available}
		}
		return total, nil
	case MethodSplit:
		limit := decimal.Min(total, available)
		points := requested
		if points.IsNegative() {
			points = decimal.Zero
		}
		if points.GreaterThan(limit) {
			points = limit
		}
		return points, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown payment method %d", method)
	}
}

// Run executes the checkout sequence and returns the completed result.
func (f *Flow) Run(ctx context.Context, req Request) (Result, error) {
	res, err := f.run(ctx, req)
	if err != nil {
		f.state = StateFailed
		return Result{}, err
	}
	f.state = StateDone
	return res, nil
}

func (f *Flow) run(ctx context.Context, req Request) (Result, error) {
	if len(req.Items) == 0 {
		return Result{}, ErrNoItems
	}

	total := Total(req.Items)

	points, err := SplitPoints(req.Method, total, req.PointsAvailable, req.PointsRequested)
	if err != nil {
		return Result{}, err
	}
	cash := total.Sub(points)

	f.state = StateCreatingOrder
	ord, err := f.orders.Create(ctx, req.ReceiverID, req.Items)
	if err != nil {
		return Result{}, err
	}

	if !ord.TotalPrice.Equal(total) {
		// Mismatch is suspicious but not fatal; the server re-validates
		// the split on payment.
		f.log.WithFields(map[string]any{
			"order_id":     ord.ID,
			"client_total": total,
			"server_total": ord.TotalPrice,
		}).Warn("order total mismatch, proceeding with client total")
	}

	f.state = StatePaying
	var payRes payment.Result
	if req.GiftRoomID != "" {
		payRes, err = f.payments.SubmitGift(ctx, req.GiftRoomID, ord.ID, total, points)
	} else {
		payRes, err = f.payments.Submit(ctx, ord.ID, total, points)
	}
	if err != nil {
		return Result{}, err
	}
	if payRes.Status == payment.StatusDeclined {
		return Result{}, fmt.Errorf("order %s: %w", ord.ID, ErrPaymentDeclined)
	}

	if req.FromCart {
		f.state = StateClearingCart
		if err := f.cart.Clear(ctx); err != nil {
			// Best effort only; a lingering cart never blocks completion.
			f.log.WithError(err).WithField("order_id", ord.ID).Warn("cart clear failed after payment")
		}
	}

	f.log.WithFields(map[string]any{
		"order_id": ord.ID,
		"method":   req.Method.String(),
		"total":    total,
		"points":   points,
		"gift":     req.GiftRoomID != "",
	}).Info("checkout completed")

	return Result{
		OrderID:    ord.ID,
		Status:     order.StatusSuccess,
		Total:      total,
		CashAmount: cash,
		PointsUsed: points,
		Payment:    payRes,
		Items:      req.Items,
	}, nil
}
