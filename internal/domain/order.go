package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side, used when unwinding a filled leg.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the order lifecycle as reported by the venue.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAcknowledged    OrderStatus = "acknowledged"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is final from the venue's perspective.
// A partially filled order that was subsequently cancelled reports cancelled
// with a non-zero FilledSize.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is one leg of an execution attempt. It is owned exclusively by the
// coordinator instance driving its parent attempt; nothing else mutates it.
// Price and size use fixed-point 1e6 ticks so order math stays exact.
type Order struct {
	ID         string
	VenueID    string
	Instrument Instrument
	Side       OrderSide
	PriceTicks int64 // fixed-point: price * 1e6
	SizeUnits  int64 // fixed-point: size  * 1e6
	FilledSize float64
	FillPrice  float64 // average fill price, 0 until first fill
	FeeUSD     float64
	Status     OrderStatus
	Unwind     bool // true for orders placed by the unwind sub-path
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Price returns the float64 display price from fixed-point ticks.
func (o Order) Price() float64 { return float64(o.PriceTicks) / 1e6 }

// Size returns the float64 display size from fixed-point units.
func (o Order) Size() float64 { return float64(o.SizeUnits) / 1e6 }

// ToTicks converts a display price or size to fixed-point 1e6 ticks.
func ToTicks(v float64) int64 {
	if v >= 0 {
		return int64(v*1e6 + 0.5)
	}
	return int64(v*1e6 - 0.5)
}

// OrderAck is the synchronous venue response to order submission. Fills
// arrive asynchronously as OrderUpdate notifications.
type OrderAck struct {
	OrderID  string
	Accepted bool
	Message  string
}

// OrderUpdate is an asynchronous order status notification from a venue:
// acknowledgement, fill, cancel, or rejection.
type OrderUpdate struct {
	OrderID    string
	Status     OrderStatus
	FilledSize float64
	FillPrice  float64
	FeeUSD     float64
	Timestamp  time.Time
}

// statusRank orders the lifecycle so out-of-order updates cannot move an
// order backwards. All terminal statuses share the top rank.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:         0,
	OrderStatusAcknowledged:    1,
	OrderStatusPartiallyFilled: 2,
	OrderStatusFilled:          3,
	OrderStatusCancelled:       3,
	OrderStatusRejected:        3,
}

// Apply merges an update into the order. Updates never regress the status:
// a late acknowledgement arriving after a partial fill keeps the fill state.
func (o *Order) Apply(u OrderUpdate) {
	if o.Status.Terminal() {
		return
	}
	if statusRank[u.Status] >= statusRank[o.Status] {
		o.Status = u.Status
	}
	if u.FilledSize > o.FilledSize {
		o.FilledSize = u.FilledSize
	}
	if u.FillPrice > 0 {
		o.FillPrice = u.FillPrice
	}
	if u.FeeUSD > 0 {
		o.FeeUSD = u.FeeUSD
	}
	o.UpdatedAt = u.Timestamp
}
