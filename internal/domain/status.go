package domain

// EventKind identifies a ledger event type.
type EventKind string

const (
	EventSnapshot      EventKind = "SNAPSHOT"
	EventOrder         EventKind = "ORDER"
	EventReceipt       EventKind = "RECEIPT"
	EventSale          EventKind = "SALE"
	EventWaste         EventKind = "WASTE"
	EventAdjust        EventKind = "ADJUST"
	EventUnfulfilled   EventKind = "UNFULFILLED"
	EventAssortmentIn  EventKind = "ASSORTMENT_IN"
	EventAssortmentOut EventKind = "ASSORTMENT_OUT"
)

// Priority orders events within one day: SNAPSHOT first, then stock
// movements from orders, then consumption, then lost-demand markers.
func (k EventKind) Priority() int {
	switch k {
	case EventSnapshot:
		return 0
	case EventOrder, EventReceipt:
		return 1
	case EventSale, EventWaste, EventAdjust:
		return 2
	case EventUnfulfilled:
		return 3
	default:
		return 4
	}
}

// Valid reports whether k is a recognized event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventSnapshot, EventOrder, EventReceipt, EventSale, EventWaste,
		EventAdjust, EventUnfulfilled, EventAssortmentIn, EventAssortmentOut:
		return true
	}
	return false
}

// OrderStatus is the receiving state of an order-log entry.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderPartial  OrderStatus = "PARTIAL"
	OrderReceived OrderStatus = "RECEIVED"
)

// DeriveOrderStatus computes the status from ordered vs received quantities.
func DeriveOrderStatus(qtyOrdered, qtyReceived int) OrderStatus {
	switch {
	case qtyReceived <= 0:
		return OrderPending
	case qtyReceived < qtyOrdered:
		return OrderPartial
	default:
		return OrderReceived
	}
}
