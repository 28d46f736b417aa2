package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Result is the closed set of settlement outcomes: Settled, SettledWithWarning,
// Rejected and Failed. Callers switch on the concrete type.
type Result interface {
	isResult()
	// Outcome names the variant, for logging and wire encoding.
	Outcome() string
}

// Receipt is what a durable order looks like to the caller.
type Receipt struct {
	OrderID     string          `json:"order_id"`
	Code        string          `json:"code"`
	CreatedAt   time.Time       `json:"created_at"`
	OperatorID  string          `json:"operator_id,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	// Replayed is set when an idempotent retry found the order already stored.
	Replayed bool `json:"replayed,omitempty"`
}

// Settled means the order is durable and every stock decrement applied.
type Settled struct {
	Receipt
}

// SettledWithWarning means the order is durable but some stock decrements failed
// and inventory must be reconciled.
type SettledWithWarning struct {
	Receipt
	FailedAdjustments []FailedAdjustment `json:"failed_adjustments"`
}

// FailedAdjustment names an item whose stock was not decremented.
type FailedAdjustment struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
	Error    string `json:"error"`
}

// FailedItemIDs lists the items needing reconciliation.
func (s SettledWithWarning) FailedItemIDs() []string {
	ids := make([]string, 0, len(s.FailedAdjustments))
	for _, f := range s.FailedAdjustments {
		ids = append(ids, f.ItemID)
	}
	return ids
}

// Rejected means nothing was written; the reason is user-correctable.
type Rejected struct {
	Reason RejectReason `json:"reason"`
}

// Failed means the order could not be persisted; nothing was written.
type Failed struct {
	Reason PersistenceFailed `json:"reason"`
}

func (Settled) isResult()            {}
func (SettledWithWarning) isResult() {}
func (Rejected) isResult()           {}
func (Failed) isResult()             {}

func (Settled) Outcome() string            { return "Settled" }
func (SettledWithWarning) Outcome() string { return "SettledWithWarning" }
func (Rejected) Outcome() string           { return "Rejected" }
func (Failed) Outcome() string             { return "Failed" }

// RejectReason is the closed set of reasons a cart is turned away before
// anything is written.
type RejectReason interface {
	isRejectReason()
	Code() string
	Message() string
}

// EmptyCart: the cart had no lines.
type EmptyCart struct{}

// InsufficientStock lists every under-stocked item, not just the first.
type InsufficientStock struct {
	Shortfalls []Shortfall `json:"shortfalls"`
}

// Shortfall is one item the store cannot cover.
type Shortfall struct {
	ItemID    string `json:"item_id"`
	ItemName  string `json:"item_name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Unauthenticated: the deployment requires an operator identity and none was present.
type Unauthenticated struct{}

// StockCheckUnavailable: current stock could not be read, so the check could not run.
type StockCheckUnavailable struct {
	ItemIDs []string `json:"item_ids"`
	Cause   string   `json:"cause"`
}

// IdempotencyConflict: the key was already used for an order with different lines.
type IdempotencyConflict struct {
	OrderID   string `json:"order_id"`
	OrderCode string `json:"order_code"`
}

func (EmptyCart) isRejectReason()             {}
func (InsufficientStock) isRejectReason()     {}
func (Unauthenticated) isRejectReason()       {}
func (StockCheckUnavailable) isRejectReason() {}
func (IdempotencyConflict) isRejectReason()   {}

func (EmptyCart) Code() string             { return "empty_cart" }
func (InsufficientStock) Code() string     { return "insufficient_stock" }
func (Unauthenticated) Code() string       { return "unauthenticated" }
func (StockCheckUnavailable) Code() string { return "stock_check_unavailable" }
func (IdempotencyConflict) Code() string   { return "idempotency_conflict" }

func (EmptyCart) Message() string { return "Cart is empty" }

func (r InsufficientStock) Message() string {
	parts := make([]string, 0, len(r.Shortfalls))
	for _, s := range r.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", s.ItemName, s.Requested, s.Available))
	}
	return "Insufficient stock for " + strings.Join(parts, "; ")
}

func (Unauthenticated) Message() string { return "An operator login is required to settle orders" }

func (r StockCheckUnavailable) Message() string {
	return fmt.Sprintf("Could not read current stock for %s: %s", strings.Join(r.ItemIDs, ", "), r.Cause)
}

func (r IdempotencyConflict) Message() string {
	return fmt.Sprintf("Idempotency key was already used for order %s with different lines", r.OrderCode)
}

// PersistenceFailed: the order write did not commit. Safe to retry manually after
// confirming with the operator; a retry with the same idempotency key cannot duplicate.
type PersistenceFailed struct {
	OrderID string `json:"order_id"`
	Cause   string `json:"cause"`
}

func (p PersistenceFailed) Code() string { return "persistence_failed" }

func (p PersistenceFailed) Message() string {
	return "The order could not be saved: " + p.Cause
}
