package catalog

import (
	"errors"
	"time"
)

// ErrStockExhausted is returned when a decrement would take stock below zero.
var ErrStockExhausted = errors.New("stock quantity would go negative")

// Movement directions.
const (
	MovementIn  = "IN"
	MovementOut = "OUT"
)

// Reference types recorded with a movement.
const (
	ReferenceSale       = "SALE"
	ReferenceAdjustment = "ADJUSTMENT"
	ReferenceReconcile  = "RECONCILE"
)

// StockAdjustment is a signed change to an item's stock quantity plus the
// bookkeeping that explains it.
type StockAdjustment struct {
	ItemID        string `json:"item_id"`
	Delta         int    `json:"delta"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id,omitempty"`
	OperatorID    string `json:"operator_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// MovementType is IN for positive deltas and OUT otherwise.
func (a StockAdjustment) MovementType() string {
	if a.Delta > 0 {
		return MovementIn
	}
	return MovementOut
}

// StockMovement is a recorded StockAdjustment.
type StockMovement struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	MovementType  string    `json:"movement_type"`
	Quantity      int       `json:"quantity"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	OperatorID    string    `json:"operator_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
