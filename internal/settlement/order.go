package settlement

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cafepos/internal/catalog"
)

// ErrDuplicateOrder is returned by an OrderStore when an order id already exists.
var ErrDuplicateOrder = errors.New("order already exists")

// ErrOrderNotFound is returned by an OrderStore lookup that matches nothing.
var ErrOrderNotFound = errors.New("order not found")

// Order is the durable record of a settled sale.
type Order struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	CreatedAt      time.Time       `json:"created_at"`
	OperatorID     string          `json:"operator_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	Lines          []OrderLine     `json:"lines"`
}

// OrderLine is a cart line as it was settled.
type OrderLine struct {
	OrderID     string          `json:"order_id"`
	ItemID      string          `json:"item_id"`
	ItemName    string          `json:"item_name"`
	Kind        catalog.Kind    `json:"kind"`
	VariantID   string          `json:"variant_id,omitempty"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Receipt summarizes a stored order.
func (o Order) Receipt() Receipt {
	return Receipt{
		OrderID:     o.ID,
		Code:        o.Code,
		CreatedAt:   o.CreatedAt,
		OperatorID:  o.OperatorID,
		TotalAmount: o.TotalAmount,
		TotalProfit: o.TotalProfit,
	}
}

// InventoryStore reads and adjusts stocked-good quantities.
type InventoryStore interface {
	GetStockQuantity(ctx context.Context, itemID string) (int, error)
	// AdjustStockQuantity applies adj.Delta and records a movement. It returns
	// catalog.ErrStockExhausted rather than let stock go below zero.
	AdjustStockQuantity(ctx context.Context, adj catalog.StockAdjustment) error
}

// OrderStore persists an order with all of its lines, or none of them.
type OrderStore interface {
	CreateOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
}

// IdentityProvider reports the operator behind a request, if any.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// PendingAdjustmentSink records decrements that failed after an order was stored.
type PendingAdjustmentSink interface {
	RecordPendingAdjustment(ctx context.Context, adj catalog.StockAdjustment, cause string) error
}

// idempotencyNamespace scopes order ids derived from client idempotency keys.
var idempotencyNamespace = uuid.MustParse("6f1c3a52-8e0b-4c1d-9a57-2b7d0c4e9f13")

// orderID derives a stable id from key so retries collide on the primary key.
func orderID(key string) string {
	if key == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(idempotencyNamespace, []byte(key)).String()
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// orderCode builds the human-readable TRX-YYYYMMDD-XXXXXX code.
func orderCode(now time.Time) string {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return "TRX-" + now.Format("20060102") + "-" + codeEncoding.EncodeToString(b[:])[:6]
}
