// Package settlement turns a finished cart into a durable order and applies
// the resulting stock decrements.
//
// The order of operations is fixed: stock check, then order persistence, then
// stock adjustment. Stock is never decremented for an order that was not
// stored. A decrement that fails after the order is stored is reported, not
// rolled back.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cafepos/internal/cart"
	"cafepos/internal/catalog"
	"cafepos/internal/logger"
	"cafepos/internal/money"
)

// ErrMalformedCart signals a programming error in the caller: a line with a
// non-positive quantity, a missing item id, an unknown kind or a negative
// price or cost.
var ErrMalformedCart = errors.New("malformed cart")

// State is a step of a single settlement.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateReserving
	StatePersisting
	StateAdjustingStock
	StateSettled
	StateSettledWithWarning
	StateRejected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateValidating:
		return "Validating"
	case StateReserving:
		return "Reserving"
	case StatePersisting:
		return "Persisting"
	case StateAdjustingStock:
		return "AdjustingStock"
	case StateSettled:
		return "Settled"
	case StateSettledWithWarning:
		return "SettledWithWarning"
	case StateRejected:
		return "Rejected"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s >= StateSettled
}

// Deps are the collaborators a Workflow talks to.
type Deps struct {
	Inventory InventoryStore
	Orders    OrderStore
	Identity  IdentityProvider
	// Pending is optional; without it failed decrements are only logged and reported.
	Pending PendingAdjustmentSink
}

// Options tune a Workflow. Zero values pick the defaults.
type Options struct {
	// RequireOperator rejects settlements with no authenticated operator.
	RequireOperator bool
	// MaxConcurrency bounds parallel stock reads and adjustments.
	MaxConcurrency int
	// StoreTimeout bounds the uncancellable persistence and adjustment phase.
	StoreTimeout time.Duration
	// Location is used for the date part of order codes.
	Location *time.Location
	// Now overrides the clock.
	Now func() time.Time
	// OnTransition observes every state change of every settlement.
	OnTransition func(orderRef string, from, to State)
}

const (
	defaultMaxConcurrency = 4
	defaultStoreTimeout   = 30 * time.Second
)

// Request is one settlement attempt.
type Request struct {
	Lines []cart.Line
	// IdempotencyKey makes retries of the same checkout land on the same order.
	IdempotencyKey string
}

// Workflow settles carts. It holds no per-settlement state and is safe for
// concurrent use.
type Workflow struct {
	deps Deps
	opts Options
}

// New builds a Workflow. Inventory, Orders and Identity are required.
func New(deps Deps, opts Options) (*Workflow, error) {
	if deps.Inventory == nil || deps.Orders == nil || deps.Identity == nil {
		return nil, errors.New("settlement: inventory, order and identity stores are required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Workflow{deps: deps, opts: opts}, nil
}

// run tracks the state of one settlement.
type run struct {
	w     *Workflow
	ref   string
	state State
}

func (r *run) to(next State) {
	prev := r.state
	r.state = next
	logger.LogDebug("settlement %s: %s -> %s", r.ref, prev, next)
	if r.w.opts.OnTransition != nil {
		r.w.opts.OnTransition(r.ref, prev, next)
	}
}

// stockNeed is the total quantity of one stocked good across the cart.
type stockNeed struct {
	itemID   string
	itemName string
	quantity int
}

// Settle validates the cart against current stock, stores the order and
// decrements stock for stocked goods.
//
// The returned error is non-nil only for ErrMalformedCart or when ctx is done
// before the order is written. Every business outcome is a Result. Once
// persistence starts, cancellation of ctx no longer interrupts the settlement.
func (w *Workflow) Settle(ctx context.Context, req Request) (Result, error) {
	id := orderID(req.IdempotencyKey)
	r := &run{w: w, ref: id}
	r.to(StateValidating)

	if err := checkLines(req.Lines); err != nil {
		r.to(StateRejected)
		return nil, err
	}
	if len(req.Lines) == 0 {
		r.to(StateRejected)
		return Rejected{Reason: EmptyCart{}}, nil
	}

	operatorID, authenticated := w.deps.Identity.CurrentUserID(ctx)
	if w.opts.RequireOperator && !authenticated {
		r.to(StateRejected)
		return Rejected{Reason: Unauthenticated{}}, nil
	}

	// A retry must see its own order before the stock check, which the first
	// attempt may have drained.
	if req.IdempotencyKey != "" {
		existing, err := w.deps.Orders.GetOrder(ctx, id)
		switch {
		case err == nil:
			return w.replay(r, existing, req.Lines)
		case !errors.Is(err, ErrOrderNotFound):
			logger.LogWarn("Could not look up order %s before settling, relying on the duplicate check: %v", id, err)
		}
	}

	needs := stockNeeds(req.Lines)

	r.to(StateReserving)
	if reason, err := w.checkStock(ctx, needs); err != nil {
		r.to(StateRejected)
		return nil, err
	} else if reason != nil {
		r.to(StateRejected)
		logger.LogInfo("Settlement %s rejected: %s", id, reason.Message())
		return Rejected{Reason: reason}, nil
	}

	if err := ctx.Err(); err != nil {
		r.to(StateRejected)
		return nil, err
	}

	// From here on the order may become durable; finish regardless of the caller.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.StoreTimeout)
	defer cancel()

	now := w.opts.Now()
	order := buildOrder(id, orderCode(now.In(w.opts.Location)), now, operatorID, req)

	r.to(StatePersisting)
	if err := w.deps.Orders.CreateOrder(storeCtx, order); err != nil {
		if errors.Is(err, ErrDuplicateOrder) && req.IdempotencyKey != "" {
			return w.replayDuplicate(storeCtx, r, id, req.Lines)
		}
		logger.LogError("Failed to persist order %s: %v", id, err)
		r.to(StateFailed)
		return Failed{Reason: PersistenceFailed{OrderID: id, Cause: err.Error()}}, nil
	}
	logger.LogInfo("Order %s (%s) stored: total=%s lines=%d", order.Code, id, money.Format(order.TotalAmount), len(order.Lines))

	r.to(StateAdjustingStock)
	failed := w.adjustStock(storeCtx, order, needs)
	if len(failed) > 0 {
		r.to(StateSettledWithWarning)
		return SettledWithWarning{Receipt: order.Receipt(), FailedAdjustments: failed}, nil
	}

	r.to(StateSettled)
	return Settled{Receipt: order.Receipt()}, nil
}

// replayDuplicate handles a concurrent attempt with the same key that lost
// the insert race.
func (w *Workflow) replayDuplicate(ctx context.Context, r *run, id string, lines []cart.Line) (Result, error) {
	existing, err := w.deps.Orders.GetOrder(ctx, id)
	if err != nil {
		logger.LogError("Order %s reported duplicate but could not be loaded: %v", id, err)
		r.to(StateFailed)
		return Failed{Reason: PersistenceFailed{OrderID: id, Cause: err.Error()}}, nil
	}
	return w.replay(r, existing, lines)
}

// replay answers a retried idempotent checkout with the order stored the
// first time, or rejects it when the retry carries different lines.
//
// A replay always reports Settled, even if the first attempt settled with a
// warning. That warning was returned with the first response and its failed
// adjustments are already in the reconciliation queue.
func (w *Workflow) replay(r *run, existing *Order, lines []cart.Line) (Result, error) {
	if !sameLines(existing.Lines, lines) {
		logger.LogWarn("Idempotency key for order %s (%s) reused with a different cart", existing.Code, existing.ID)
		r.to(StateRejected)
		return Rejected{Reason: IdempotencyConflict{OrderID: existing.ID, OrderCode: existing.Code}}, nil
	}

	logger.LogInfo("Idempotent replay of order %s (%s)", existing.Code, existing.ID)
	receipt := existing.Receipt()
	receipt.Replayed = true
	r.to(StateSettled)
	return Settled{Receipt: receipt}, nil
}

// sameLines compares quantities per item and variant. Prices are ignored so a
// reprice between attempts does not turn a retry into a conflict.
func sameLines(stored []OrderLine, lines []cart.Line) bool {
	want := make(map[string]int, len(stored))
	for _, l := range stored {
		want[l.ItemID+"\x00"+l.VariantID] += l.Quantity
	}
	got := make(map[string]int, len(lines))
	for _, l := range lines {
		got[l.Key()] += l.Quantity
	}
	if len(want) != len(got) {
		return false
	}
	for k, q := range want {
		if got[k] != q {
			return false
		}
	}
	return true
}

func checkLines(lines []cart.Line) error {
	for i, l := range lines {
		switch {
		case strings.TrimSpace(l.ItemID) == "":
			return fmt.Errorf("%w: line %d has no item id", ErrMalformedCart, i)
		case l.Quantity < 1:
			return fmt.Errorf("%w: line %d (%s) has quantity %d", ErrMalformedCart, i, l.ItemID, l.Quantity)
		case l.Kind != catalog.PreparedBeverage && l.Kind != catalog.StockedGood:
			return fmt.Errorf("%w: line %d (%s) has unknown kind %s", ErrMalformedCart, i, l.ItemID, l.Kind)
		case l.UnitPrice.IsNegative():
			return fmt.Errorf("%w: line %d (%s) has a negative price", ErrMalformedCart, i, l.ItemID)
		case l.UnitCost.IsNegative():
			return fmt.Errorf("%w: line %d (%s) has a negative cost", ErrMalformedCart, i, l.ItemID)
		}
	}
	return nil
}

// stockNeeds sums stocked-good quantities per item, in first-seen cart order.
func stockNeeds(lines []cart.Line) []stockNeed {
	var needs []stockNeed
	index := make(map[string]int)
	for _, l := range lines {
		if l.Kind != catalog.StockedGood {
			continue
		}
		if i, ok := index[l.ItemID]; ok {
			needs[i].quantity += l.Quantity
			continue
		}
		index[l.ItemID] = len(needs)
		needs = append(needs, stockNeed{itemID: l.ItemID, itemName: l.ItemName, quantity: l.Quantity})
	}
	return needs
}

// checkStock reads current stock for every need concurrently and collects
// every shortfall. A nil reason means the cart can be covered.
func (w *Workflow) checkStock(ctx context.Context, needs []stockNeed) (RejectReason, error) {
	if len(needs) == 0 {
		return nil, nil
	}

	available := make([]int, len(needs))
	readErrs := make([]error, len(needs))

	var g errgroup.Group
	g.SetLimit(w.opts.MaxConcurrency)
	for i, n := range needs {
		g.Go(func() error {
			qty, err := w.deps.Inventory.GetStockQuantity(ctx, n.itemID)
			available[i], readErrs[i] = qty, err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var unreadable []string
	var causes []string
	var shortfalls []Shortfall
	for i, n := range needs {
		if readErrs[i] != nil {
			unreadable = append(unreadable, n.itemID)
			causes = append(causes, readErrs[i].Error())
			continue
		}
		if n.quantity > available[i] {
			shortfalls = append(shortfalls, Shortfall{
				ItemID:    n.itemID,
				ItemName:  n.itemName,
				Requested: n.quantity,
				Available: available[i],
			})
		}
	}

	if len(unreadable) > 0 {
		logger.LogWarn("Stock check could not read %v: %v", unreadable, causes)
		return StockCheckUnavailable{ItemIDs: unreadable, Cause: strings.Join(causes, "; ")}, nil
	}
	if len(shortfalls) > 0 {
		return InsufficientStock{Shortfalls: shortfalls}, nil
	}
	return nil, nil
}

// adjustStock decrements every stocked good of a stored order. Failures are
// recorded for reconciliation and returned in cart order.
func (w *Workflow) adjustStock(ctx context.Context, order Order, needs []stockNeed) []FailedAdjustment {
	if len(needs) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed = make(map[int]FailedAdjustment)
	)

	var g errgroup.Group
	g.SetLimit(w.opts.MaxConcurrency)
	for i, n := range needs {
		g.Go(func() error {
			adj := catalog.StockAdjustment{
				ItemID:        n.itemID,
				Delta:         -n.quantity,
				ReferenceType: catalog.ReferenceSale,
				ReferenceID:   order.ID,
				OperatorID:    order.OperatorID,
				Notes:         "Sale " + order.Code,
			}
			err := w.deps.Inventory.AdjustStockQuantity(ctx, adj)
			if err == nil {
				return nil
			}

			logger.LogError("Stock decrement of %d for %s failed after order %s was stored: %v",
				n.quantity, n.itemID, order.Code, err)
			if w.deps.Pending != nil {
				if perr := w.deps.Pending.RecordPendingAdjustment(ctx, adj, err.Error()); perr != nil {
					logger.LogError("Could not record pending adjustment for %s on order %s: %v", n.itemID, order.Code, perr)
				}
			}

			mu.Lock()
			failed[i] = FailedAdjustment{ItemID: n.itemID, ItemName: n.itemName, Quantity: n.quantity, Error: err.Error()}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return nil
	}
	out := make([]FailedAdjustment, 0, len(failed))
	for i := range needs {
		if f, ok := failed[i]; ok {
			out = append(out, f)
		}
	}
	return out
}

func buildOrder(id, code string, now time.Time, operatorID string, req Request) Order {
	summary := cart.Totals(req.Lines)
	order := Order{
		ID:             id,
		Code:           code,
		CreatedAt:      now,
		OperatorID:     operatorID,
		IdempotencyKey: req.IdempotencyKey,
		TotalAmount:    summary.Amount,
		TotalProfit:    summary.Profit,
		Lines:          make([]OrderLine, 0, len(req.Lines)),
	}
	for _, l := range req.Lines {
		order.Lines = append(order.Lines, OrderLine{
			OrderID:     id,
			ItemID:      l.ItemID,
			ItemName:    l.ItemName,
			Kind:        l.Kind,
			VariantID:   l.VariantID,
			VariantName: l.VariantName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			UnitCost:    l.UnitCost,
			LineTotal:   l.LineTotal(),
		})
	}
	return order
}
