package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/catalog"
	"cafepos/internal/data"
)

type fakePending struct {
	mu        sync.Mutex
	items     []data.PendingAdjustment
	resolved  []string
	abandoned map[string]string
	failures  map[string]int
}

func newFakePending(items ...data.PendingAdjustment) *fakePending {
	return &fakePending{items: items, abandoned: map[string]string{}, failures: map[string]int{}}
}

func (f *fakePending) ListPending(ctx context.Context, limit int) ([]data.PendingAdjustment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]data.PendingAdjustment(nil), f.items...), nil
}

func (f *fakePending) MarkResolved(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, id)
	return nil
}

func (f *fakePending) RecordAttemptFailure(ctx context.Context, id, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id]++
	return nil
}

func (f *fakePending) MarkAbandoned(ctx context.Context, id, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned[id] = cause
	return nil
}

type fakeStock struct {
	mu      sync.Mutex
	errs    map[string][]error // queued results per item
	landed  map[string]bool
	applied []catalog.StockAdjustment
	calls   int
}

func (f *fakeStock) AdjustStockQuantity(ctx context.Context, adj catalog.StockAdjustment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if q := f.errs[adj.ItemID]; len(q) > 0 {
		err := q[0]
		f.errs[adj.ItemID] = q[1:]
		if err != nil {
			return err
		}
	}
	f.applied = append(f.applied, adj)
	return nil
}

func (f *fakeStock) HasMovement(ctx context.Context, itemID, referenceType, referenceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.landed[itemID+"/"+referenceID], nil
}

func pending(id, itemID string, attempts int) data.PendingAdjustment {
	return data.PendingAdjustment{
		ID: id,
		Adjustment: catalog.StockAdjustment{
			ItemID:        itemID,
			Delta:         -1,
			ReferenceType: catalog.ReferenceSale,
			ReferenceID:   "order-" + id,
		},
		Attempts: attempts,
		Status:   data.PendingStatusPending,
	}
}

var errDBLocked = errors.New("database is locked")

func TestRunOnceAppliesPendingAdjustment(t *testing.T) {
	queue := newFakePending(pending("p1", "book-1", 0))
	stock := &fakeStock{}

	report, err := NewService(queue, stock).WithRetry(2, time.Millisecond).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Resolved: 1}, report)
	assert.Equal(t, []string{"p1"}, queue.resolved)
	require.Len(t, stock.applied, 1)
	assert.Equal(t, "order-p1", stock.applied[0].ReferenceID)
}

func TestRunOnceSkipsAdjustmentThatAlreadyLanded(t *testing.T) {
	queue := newFakePending(pending("p1", "book-1", 0))
	stock := &fakeStock{landed: map[string]bool{"book-1/order-p1": true}}

	report, err := NewService(queue, stock).WithRetry(2, time.Millisecond).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Resolved)
	assert.Zero(t, stock.calls, "must not apply the decrement twice")
}

func TestRunOnceRetriesWithinPass(t *testing.T) {
	queue := newFakePending(pending("p1", "book-1", 0))
	stock := &fakeStock{errs: map[string][]error{"book-1": {errDBLocked}}}

	report, err := NewService(queue, stock).WithRetry(3, time.Millisecond).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 2, stock.calls)
}

func TestRunOnceAbandonsWhenStockIsGone(t *testing.T) {
	queue := newFakePending(pending("p1", "book-1", 0), pending("p2", "deleted", 0))
	stock := &fakeStock{errs: map[string][]error{
		"book-1":  {catalog.ErrStockExhausted},
		"deleted": {catalog.ErrNotFound},
	}}

	report, err := NewService(queue, stock).WithRetry(3, time.Millisecond).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Abandoned: 2}, report)
	assert.Contains(t, queue.abandoned, "p1")
	assert.Contains(t, queue.abandoned, "p2")
	assert.Equal(t, 2, stock.calls, "permanent failures are not retried")
}

func TestRunOnceKeepsTransientFailuresQueued(t *testing.T) {
	queue := newFakePending(pending("p1", "book-1", 0))
	stock := &fakeStock{errs: map[string][]error{"book-1": {errDBLocked, errDBLocked}}}

	report, err := NewService(queue, stock).WithRetry(2, time.Millisecond).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Retrying: 1}, report)
	assert.Equal(t, 1, queue.failures["p1"])
	assert.Empty(t, queue.abandoned)
}

func TestRunOnceAbandonsAfterMaxAttempts(t *testing.T) {
	queue := newFakePending(pending("p1", "book-1", 4))
	stock := &fakeStock{errs: map[string][]error{"book-1": {errDBLocked}}}

	report, err := NewService(queue, stock).WithRetry(1, time.Millisecond).WithMaxAttempts(5).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Abandoned: 1}, report)
	assert.Equal(t, errDBLocked.Error(), queue.abandoned["p1"])
}

func TestRunOnceStopsOnCancelledContext(t *testing.T) {
	queue := newFakePending(pending("p1", "book-1", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService(queue, &fakeStock{}).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, queue.resolved)
}
