// Package reconcile retries stock decrements that failed after their order
// was already stored.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cafepos/internal/catalog"
	"cafepos/internal/data"
	"cafepos/internal/logger"
)

// PendingStore is the queue of failed adjustments.
type PendingStore interface {
	ListPending(ctx context.Context, limit int) ([]data.PendingAdjustment, error)
	MarkResolved(ctx context.Context, id string) error
	RecordAttemptFailure(ctx context.Context, id, cause string) error
	MarkAbandoned(ctx context.Context, id, cause string) error
}

// StockStore applies adjustments and can tell whether one already landed.
type StockStore interface {
	AdjustStockQuantity(ctx context.Context, adj catalog.StockAdjustment) error
	HasMovement(ctx context.Context, itemID, referenceType, referenceID string) (bool, error)
}

// Report counts what one pass did.
type Report struct {
	Resolved  int `json:"resolved"`
	Retrying  int `json:"retrying"`
	Abandoned int `json:"abandoned"`
}

// Service drains the pending adjustment queue.
type Service struct {
	pending       PendingStore
	stock         StockStore
	maxRetries    int
	retryInterval time.Duration
	maxAttempts   int
	batchSize     int
}

func NewService(pending PendingStore, stock StockStore) *Service {
	return &Service{
		pending:       pending,
		stock:         stock,
		maxRetries:    3,
		retryInterval: time.Second * 2,
		maxAttempts:   10,
		batchSize:     50,
	}
}

// WithRetry overrides the in-pass retry policy.
func (s *Service) WithRetry(maxRetries int, interval time.Duration) *Service {
	if maxRetries < 1 {
		maxRetries = 1
	}
	s.maxRetries = maxRetries
	s.retryInterval = interval
	return s
}

// WithMaxAttempts sets how many passes may fail before an adjustment is abandoned.
func (s *Service) WithMaxAttempts(n int) *Service {
	s.maxAttempts = n
	return s
}

// Run calls RunOnce every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	logger.LogInfo("Stock reconciliation started - running every %v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.LogInfo("Stock reconciliation stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.LogError("Stock reconciliation pass failed: %v", err)
			}
		}
	}
}

// RunOnce works through one batch of pending adjustments.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	items, err := s.pending.ListPending(ctx, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list pending adjustments: %w", err)
	}
	if len(items) == 0 {
		return report, nil
	}
	logger.LogInfo("Reconciling %d pending stock adjustments", len(items))

	for _, p := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		switch outcome, cause := s.reconcile(ctx, p); outcome {
		case outcomeResolved:
			if err := s.pending.MarkResolved(ctx, p.ID); err != nil {
				return report, err
			}
			report.Resolved++
		case outcomeAbandoned:
			logger.LogError("Abandoning stock adjustment %s (%s %+d for %s %s): %s",
				p.ID, p.Adjustment.ItemID, p.Adjustment.Delta, p.Adjustment.ReferenceType, p.Adjustment.ReferenceID, cause)
			if err := s.pending.MarkAbandoned(ctx, p.ID, cause); err != nil {
				return report, err
			}
			report.Abandoned++
		default:
			if p.Attempts+1 >= s.maxAttempts {
				logger.LogError("Stock adjustment %s failed %d times, abandoning: %s", p.ID, p.Attempts+1, cause)
				if err := s.pending.MarkAbandoned(ctx, p.ID, cause); err != nil {
					return report, err
				}
				report.Abandoned++
				continue
			}
			if err := s.pending.RecordAttemptFailure(ctx, p.ID, cause); err != nil {
				return report, err
			}
			report.Retrying++
		}
	}

	logger.LogInfo("Reconciliation pass done: %d resolved, %d retrying, %d abandoned",
		report.Resolved, report.Retrying, report.Abandoned)
	return report, nil
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeResolved
	outcomeAbandoned
)

func (s *Service) reconcile(ctx context.Context, p data.PendingAdjustment) (outcome, string) {
	adj := p.Adjustment

	// The original attempt may have committed after reporting an error.
	if adj.ReferenceID != "" {
		landed, err := s.stock.HasMovement(ctx, adj.ItemID, adj.ReferenceType, adj.ReferenceID)
		if err != nil {
			return outcomeRetry, err.Error()
		}
		if landed {
			logger.LogInfo("Stock adjustment %s already applied, marking resolved", p.ID)
			return outcomeResolved, ""
		}
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.stock.AdjustStockQuantity(ctx, adj)
		if err == nil {
			logger.LogInfo("Applied pending stock adjustment %s (%s %+d)", p.ID, adj.ItemID, adj.Delta)
			return outcomeResolved, ""
		}
		if errors.Is(err, catalog.ErrStockExhausted) || errors.Is(err, catalog.ErrNotFound) {
			return outcomeAbandoned, err.Error()
		}

		lastErr = err
		logger.LogWarn("Pending adjustment %s attempt %d failed: %v", p.ID, attempt, err)

		if attempt < s.maxRetries {
			select {
			case <-ctx.Done():
				return outcomeRetry, ctx.Err().Error()
			case <-time.After(s.retryInterval * time.Duration(attempt)):
			}
		}
	}
	return outcomeRetry, lastErr.Error()
}
