package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cafepos/internal/catalog"
)

// Pending adjustment statuses
const (
	PendingStatusPending   = "PENDING"
	PendingStatusResolved  = "RESOLVED"
	PendingStatusAbandoned = "ABANDONED"
)

// PendingAdjustment is a stock change that failed after its order was stored
// and still has to be applied.
type PendingAdjustment struct {
	ID         string                  `json:"id"`
	Adjustment catalog.StockAdjustment `json:"adjustment"`
	LastError  string                  `json:"last_error"`
	Attempts   int                     `json:"attempts"`
	Status     string                  `json:"status"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// =============================================================================
// PENDING ADJUSTMENT REPOSITORY
// =============================================================================

type PendingAdjustmentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPendingAdjustmentRepository(conn *sql.DB) *PendingAdjustmentRepository {
	return &PendingAdjustmentRepository{db: conn, now: time.Now}
}

// RecordPendingAdjustment queues adj for the reconciler.
func (r *PendingAdjustmentRepository) RecordPendingAdjustment(ctx context.Context, adj catalog.StockAdjustment, cause string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := formatTime(r.now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_adjustments (
			id, item_id, delta, reference_type, reference_id, operator_id, notes,
			last_error, attempts, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		uuid.NewString(), adj.ItemID, adj.Delta, adj.ReferenceType, adj.ReferenceID,
		adj.OperatorID, adj.Notes, cause, PendingStatusPending, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record pending adjustment for %s: %w", adj.ItemID, err)
	}
	return nil
}

// ListPending returns unresolved adjustments, oldest first.
func (r *PendingAdjustmentRepository) ListPending(ctx context.Context, limit int) ([]PendingAdjustment, error) {
	return r.list(ctx, PendingStatusPending, limit)
}

// ListAbandoned returns adjustments the reconciler gave up on.
func (r *PendingAdjustmentRepository) ListAbandoned(ctx context.Context, limit int) ([]PendingAdjustment, error) {
	return r.list(ctx, PendingStatusAbandoned, limit)
}

func (r *PendingAdjustmentRepository) list(ctx context.Context, status string, limit int) ([]PendingAdjustment, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, delta, reference_type, reference_id, operator_id, notes,
			last_error, attempts, status, created_at, updated_at
		FROM pending_adjustments
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending adjustments: %w", err)
	}
	defer rows.Close()

	var out []PendingAdjustment
	for rows.Next() {
		var p PendingAdjustment
		var created, updated string
		a := &p.Adjustment
		if err := rows.Scan(&p.ID, &a.ItemID, &a.Delta, &a.ReferenceType, &a.ReferenceID, &a.OperatorID, &a.Notes,
			&p.LastError, &p.Attempts, &p.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan pending adjustment: %w", err)
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending adjustments: %w", err)
	}
	return out, nil
}

func (r *PendingAdjustmentRepository) MarkResolved(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, PendingStatusResolved, "", false)
}

// RecordAttemptFailure bumps the attempt counter and keeps the adjustment pending.
func (r *PendingAdjustmentRepository) RecordAttemptFailure(ctx context.Context, id, cause string) error {
	return r.setStatus(ctx, id, PendingStatusPending, cause, true)
}

// MarkAbandoned stops further retries; the adjustment needs a manual stock correction.
func (r *PendingAdjustmentRepository) MarkAbandoned(ctx context.Context, id, cause string) error {
	return r.setStatus(ctx, id, PendingStatusAbandoned, cause, true)
}

func (r *PendingAdjustmentRepository) setStatus(ctx context.Context, id, status, cause string, attempted bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	inc := 0
	if attempted {
		inc = 1
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_adjustments
		SET status = ?, last_error = CASE WHEN ? = '' THEN last_error ELSE ? END,
			attempts = attempts + ?, updated_at = ?
		WHERE id = ?`,
		status, cause, cause, inc, formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending adjustment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending adjustment %s not found", id)
	}
	return nil
}

// PurgeResolved deletes up to limit resolved adjustments last touched before
// cutoff. Pending and abandoned rows are kept.
func (r *PendingAdjustmentRepository) PurgeResolved(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_adjustments
		WHERE id IN (
			SELECT id FROM pending_adjustments
			WHERE status = ? AND updated_at < ?
			LIMIT ?
		)`,
		PendingStatusResolved, formatTime(cutoff), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge resolved adjustments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
