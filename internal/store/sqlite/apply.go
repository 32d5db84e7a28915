package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shelfwatch/shelfwatch/internal/domain"
	"github.com/shelfwatch/shelfwatch/internal/store"
)

// ApplyDecision persists a decision inside a single transaction:
// idempotency check, product resolution, alert/reorder insert plus the
// inventory log entry. Any failure rolls the whole transaction back, so
// partial writes are never observable. The UNIQUE(product_id,
// source_detection_id) constraint on alerts and reorders serializes
// concurrent deliveries of the same detection.
func (s *Store) ApplyDecision(ctx context.Context, decision domain.Decision, event domain.GapEvent) (*domain.ApplyResult, error) {
	// Guarded upstream by the applier; kept as an invariant check so a
	// bad caller cannot reach the insert branches.
	if !decision.Action.Valid() {
		return nil, fmt.Errorf("cannot apply decision with action %q", decision.Action)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.ErrStoreUnavailable(err)
	}
	defer tx.Rollback()

	// Idempotency: a prior alert or reorder tagged with this detection
	// means the event was already applied.
	if res, err := s.existingResult(ctx, tx, event.SourceDetectionID); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	var p store.Product
	err = tx.GetContext(ctx, &p,
		`SELECT id, name, type, qrcode, quantity_in_store, shelf, aisle, supplier_id
		 FROM products WHERE name = ?`, decision.ProductName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound(decision.ProductName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve product: %w", err)
	}

	result := &domain.ApplyResult{ProductID: p.ID}
	now := time.Now().UTC()

	switch decision.Action {
	case domain.ActionNoAction:
		result.NoAction = true
		return result, nil

	case domain.ActionAlert:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO alerts (user_id, product_id, alert_type, source_detection_id, sent_time)
			 VALUES (?, ?, ?, ?, ?)`,
			decision.UserID, p.ID, store.ChangeTypeRestockAlert, event.SourceDetectionID, now)
		if err != nil {
			if isUniqueViolation(err) {
				return s.replayedResult(ctx, event.SourceDetectionID)
			}
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
		result.AlertID, _ = res.LastInsertId()
		if err := s.insertLog(ctx, tx, p.ID, store.ChangeTypeRestockAlert, 0, now); err != nil {
			return nil, err
		}

	case domain.ActionReorder:
		if decision.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity(decision.Quantity)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO reorders (user_id, product_id, quantity, source_detection_id, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			decision.UserID, p.ID, decision.Quantity, event.SourceDetectionID, now)
		if err != nil {
			if isUniqueViolation(err) {
				return s.replayedResult(ctx, event.SourceDetectionID)
			}
			return nil, fmt.Errorf("failed to insert reorder: %w", err)
		}
		result.ReorderID, _ = res.LastInsertId()
		if err := s.insertLog(ctx, tx, p.ID, store.ChangeTypeReorder, decision.Quantity, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return s.replayedResult(ctx, event.SourceDetectionID)
		}
		return nil, fmt.Errorf("failed to commit apply transaction: %w", err)
	}

	return result, nil
}

type txQuerier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// existingResult checks both append-only tables for a record tagged with
// the detection ID.
func (s *Store) existingResult(ctx context.Context, q txQuerier, detectionID string) (*domain.ApplyResult, error) {
	var alert store.Alert
	err := q.GetContext(ctx, &alert,
		`SELECT id, user_id, product_id, alert_type, source_detection_id, sent_time
		 FROM alerts WHERE source_detection_id = ?`, detectionID)
	if err == nil {
		return &domain.ApplyResult{AlreadyApplied: true, ProductID: alert.ProductID, AlertID: alert.ID}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing alerts: %w", err)
	}

	var reorder store.Reorder
	err = q.GetContext(ctx, &reorder,
		`SELECT id, user_id, product_id, quantity, source_detection_id, created_at
		 FROM reorders WHERE source_detection_id = ?`, detectionID)
	if err == nil {
		return &domain.ApplyResult{AlreadyApplied: true, ProductID: reorder.ProductID, ReorderID: reorder.ID}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing reorders: %w", err)
	}

	return nil, nil
}

// replayedResult re-reads the record that won a concurrent insert race.
func (s *Store) replayedResult(ctx context.Context, detectionID string) (*domain.ApplyResult, error) {
	res, err := s.existingResult(ctx, s.db, detectionID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("unique violation for detection %s but no existing record", detectionID)
	}
	return res, nil
}

func (s *Store) insertLog(ctx context.Context, tx *sqlx.Tx, productID int64, changeType string, quantity int, ts time.Time) error {
	if s.beforeLogInsert != nil {
		if err := s.beforeLogInsert(); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO inventory_logs (product_id, change_type, quantity_changed, timestamp)
		 VALUES (?, ?, ?, ?)`,
		productID, changeType, quantity, ts)
	if err != nil {
		return fmt.Errorf("failed to insert inventory log: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
