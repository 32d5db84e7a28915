// Package store defines the persistence boundary for the inventory
// pipeline. The store owns all persisted entities; callers only ever
// hold request/response snapshots.
package store

import (
	"context"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/domain"
)

// Product is a row in the products table.
type Product struct {
	ID              int64  `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	Type            string `db:"type" json:"type"`
	QRCode          string `db:"qrcode" json:"qrcode"`
	QuantityInStore int    `db:"quantity_in_store" json:"quantity_in_store"`
	Shelf           string `db:"shelf" json:"shelf"`
	Aisle           string `db:"aisle" json:"aisle"`
	SupplierID      int64  `db:"supplier_id" json:"supplier_id"`
}

// Alert is an append-only restock alert record.
type Alert struct {
	ID                int64     `db:"id" json:"id"`
	UserID            int64     `db:"user_id" json:"user_id"`
	ProductID         int64     `db:"product_id" json:"product_id"`
	AlertType         string    `db:"alert_type" json:"alert_type"`
	SourceDetectionID string    `db:"source_detection_id" json:"source_detection_id"`
	SentTime          time.Time `db:"sent_time" json:"sent_time"`
}

// Reorder is an append-only reorder record. At most one exists per
// (product_id, source_detection_id) pair.
type Reorder struct {
	ID                int64     `db:"id" json:"id"`
	UserID            int64     `db:"user_id" json:"user_id"`
	ProductID         int64     `db:"product_id" json:"product_id"`
	Quantity          int       `db:"quantity" json:"quantity"`
	SourceDetectionID string    `db:"source_detection_id" json:"source_detection_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// InventoryLog is an append-only audit trail entry written alongside
// every alert or reorder.
type InventoryLog struct {
	ID              int64     `db:"id" json:"id"`
	ProductID       int64     `db:"product_id" json:"product_id"`
	ChangeType      string    `db:"change_type" json:"change_type"`
	QuantityChanged int       `db:"quantity_changed" json:"quantity_changed"`
	Timestamp       time.Time `db:"timestamp" json:"timestamp"`
}

// Change types recorded in inventory_logs.
const (
	ChangeTypeRestockAlert = "restock_alert"
	ChangeTypeReorder      = "reorder"
)

// ListOptions bounds list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// InventoryReader provides read-only access to inventory records.
type InventoryReader interface {
	// ProductByName resolves a product by exact, case-sensitive name match.
	ProductByName(ctx context.Context, name string) (*Product, error)

	// StockInfo returns a fresh stock snapshot for the named product.
	StockInfo(ctx context.Context, name string) (*domain.ProductStockInfo, error)

	ListProducts(ctx context.Context, opts ListOptions) ([]Product, error)
	ListAlerts(ctx context.Context, opts ListOptions) ([]Alert, error)
	ListReorders(ctx context.Context, opts ListOptions) ([]Reorder, error)
	ListInventoryLogs(ctx context.Context, opts ListOptions) ([]InventoryLog, error)
}

// DecisionApplier atomically persists a decision as an alert or reorder
// plus its audit log entry, enforcing idempotency per source detection.
type DecisionApplier interface {
	ApplyDecision(ctx context.Context, decision domain.Decision, event domain.GapEvent) (*domain.ApplyResult, error)
}

// InventoryStore is the full persistence surface of the pipeline.
type InventoryStore interface {
	InventoryReader
	DecisionApplier

	// InsertProduct adds a product row, used by seeding and tests.
	InsertProduct(ctx context.Context, p *Product) error

	Close() error
}
