// Package sqlite provides the SQLite-backed inventory store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/shelfwatch/shelfwatch/internal/domain"
	"github.com/shelfwatch/shelfwatch/internal/store"
)

// Store is a SQLite implementation of store.InventoryStore.
type Store struct {
	db *sqlx.DB

	// beforeLogInsert is a test hook invoked inside the apply transaction
	// just before the inventory_logs insert. Nil outside tests.
	beforeLogInsert func() error
}

var _ store.InventoryStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS suppliers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			phone_number TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			phone TEXT,
			role TEXT NOT NULL DEFAULT 'customer',
			email TEXT UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			qrcode TEXT NOT NULL DEFAULT '',
			quantity_in_store INTEGER NOT NULL CHECK (quantity_in_store >= 0),
			shelf TEXT NOT NULL DEFAULT '',
			aisle TEXT NOT NULL DEFAULT '',
			supplier_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			product_id INTEGER NOT NULL,
			alert_type TEXT NOT NULL,
			source_detection_id TEXT NOT NULL,
			sent_time TIMESTAMP NOT NULL,
			UNIQUE (product_id, source_detection_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reorders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			product_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			source_detection_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (product_id, source_detection_id)
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id INTEGER NOT NULL,
			change_type TEXT NOT NULL,
			quantity_changed INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detection ON alerts(source_detection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reorders_detection ON reorders(source_detection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_logs_product ON inventory_logs(product_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// ProductByName resolves a product by exact, case-sensitive name match.
func (s *Store) ProductByName(ctx context.Context, name string) (*store.Product, error) {
	var p store.Product
	err := s.db.GetContext(ctx, &p,
		`SELECT id, name, type, qrcode, quantity_in_store, shelf, aisle, supplier_id
		 FROM products WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// StockInfo returns a fresh stock snapshot for the named product.
func (s *Store) StockInfo(ctx context.Context, name string) (*domain.ProductStockInfo, error) {
	var info domain.ProductStockInfo
	err := s.db.QueryRowxContext(ctx,
		`SELECT id, quantity_in_store, shelf, aisle FROM products WHERE name = ?`, name).
		Scan(&info.ProductID, &info.QuantityInStore, &info.Shelf, &info.Aisle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound(fmt.Sprintf("no stock record for product %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock info: %w", err)
	}
	return &info, nil
}

// InsertProduct adds a product row and fills in its assigned ID.
func (s *Store) InsertProduct(ctx context.Context, p *store.Product) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, type, qrcode, quantity_in_store, shelf, aisle, supplier_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Type, p.QRCode, p.QuantityInStore, p.Shelf, p.Aisle, p.SupplierID)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get product id: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, opts store.ListOptions) ([]store.Product, error) {
	var products []store.Product
	err := s.db.SelectContext(ctx, &products,
		`SELECT id, name, type, qrcode, quantity_in_store, shelf, aisle, supplier_id
		 FROM products ORDER BY id LIMIT ? OFFSET ?`, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *Store) ListAlerts(ctx context.Context, opts store.ListOptions) ([]store.Alert, error) {
	var alerts []store.Alert
	err := s.db.SelectContext(ctx, &alerts,
		`SELECT id, user_id, product_id, alert_type, source_detection_id, sent_time
		 FROM alerts ORDER BY sent_time DESC LIMIT ? OFFSET ?`, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func (s *Store) ListReorders(ctx context.Context, opts store.ListOptions) ([]store.Reorder, error) {
	var reorders []store.Reorder
	err := s.db.SelectContext(ctx, &reorders,
		`SELECT id, user_id, product_id, quantity, source_detection_id, created_at
		 FROM reorders ORDER BY created_at DESC LIMIT ? OFFSET ?`, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list reorders: %w", err)
	}
	return reorders, nil
}

func (s *Store) ListInventoryLogs(ctx context.Context, opts store.ListOptions) ([]store.InventoryLog, error) {
	var logs []store.InventoryLog
	err := s.db.SelectContext(ctx, &logs,
		`SELECT id, product_id, change_type, quantity_changed, timestamp
		 FROM inventory_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory logs: %w", err)
	}
	return logs, nil
}

func limitOf(opts store.ListOptions) int {
	if opts.Limit == 0 {
		return 100
	}
	return opts.Limit
}

func (s *Store) Close() error {
	return s.db.Close()
}
