/*
Package sqlite provides a SQLite-backed implementation of the engine's
collaborator interfaces and medicine-line persistence.

PURPOSE:
  Implements dispense.LotCatalog, dispense.SubmissionGateway, and
  pharmacy.LineStore using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  dispense.LotCatalog:        Lot snapshot reads
  dispense.SubmissionGateway: Atomic order submission + stock consumption
  pharmacy.LineStore:         Medicine-line persistence

ATOMIC SUBMISSION:
  Submit runs one database transaction:
  1. For every allocated lot, a conditional decrement:
       UPDATE lots SET remaining_qty = remaining_qty - ?
       WHERE id = ? AND remaining_qty >= ?
     Zero rows affected means another checkout consumed the stock first;
     the whole transaction rolls back and the caller gets an
     InsufficientStockError (retryable after re-resolving).
  2. Order header, payment entries, and line snapshots are inserted.
  3. Single commit: stock decrement and order record land together or not
     at all.

KEY TABLES:
  lots:             Authoritative remaining quantity per receipt batch
  medicine_lines:   Line state (stage, quantities, coupon flag)
  line_allocations: (lot, quantity) pairs per line
  orders:           Submitted order headers
  order_payments:   Payment entries per order
  order_lines:      Priced line snapshots per order

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/pharmacy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - dispense/collaborators.go: Interface contracts
  - dispense/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/pharmacy-engine/dispense"
)

// Store implements lot catalog, submission gateway, and line persistence.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Authoritative inventory lots
	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		batch_no TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		remaining_qty INTEGER NOT NULL CHECK (remaining_qty >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_lots_item_branch
		ON lots(item_id, branch_id, expiry_date);

	-- Medicine lines
	CREATE TABLE IF NOT EXISTS medicine_lines (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		prescribed_qty INTEGER NOT NULL CHECK (prescribed_qty >= 0),
		available_qty INTEGER NOT NULL DEFAULT 0,
		stage TEXT NOT NULL,
		coupon_applied INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lines_appointment
		ON medicine_lines(appointment_id);

	-- Allocations per line
	CREATE TABLE IF NOT EXISTS line_allocations (
		line_id TEXT NOT NULL REFERENCES medicine_lines(id) ON DELETE CASCADE,
		lot_id TEXT NOT NULL,
		batch_no TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		initial_used_qty INTEGER NOT NULL,
		used_qty INTEGER NOT NULL,
		returned_qty INTEGER NOT NULL,
		PRIMARY KEY (line_id, lot_id)
	);

	-- Submitted orders
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		appointment_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		coupon_code TEXT,
		payment_mode TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_appointment
		ON orders(appointment_id);

	CREATE TABLE IF NOT EXISTS order_payments (
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		method TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_lines (
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		used_qty INTEGER NOT NULL,
		price TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOT CATALOG
// =============================================================================

// SaveLot upserts a lot. Used for inventory seeding and receipt recording.
func (s *Store) SaveLot(ctx context.Context, lot dispense.Lot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lots (id, item_id, branch_id, batch_no, expiry_date, unit_price, remaining_qty)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			item_id = excluded.item_id,
			branch_id = excluded.branch_id,
			batch_no = excluded.batch_no,
			expiry_date = excluded.expiry_date,
			unit_price = excluded.unit_price,
			remaining_qty = excluded.remaining_qty
	`, lot.ID, lot.ItemID, lot.BranchID, lot.BatchNo,
		lot.ExpiryDate.Format(time.RFC3339), lot.UnitPrice.Value.String(), int(lot.RemainingQuantity))
	if err != nil {
		return fmt.Errorf("failed to save lot %s: %w", lot.ID, err)
	}
	return nil
}

// ListLots returns the lots for an item at a branch, soonest expiry first.
func (s *Store) ListLots(ctx context.Context, itemID dispense.ItemID, branchID dispense.BranchID) ([]dispense.Lot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, branch_id, batch_no, expiry_date, unit_price, remaining_qty
		FROM lots
		WHERE item_id = ? AND branch_id = ?
		ORDER BY expiry_date, id
	`, itemID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []dispense.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// GetLot returns one lot's authoritative state.
func (s *Store) GetLot(ctx context.Context, id dispense.LotID) (*dispense.Lot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, branch_id, batch_no, expiry_date, unit_price, remaining_qty
		FROM lots WHERE id = ?
	`, id)
	lot, err := scanLot(row)
	if err == sql.ErrNoRows {
		return nil, dispense.ErrLotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (dispense.Lot, error) {
	var lot dispense.Lot
	var expiry, price string
	var remaining int
	if err := row.Scan(&lot.ID, &lot.ItemID, &lot.BranchID, &lot.BatchNo, &expiry, &price, &remaining); err != nil {
		if err == sql.ErrNoRows {
			return dispense.Lot{}, err
		}
		return dispense.Lot{}, fmt.Errorf("failed to scan lot: %w", err)
	}
	t, err := time.Parse(time.RFC3339, expiry)
	if err != nil {
		return dispense.Lot{}, fmt.Errorf("invalid expiry date for lot %s: %w", lot.ID, err)
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return dispense.Lot{}, fmt.Errorf("invalid unit price for lot %s: %w", lot.ID, err)
	}
	lot.ExpiryDate = t
	lot.UnitPrice = dispense.Money{Value: d}
	lot.RemainingQuantity = dispense.Quantity(remaining)
	return lot, nil
}

// =============================================================================
// LINE STORE
// =============================================================================

// SaveLine persists a line and its allocations atomically.
func (s *Store) SaveLine(ctx context.Context, line dispense.MedicineLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	coupon := 0
	if line.CouponApplied {
		coupon = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO medicine_lines (id, appointment_id, item_id, item_name, prescribed_qty, available_qty, stage, coupon_applied, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			appointment_id = excluded.appointment_id,
			item_id = excluded.item_id,
			item_name = excluded.item_name,
			prescribed_qty = excluded.prescribed_qty,
			available_qty = excluded.available_qty,
			stage = excluded.stage,
			coupon_applied = excluded.coupon_applied,
			updated_at = excluded.updated_at
	`, line.ID, line.AppointmentID, line.ItemID, line.ItemName,
		int(line.PrescribedQuantity), int(line.AvailableQuantity),
		string(line.Stage), coupon, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save line %s: %w", line.ID, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM line_allocations WHERE line_id = ?", line.ID); err != nil {
		return fmt.Errorf("failed to clear allocations for line %s: %w", line.ID, err)
	}
	for _, a := range line.Allocations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO line_allocations (line_id, lot_id, batch_no, expiry_date, unit_price, initial_used_qty, used_qty, returned_qty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, line.ID, a.LotID, a.BatchNo, a.ExpiryDate.Format(time.RFC3339), a.UnitPrice.Value.String(),
			int(a.InitialUsedQuantity), int(a.UsedQuantity), int(a.ReturnedQuantity))
		if err != nil {
			return fmt.Errorf("failed to save allocation %s/%s: %w", line.ID, a.LotID, err)
		}
	}

	return tx.Commit()
}

// GetLine returns one line with its allocations.
func (s *Store) GetLine(ctx context.Context, id dispense.LineID) (*dispense.MedicineLine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, appointment_id, item_id, item_name, prescribed_qty, available_qty, stage, coupon_applied
		FROM medicine_lines WHERE id = ?
	`, id)

	line, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, dispense.ErrLineNotFound
	}
	if err != nil {
		return nil, err
	}

	allocations, err := s.loadAllocations(ctx, line.ID)
	if err != nil {
		return nil, err
	}
	line.Allocations = allocations
	return &line, nil
}

// LinesByAppointment returns all lines for an appointment, ordered by ID.
func (s *Store) LinesByAppointment(ctx context.Context, appointmentID dispense.AppointmentID) ([]dispense.MedicineLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, appointment_id, item_id, item_name, prescribed_qty, available_qty, stage, coupon_applied
		FROM medicine_lines
		WHERE appointment_id = ?
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []dispense.MedicineLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range lines {
		allocations, err := s.loadAllocations(ctx, lines[i].ID)
		if err != nil {
			return nil, err
		}
		lines[i].Allocations = allocations
	}
	return lines, nil
}

func scanLine(row rowScanner) (dispense.MedicineLine, error) {
	var line dispense.MedicineLine
	var prescribed, available, coupon int
	var stage string
	if err := row.Scan(&line.ID, &line.AppointmentID, &line.ItemID, &line.ItemName, &prescribed, &available, &stage, &coupon); err != nil {
		if err == sql.ErrNoRows {
			return dispense.MedicineLine{}, err
		}
		return dispense.MedicineLine{}, fmt.Errorf("failed to scan line: %w", err)
	}
	line.PrescribedQuantity = dispense.Quantity(prescribed)
	line.AvailableQuantity = dispense.Quantity(available)
	line.Stage = dispense.Stage(stage)
	line.CouponApplied = coupon != 0
	return line, nil
}

func (s *Store) loadAllocations(ctx context.Context, lineID dispense.LineID) ([]dispense.LotAllocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lot_id, batch_no, expiry_date, unit_price, initial_used_qty, used_qty, returned_qty
		FROM line_allocations
		WHERE line_id = ?
		ORDER BY lot_id
	`, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations for line %s: %w", lineID, err)
	}
	defer rows.Close()

	var allocations []dispense.LotAllocation
	for rows.Next() {
		var a dispense.LotAllocation
		var expiry, price string
		var initial, used, returned int
		if err := rows.Scan(&a.LotID, &a.BatchNo, &expiry, &price, &initial, &used, &returned); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		t, err := time.Parse(time.RFC3339, expiry)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry date in allocation %s/%s: %w", lineID, a.LotID, err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("invalid unit price in allocation %s/%s: %w", lineID, a.LotID, err)
		}
		a.ExpiryDate = t
		a.UnitPrice = dispense.Money{Value: d}
		a.InitialUsedQuantity = dispense.Quantity(initial)
		a.UsedQuantity = dispense.Quantity(used)
		a.ReturnedQuantity = dispense.Quantity(returned)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// =============================================================================
// SUBMISSION GATEWAY
// =============================================================================

// Submit persists the order and consumes the allocated stock in one
// transaction. A conditional decrement per lot is the authoritative stock
// check; any shortfall rolls everything back.
func (s *Store) Submit(ctx context.Context, order dispense.Order) (dispense.OrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Consume stock: conditional decrement per lot, aggregated across lines.
	needed := make(map[dispense.LotID]dispense.Quantity)
	var lotOrder []dispense.LotID
	for _, line := range order.Lines {
		for _, a := range line.Allocations {
			if _, seen := needed[a.LotID]; !seen {
				lotOrder = append(lotOrder, a.LotID)
			}
			needed[a.LotID] += a.UsedQuantity
		}
	}
	for _, lotID := range lotOrder {
		qty := needed[lotID]
		res, err := tx.ExecContext(ctx, `
			UPDATE lots SET remaining_qty = remaining_qty - ?
			WHERE id = ? AND remaining_qty >= ?
		`, int(qty), lotID, int(qty))
		if err != nil {
			return "", fmt.Errorf("failed to decrement lot %s: %w", lotID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("failed to read decrement result for lot %s: %w", lotID, err)
		}
		if affected == 0 {
			var current int
			remaining := dispense.Quantity(0)
			if err := tx.QueryRowContext(ctx, "SELECT remaining_qty FROM lots WHERE id = ?", lotID).Scan(&current); err == nil {
				remaining = dispense.Quantity(current)
			}
			return "", &dispense.InsufficientStockError{LotID: lotID, Remaining: remaining, Requested: qty}
		}
	}

	// Order header.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (appointment_id, total_amount, discount_amount, paid_amount, coupon_code, payment_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, order.AppointmentID, order.TotalOrderAmount.Value.String(), order.DiscountAmount.Value.String(),
		order.PaidOrderAmount.Value.String(), order.CouponCode, string(order.Payment.Mode),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to insert order: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read order id: %w", err)
	}

	for _, entry := range order.Payment.Entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_payments (order_id, method, amount) VALUES (?, ?, ?)
		`, rowID, string(entry.Method), entry.Amount.Value.String())
		if err != nil {
			return "", fmt.Errorf("failed to insert payment entry: %w", err)
		}
	}

	for _, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_id, item_id, item_name, used_qty, price)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rowID, line.ID, line.ItemID, line.ItemName, int(line.UsedTotal()), dispense.PriceLine(line).Value.String())
		if err != nil {
			return "", fmt.Errorf("failed to insert order line %s: %w", line.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit order: %w", err)
	}
	return dispense.OrderID(fmt.Sprintf("ord-%d", rowID)), nil
}
