package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/google/uuid"
)

// MySQLStockRepo stores the ledger in stock_entries. Writes to a pair lock
// its stock_pairs row, so pairs never block each other.
type MySQLStockRepo struct{ db *sql.DB }

func NewMySQLStockRepo(db *sql.DB) *MySQLStockRepo { return &MySQLStockRepo{db: db} }

func lockPair(ctx context.Context, q dbtx, storeID, productID int64) error {
	if _, err := q.ExecContext(ctx, `
INSERT INTO stock_pairs (store_id, product_id) VALUES (?, ?)
ON DUPLICATE KEY UPDATE store_id = store_id`, storeID, productID); err != nil {
		return fmt.Errorf("ensure pair: %w", err)
	}
	var s, p int64
	if err := q.QueryRowContext(ctx, `
SELECT store_id, product_id FROM stock_pairs WHERE store_id = ? AND product_id = ? FOR UPDATE`,
		storeID, productID).Scan(&s, &p); err != nil {
		return fmt.Errorf("lock pair: %w", err)
	}
	return nil
}

func pairEntries(ctx context.Context, q dbtx, storeID, productID int64) ([]domain.StockEntry, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id,store_id,product_id,delta,type,reservation_id,order_id,reason,at
FROM stock_entries WHERE store_id = ? AND product_id = ? ORDER BY seq`, storeID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StockEntry
	for rows.Next() {
		var (
			e   domain.StockEntry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.StoreID, &e.ProductID, &e.Delta, &typ, &e.ReservationID,
			&e.OrderID, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		e.Type = domain.TxType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertEntry(ctx context.Context, q dbtx, e domain.StockEntry) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO stock_entries (id,store_id,product_id,delta,type,reservation_id,order_id,reason,at)
VALUES (?,?,?,?,?,?,?,?,?)`, e.ID, e.StoreID, e.ProductID, e.Delta, string(e.Type), e.ReservationID,
		e.OrderID, e.Reason, e.At)
	return err
}

func (r *MySQLStockRepo) Append(ctx context.Context, e domain.StockEntry) error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: entry type %q", domain.ErrInvalidInput, e.Type)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return inTx(ctx, r.db, func(ctx context.Context, q dbtx) error {
		if err := lockPair(ctx, q, e.StoreID, e.ProductID); err != nil {
			return err
		}
		if e.Type == domain.TxReserve || e.Type == domain.TxOut {
			entries, err := pairEntries(ctx, q, e.StoreID, e.ProductID)
			if err != nil {
				return err
			}
			bal, _ := domain.Fold(entries)
			if avail := bal.Available(); avail+e.Delta < 0 {
				return &domain.InsufficientStockError{
					StoreID:   e.StoreID,
					ProductID: e.ProductID,
					Requested: int(-e.Delta),
					Available: avail,
					Line:      -1,
				}
			}
		}
		return insertEntry(ctx, q, e)
	})
}

func reservationPair(ctx context.Context, q dbtx, reservationID string) (int64, int64, error) {
	var s, p int64
	err := q.QueryRowContext(ctx, `
SELECT store_id, product_id FROM stock_entries WHERE reservation_id = ? AND type = 'RESERVE'`,
		reservationID).Scan(&s, &p)
	if err != nil {
		return 0, 0, notFound(err, "reservation "+reservationID)
	}
	return s, p, nil
}

func (r *MySQLStockRepo) Settle(ctx context.Context, reservationID string, kind domain.ReservationState, at time.Time) (bool, error) {
	var applied bool
	err := inTx(ctx, r.db, func(ctx context.Context, q dbtx) error {
		storeID, productID, err := reservationPair(ctx, q, reservationID)
		if err != nil {
			return err
		}
		if err := lockPair(ctx, q, storeID, productID); err != nil {
			return err
		}
		entries, err := pairEntries(ctx, q, storeID, productID)
		if err != nil {
			return err
		}
		_, res := domain.Fold(entries)
		cur, ok := res[reservationID]
		if !ok {
			return fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
		}
		e, err := domain.Settlement(*cur, kind, "", at)
		if err != nil || e == nil {
			return err
		}
		e.ID = uuid.NewString()
		if err := insertEntry(ctx, q, *e); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *MySQLStockRepo) Balance(ctx context.Context, storeID, productID int64) (domain.StockBalance, error) {
	entries, err := pairEntries(ctx, conn(ctx, r.db), storeID, productID)
	if err != nil {
		return domain.StockBalance{}, err
	}
	bal, _ := domain.Fold(entries)
	bal.StoreID, bal.ProductID = storeID, productID
	return bal, nil
}

func (r *MySQLStockRepo) Entries(ctx context.Context, storeID, productID int64) ([]domain.StockEntry, error) {
	return pairEntries(ctx, conn(ctx, r.db), storeID, productID)
}

func (r *MySQLStockRepo) Reservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	q := conn(ctx, r.db)
	storeID, productID, err := reservationPair(ctx, q, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}
	entries, err := pairEntries(ctx, q, storeID, productID)
	if err != nil {
		return domain.Reservation{}, err
	}
	_, res := domain.Fold(entries)
	cur, ok := res[reservationID]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}
	return *cur, nil
}

func (r *MySQLStockRepo) ReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
SELECT reservation_id FROM stock_entries WHERE order_id = ? AND type = 'RESERVE' ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	out := make([]domain.Reservation, 0, len(ids))
	for _, id := range ids {
		res, err := r.Reservation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

var _ usecase.StockRepo = (*MySQLStockRepo)(nil)
