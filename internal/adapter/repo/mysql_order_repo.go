package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

var ErrNotFound = domain.ErrNotFound

//go:embed schema.sql
var schema string

// Migrate creates the tables the MySQL repos use if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	addr, err := json.Marshal(o.Address)
	if err != nil {
		return err
	}
	return inTx(ctx, r.db, func(ctx context.Context, q dbtx) error {
		_, err := q.ExecContext(ctx, `
INSERT INTO orders (id,customer_id,status,payment_method,total_price,voucher_code,voucher_discount,payment_proof,address_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, o.ID, o.CustomerID, o.Status.String(), string(o.PaymentMethod), o.TotalPrice, o.VoucherCode,
			o.VoucherDiscount, o.PaymentProof, addr, o.CreatedAt, o.CreatedAt)
		if err != nil {
			return err
		}
		for i, l := range o.Lines {
			_, err := q.ExecContext(ctx, `
INSERT INTO order_lines (order_id,line_no,store_id,product_id,quantity,base_price,effective_unit_price,line_total,
  discount_type,discount_id,discount_magnitude,voucher_id,voucher_share,reservation_id)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, o.ID, i, l.StoreID, l.ProductID, l.Quantity, l.BasePrice, l.EffectiveUnitPrice.Round(domain.UnitPriceScale), l.LineTotal,
				string(l.Discount.Type), l.Discount.DiscountID, l.Discount.Magnitude, l.Discount.VoucherID,
				l.Discount.VoucherShare, l.ReservationID)
			if err != nil {
				return fmt.Errorf("insert line %d: %w", i, err)
			}
		}
		for _, h := range o.History {
			if err := insertHistory(ctx, q, o.ID, h.Status, h.At); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertHistory(ctx context.Context, q dbtx, orderID string, st domain.Status, at time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO order_status_history (order_id,status,at) VALUES (?,?,?)`,
		orderID, st.String(), at)
	return err
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	q := conn(ctx, r.db)
	row := q.QueryRowContext(ctx, `
SELECT id,customer_id,status,payment_method,total_price,voucher_code,voucher_discount,payment_proof,address_json,created_at
FROM orders WHERE id=?`, id)
	var (
		o      domain.Order
		status string
		method string
		addr   []byte
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &status, &method, &o.TotalPrice, &o.VoucherCode,
		&o.VoucherDiscount, &o.PaymentProof, &addr, &o.CreatedAt); err != nil {
		return nil, notFound(err, "order "+id)
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	o.Status = st
	o.PaymentMethod = domain.PaymentMethod(method)
	if err := json.Unmarshal(addr, &o.Address); err != nil {
		return nil, fmt.Errorf("order %s address: %w", id, err)
	}

	lines, err := q.QueryContext(ctx, `
SELECT store_id,product_id,quantity,base_price,effective_unit_price,line_total,
  discount_type,discount_id,discount_magnitude,voucher_id,voucher_share,reservation_id
FROM order_lines WHERE order_id=? ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer lines.Close()
	for lines.Next() {
		var (
			l     domain.OrderLine
			dtype string
		)
		if err := lines.Scan(&l.StoreID, &l.ProductID, &l.Quantity, &l.BasePrice, &l.EffectiveUnitPrice,
			&l.LineTotal, &dtype, &l.Discount.DiscountID, &l.Discount.Magnitude, &l.Discount.VoucherID,
			&l.Discount.VoucherShare, &l.ReservationID); err != nil {
			return nil, err
		}
		l.Discount.Type = domain.DiscountType(dtype)
		o.Lines = append(o.Lines, l)
	}
	if err := lines.Err(); err != nil {
		return nil, err
	}

	hist, err := q.QueryContext(ctx, `SELECT status,at FROM order_status_history WHERE order_id=? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer hist.Close()
	for hist.Next() {
		var (
			s  string
			at time.Time
		)
		if err := hist.Scan(&s, &at); err != nil {
			return nil, err
		}
		hs, err := domain.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		o.History = append(o.History, domain.StatusChange{Status: hs, At: at})
	}
	return &o, hist.Err()
}

func (r *MySQLOrderRepo) UpdateStatusIf(ctx context.Context, id string, fromStatus, toStatus domain.Status, at time.Time) (bool, error) {
	var ok bool
	err := inTx(ctx, r.db, func(ctx context.Context, q dbtx) error {
		res, err := q.ExecContext(ctx, `
        UPDATE orders
        SET status = ?, updated_at = ?
        WHERE id = ? AND status = ?`,
			toStatus.String(), at, id, fromStatus.String(),
		)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		// rows == 0 → nothing matched (either not found or status mismatch)
		if rows == 0 {
			return nil
		}
		ok = true
		return insertHistory(ctx, q, id, toStatus, at)
	})
	return ok, err
}

func (r *MySQLOrderRepo) SetPaymentProof(ctx context.Context, id, ref string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE orders SET payment_proof = ? WHERE id = ?`, ref, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// MySQL reports 0 when the value is unchanged, so check existence
		var one int
		if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, id).Scan(&one); err != nil {
			return notFound(err, "order "+id)
		}
	}
	return nil
}

func (r *MySQLOrderRepo) ListByStatusBefore(ctx context.Context, status domain.Status, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
SELECT id FROM orders WHERE status = ? AND created_at < ? ORDER BY created_at LIMIT ?`,
		status.String(), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ usecase.OrderRepo = (*MySQLOrderRepo)(nil)
