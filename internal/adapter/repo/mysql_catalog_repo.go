package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type MySQLCartRepo struct{ db *sql.DB }

func NewMySQLCartRepo(db *sql.DB) *MySQLCartRepo { return &MySQLCartRepo{db: db} }

const cartCols = `id,customer_id,store_id,product_id,quantity,added_at`

func scanCartItems(rows *sql.Rows) ([]domain.CartItem, error) {
	defer rows.Close()
	var out []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.CustomerID, &it.StoreID, &it.ProductID, &it.Quantity, &it.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *MySQLCartRepo) Items(ctx context.Context, customerID int64, ids []int64) ([]domain.CartItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, customerID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+cartCols+` FROM cart_items WHERE customer_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	return scanCartItems(rows)
}

func (r *MySQLCartRepo) List(ctx context.Context, customerID int64) ([]domain.CartItem, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+cartCols+` FROM cart_items WHERE customer_id = ? ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	return scanCartItems(rows)
}

func (r *MySQLCartRepo) Add(ctx context.Context, it *domain.CartItem) error {
	if it.Quantity < 1 {
		return fmt.Errorf("%w: cart quantity must be >= 1", domain.ErrInvalidInput)
	}
	if it.AddedAt.IsZero() {
		it.AddedAt = time.Now()
	}
	return inTx(ctx, r.db, func(ctx context.Context, q dbtx) error {
		if _, err := q.ExecContext(ctx, `
INSERT INTO cart_items (customer_id,store_id,product_id,quantity,added_at) VALUES (?,?,?,?,?)
ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)`,
			it.CustomerID, it.StoreID, it.ProductID, it.Quantity, it.AddedAt); err != nil {
			return err
		}
		return q.QueryRowContext(ctx, `SELECT `+cartCols+` FROM cart_items
WHERE customer_id = ? AND store_id = ? AND product_id = ?`, it.CustomerID, it.StoreID, it.ProductID).
			Scan(&it.ID, &it.CustomerID, &it.StoreID, &it.ProductID, &it.Quantity, &it.AddedAt)
	})
}

// Take deletes the customer's items under row locks. Nothing is removed
// unless every id is present and owned by the customer.
func (r *MySQLCartRepo) Take(ctx context.Context, customerID int64, ids []int64) ([]domain.CartItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, customerID)
	for _, id := range ids {
		args = append(args, id)
	}
	var out []domain.CartItem
	err := inTx(ctx, r.db, func(ctx context.Context, q dbtx) error {
		rows, err := q.QueryContext(ctx,
			`SELECT `+cartCols+` FROM cart_items WHERE customer_id = ? AND id IN (`+placeholders(len(ids))+`) FOR UPDATE`, args...)
		if err != nil {
			return err
		}
		if out, err = scanCartItems(rows); err != nil {
			return err
		}
		if len(out) != len(ids) {
			return fmt.Errorf("%w: cart items %v", domain.ErrNotFound, missingIDs(ids, out))
		}
		res, err := q.ExecContext(ctx,
			`DELETE FROM cart_items WHERE customer_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != int64(len(ids)) {
			return fmt.Errorf("%w: cart items taken concurrently", domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Restore reinserts taken items under their old ids. A line added for the
// same store and product in the meantime absorbs the quantity instead.
func (r *MySQLCartRepo) Restore(ctx context.Context, items []domain.CartItem) error {
	return inTx(ctx, r.db, func(ctx context.Context, q dbtx) error {
		for _, it := range items {
			if _, err := q.ExecContext(ctx, `
INSERT INTO cart_items (id,customer_id,store_id,product_id,quantity,added_at) VALUES (?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)`,
				it.ID, it.CustomerID, it.StoreID, it.ProductID, it.Quantity, it.AddedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func missingIDs(want []int64, got []domain.CartItem) []int64 {
	have := make(map[int64]struct{}, len(got))
	for _, it := range got {
		have[it.ID] = struct{}{}
	}
	var out []int64
	for _, id := range want {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

type MySQLProductRepo struct{ db *sql.DB }

func NewMySQLProductRepo(db *sql.DB) *MySQLProductRepo { return &MySQLProductRepo{db: db} }

func (r *MySQLProductRepo) Get(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT id,name,base_price FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.BasePrice)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("product %d", id))
	}
	return &p, nil
}

type MySQLAddressRepo struct{ db *sql.DB }

func NewMySQLAddressRepo(db *sql.DB) *MySQLAddressRepo { return &MySQLAddressRepo{db: db} }

func (r *MySQLAddressRepo) Get(ctx context.Context, customerID, addressID int64) (*domain.Address, error) {
	var a domain.Address
	err := conn(ctx, r.db).QueryRowContext(ctx, `
SELECT id,customer_id,label,recipient,phone,address_line,city,province,postal_code
FROM addresses WHERE id = ? AND customer_id = ?`, addressID, customerID).
		Scan(&a.ID, &a.CustomerID, &a.Label, &a.Recipient, &a.Phone, &a.AddressLine, &a.City, &a.Province, &a.PostalCode)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("address %d", addressID))
	}
	return &a, nil
}

type MySQLDiscountRepo struct{ db *sql.DB }

func NewMySQLDiscountRepo(db *sql.DB) *MySQLDiscountRepo { return &MySQLDiscountRepo{db: db} }

const discountCols = `id,type,code,store_id,product_id,value,unit,start_date,end_date,min_purchase,max_discount`

type rowScanner interface{ Scan(dest ...any) error }

func scanDiscount(s rowScanner) (domain.Discount, error) {
	var (
		d         domain.Discount
		typ, unit string
		code      sql.NullString
		productID sql.NullInt64
		maxDisc   sql.NullInt64
	)
	if err := s.Scan(&d.ID, &typ, &code, &d.StoreID, &productID, &d.Value, &unit, &d.StartDate,
		&d.EndDate, &d.MinPurchase, &maxDisc); err != nil {
		return domain.Discount{}, err
	}
	d.Type, d.Unit, d.Code = domain.DiscountType(typ), domain.NominalUnit(unit), code.String
	if productID.Valid {
		d.ProductID = &productID.Int64
	}
	if maxDisc.Valid {
		d.MaxDiscount = &maxDisc.Int64
	}
	return d, nil
}

func (r *MySQLDiscountRepo) list(ctx context.Context, query string, args ...any) ([]domain.Discount, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *MySQLDiscountRepo) ListActive(ctx context.Context, storeID int64, at time.Time) ([]domain.Discount, error) {
	return r.list(ctx, `SELECT `+discountCols+` FROM discounts
WHERE store_id = ? AND start_date <= ? AND end_date >= ? ORDER BY id`, storeID, at, at)
}

func (r *MySQLDiscountRepo) ListByStore(ctx context.Context, storeID int64) ([]domain.Discount, error) {
	return r.list(ctx, `SELECT `+discountCols+` FROM discounts WHERE store_id = ? ORDER BY id`, storeID)
}

func (r *MySQLDiscountRepo) FindByCode(ctx context.Context, code string) (*domain.Discount, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+discountCols+` FROM discounts WHERE code = ?`, code)
	d, err := scanDiscount(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("voucher %q", code))
	}
	return &d, nil
}

func (r *MySQLDiscountRepo) Create(ctx context.Context, d *domain.Discount) error {
	if err := d.Validate(); err != nil {
		return err
	}
	var code sql.NullString
	if d.Code != "" {
		code = sql.NullString{String: d.Code, Valid: true}
	}
	res, err := conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO discounts (type,code,store_id,product_id,value,unit,start_date,end_date,min_purchase,max_discount)
VALUES (?,?,?,?,?,?,?,?,?,?)`, string(d.Type), code, d.StoreID, d.ProductID, d.Value, string(d.Unit),
		d.StartDate, d.EndDate, d.MinPurchase, d.MaxDiscount)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

var (
	_ usecase.CartRepo     = (*MySQLCartRepo)(nil)
	_ usecase.ProductRepo  = (*MySQLProductRepo)(nil)
	_ usecase.AddressRepo  = (*MySQLAddressRepo)(nil)
	_ usecase.DiscountRepo = (*MySQLDiscountRepo)(nil)
)
