package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	defaultPageSize = 20
	maxPageSize     = 100

	orderColumns = `
		order_id, customer_id, customer_email, customer_name, status,
		total_amount_minor, currency, shipping_address, billing_address,
		payment_method, payment_status, notes, tracking_number,
		cancelled_reason, cancelled_by, cancelled_at,
		processed_at, shipped_at, delivered_at,
		created_at, updated_at, version`
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorageErr("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			order_id, customer_id, customer_email, customer_name, status,
			total_amount_minor, currency, shipping_address, billing_address,
			payment_method, payment_status, notes, tracking_number,
			created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		order.ID, order.CustomerID, nullString(order.CustomerEmail), nullString(order.CustomerName),
		string(order.Status), order.TotalAmountMinor, order.Currency,
		nullString(order.ShippingAddress), nullString(order.BillingAddress),
		nullString(order.PaymentMethod), order.PaymentStatus, nullString(order.Notes),
		nullString(order.TrackingNumber), order.CreatedAt, order.UpdatedAt, order.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return wrapStorageErr("insert order", err)
	}

	if err = insertItemsTx(ctx, tx, order.ID, order.Items); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return wrapStorageErr("commit create order", err)
	}

	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT`+orderColumns+` FROM orders WHERE order_id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, wrapStorageErr("select order", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// Save обновляет заказ под optimistic locking и переписывает набор позиций:
// агрегат владеет позициями целиком, отдельного пути их изменения нет.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorageErr("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET customer_email = $1,
		    customer_name = $2,
		    status = $3,
		    total_amount_minor = $4,
		    currency = $5,
		    shipping_address = $6,
		    billing_address = $7,
		    payment_method = $8,
		    payment_status = $9,
		    notes = $10,
		    tracking_number = $11,
		    cancelled_reason = $12,
		    cancelled_by = $13,
		    cancelled_at = $14,
		    processed_at = $15,
		    shipped_at = $16,
		    delivered_at = $17,
		    updated_at = $18,
		    version = version + 1
		WHERE order_id = $19
		  AND version = $20
	`,
		nullString(order.CustomerEmail), nullString(order.CustomerName),
		string(order.Status), order.TotalAmountMinor, order.Currency,
		nullString(order.ShippingAddress), nullString(order.BillingAddress),
		nullString(order.PaymentMethod), order.PaymentStatus, nullString(order.Notes),
		nullString(order.TrackingNumber),
		nullString(order.CancelledReason), nullString(order.CancelledBy), nullTime(order.CancelledAt),
		nullTime(order.ProcessedAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
		order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return wrapStorageErr("update order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStorageErr("rows affected", err)
	}
	if affected == 0 {
		exists, checkErr := orderExistsTx(ctx, tx, order.ID)
		if checkErr != nil {
			err = checkErr
			return err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return wrapStorageErr("delete order items", err)
	}
	if err = insertItemsTx(ctx, tx, order.ID, order.Items); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return wrapStorageErr("commit save order", err)
	}

	return nil
}

func (r *orderRepository) List(ctx context.Context, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{}, page)
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{CustomerID: &customerID}, page)
}

func (r *orderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{Status: &status}, page)
}

func (r *orderRepository) ListByCustomerAndStatus(ctx context.Context, customerID string, status domain.OrderStatus, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{CustomerID: &customerID, Status: &status}, page)
}

func (r *orderRepository) Search(ctx context.Context, filter domain.SearchFilter, page domain.Page) (domain.OrderPage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := buildSearchWhere(filter)
	size := normalizePageSize(page.Size)
	number := page.Number
	if number < 0 {
		number = 0
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return domain.OrderPage{}, wrapStorageErr("count orders", err)
	}

	query := fmt.Sprintf(
		`SELECT%s FROM orders%s ORDER BY created_at DESC, order_id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, size, number*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.OrderPage{}, wrapStorageErr("search orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, size)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, wrapStorageErr("scan order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, wrapStorageErr("iterate order rows", err)
	}

	for idx := range orders {
		items, err := r.loadItems(ctx, orders[idx].ID)
		if err != nil {
			return domain.OrderPage{}, err
		}
		orders[idx].Items = items
	}

	return domain.OrderPage{
		Orders:     orders,
		TotalCount: total,
		Number:     number,
		Size:       size,
	}, nil
}

func (r *orderRepository) ExistsForCustomer(ctx context.Context, orderID, customerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM orders WHERE order_id = $1 AND customer_id = $2
	`, orderID, customerID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, wrapStorageErr("check order ownership", err)
}

// AdvancePendingOlderThan выбирает батч «созревших» PENDING-заказов и
// переводит их в новый статус одним оператором: подзапрос под
// FOR UPDATE SKIP LOCKED удерживает строки до конца UPDATE, поэтому
// конкурирующий вызов не видит их ни PENDING, ни разблокированными.
// Непересекаемость батчей не требует внешней блокировки.
func (r *orderRepository) AdvancePendingOlderThan(ctx context.Context, cutoff time.Time, batchSize int, status domain.OrderStatus, updatedAt time.Time) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = $2, version = version + 1
		WHERE order_id IN (
			SELECT order_id
			FROM orders
			WHERE status = $3
			  AND created_at < $4
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+orderColumns,
		string(status), updatedAt, string(domain.OrderStatusPending), cutoff, batchSize)
	if err != nil {
		return nil, wrapStorageErr("advance pending orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, batchSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapStorageErr("scan advanced order", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr("iterate advanced orders", err)
	}

	return orders, nil
}

func (r *orderRepository) DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Позиции удаляются каскадно по внешнему ключу.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM orders
		WHERE status = $1
		  AND cancelled_at < $2
	`, string(domain.OrderStatusCancelled), cutoff)
	if err != nil {
		return 0, wrapStorageErr("delete cancelled orders", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStorageErr("rows affected", err)
	}
	return int(affected), nil
}

func (r *orderRepository) StatisticsByCustomer(ctx context.Context, customerID string) (domain.CustomerStatistics, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	stats := domain.CustomerStatistics{
		CustomerID:    customerID,
		CountByStatus: make(map[domain.OrderStatus]int64, len(domain.AllOrderStatuses)),
	}
	for _, status := range domain.AllOrderStatuses {
		stats.CountByStatus[status] = 0
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total_amount_minor), 0),
		       COALESCE(AVG(total_amount_minor), 0)
		FROM orders
		WHERE customer_id = $1
	`, customerID).Scan(&stats.TotalOrders, &stats.TotalAmountMinor, &stats.AverageAmountMinor)
	if err != nil {
		return domain.CustomerStatistics{}, wrapStorageErr("aggregate statistics", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM orders
		WHERE customer_id = $1
		GROUP BY status
	`, customerID)
	if err != nil {
		return domain.CustomerStatistics{}, wrapStorageErr("status statistics", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return domain.CustomerStatistics{}, wrapStorageErr("scan status statistics", err)
		}
		stats.CountByStatus[domain.OrderStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return domain.CustomerStatistics{}, wrapStorageErr("iterate status statistics", err)
	}

	return stats, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_id, product_id, product_name, product_description, product_sku,
		       quantity, unit_price_minor, discount_minor, tax_minor, subtotal_minor,
		       notes, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, item_id ASC
	`, orderID)
	if err != nil {
		return nil, wrapStorageErr("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		var description, sku, notes sql.NullString
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.ProductName, &description, &sku,
			&item.Quantity, &item.UnitPriceMinor, &item.DiscountMinor, &item.TaxMinor,
			&item.SubtotalMinor, &notes, &item.CreatedAt,
		); err != nil {
			return nil, wrapStorageErr("scan order item", err)
		}
		item.ProductDescription = description.String
		item.ProductSKU = sku.String
		item.Notes = notes.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr("iterate order items", err)
	}

	return items, nil
}

func insertItemsTx(ctx context.Context, tx *sql.Tx, orderID string, items []domain.OrderItem) error {
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				item_id, order_id, product_id, product_name, product_description,
				product_sku, quantity, unit_price_minor, discount_minor, tax_minor,
				subtotal_minor, notes, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			item.ID, orderID, item.ProductID, item.ProductName,
			nullString(item.ProductDescription), nullString(item.ProductSKU),
			item.Quantity, item.UnitPriceMinor, item.DiscountMinor, item.TaxMinor,
			item.SubtotalMinor, nullString(item.Notes), item.CreatedAt,
		); err != nil {
			return wrapStorageErr("insert order item", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var status string
	var email, name, shipping, billing, paymentMethod, notes, tracking sql.NullString
	var cancelledReason, cancelledBy sql.NullString
	var cancelledAt, processedAt, shippedAt, deliveredAt sql.NullTime

	err := row.Scan(
		&order.ID, &order.CustomerID, &email, &name, &status,
		&order.TotalAmountMinor, &order.Currency, &shipping, &billing,
		&paymentMethod, &order.PaymentStatus, &notes, &tracking,
		&cancelledReason, &cancelledBy, &cancelledAt,
		&processedAt, &shippedAt, &deliveredAt,
		&order.CreatedAt, &order.UpdatedAt, &order.Version,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.CustomerEmail = email.String
	order.CustomerName = name.String
	order.ShippingAddress = shipping.String
	order.BillingAddress = billing.String
	order.PaymentMethod = paymentMethod.String
	order.Notes = notes.String
	order.TrackingNumber = tracking.String
	order.CancelledReason = cancelledReason.String
	order.CancelledBy = cancelledBy.String
	order.CancelledAt = timePtr(cancelledAt)
	order.ProcessedAt = timePtr(processedAt)
	order.ShippedAt = timePtr(shippedAt)
	order.DeliveredAt = timePtr(deliveredAt)

	return order, nil
}

func buildSearchWhere(filter domain.SearchFilter) (string, []any) {
	conds := make([]string, 0, 6)
	args := make([]any, 0, 6)

	next := func() int { return len(args) + 1 }

	if filter.CustomerID != nil {
		conds = append(conds, fmt.Sprintf("customer_id = $%d", next()))
		args = append(args, *filter.CustomerID)
	}
	if filter.Status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", next()))
		args = append(args, string(*filter.Status))
	}
	if filter.CreatedFrom != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", next()))
		args = append(args, *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", next()))
		args = append(args, *filter.CreatedTo)
	}
	if filter.MinAmountMinor != nil {
		conds = append(conds, fmt.Sprintf("total_amount_minor >= $%d", next()))
		args = append(args, *filter.MinAmountMinor)
	}
	if filter.MaxAmountMinor != nil {
		conds = append(conds, fmt.Sprintf("total_amount_minor <= $%d", next()))
		args = append(args, *filter.MaxAmountMinor)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func normalizePageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT order_id FROM orders WHERE order_id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, wrapStorageErr("check order exists", err)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// wrapStorageErr помечает инфраструктурные сбои (обрывы соединений,
// таймауты) как ErrStorageUnavailable, чтобы вызывающая сторона могла
// отличить временную недоступность от бизнес-ошибок.
func wrapStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransientDriverErr(err) {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransientDriverErr(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Класс 08 — connection exception, 57 — operator intervention.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57")
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
