package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

const orderColumns = `id, owner_id, status, total_minor, created_at, updated_at`

type orderRepository struct {
	q querier
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		order.ID, order.OwnerID, string(order.Status), int64(order.Total), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("order %s already exists", order.ID)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return r.insertLines(ctx, order.ID, order.Lines)
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate блокирует заголовок заказа; позиции читаются под этой же блокировкой.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, true)
}

func (r *orderRepository) get(ctx context.Context, id string, forUpdate bool) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.loadLines(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines[order.ID]

	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var where []string
	args := make([]any, 0, 6)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OwnerID != "" {
		where = append(where, "owner_id = "+arg(filter.OwnerID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.From != nil {
		where = append(where, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "created_at <= "+arg(*filter.To))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	column := "created_at"
	if filter.SortBy == domain.OrderSortTotal {
		column = "total_minor"
	}
	page := filter.Page.Normalize()
	query := `SELECT ` + orderColumns + ` FROM orders` + whereSQL +
		fmt.Sprintf(" ORDER BY %s %s, id %[2]s", column, sortDirection(filter.Ascending)) +
		fmt.Sprintf(" LIMIT %s OFFSET %s", arg(page.Limit), arg(page.Offset()))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, page.Limit)
	ids := make([]string, 0, page.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return orders, total, nil
	}
	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}

	return orders, total, nil
}

func (r *orderRepository) UpdateHeader(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    total_minor = $3,
		    updated_at = $4
		WHERE id = $1
	`, order.ID, string(order.Status), int64(order.Total), order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (r *orderRepository) DeleteLines(ctx context.Context, orderID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order lines: %w", err)
	}
	return nil
}

func (r *orderRepository) AddLines(ctx context.Context, orderID string, lines []domain.OrderLine) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.insertLines(ctx, orderID, lines)
}

func (r *orderRepository) insertLines(ctx context.Context, orderID string, lines []domain.OrderLine) error {
	for i, line := range lines {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, position, product_id, quantity, unit_price_minor, subtotal_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			line.ID, orderID, i, line.ProductID, line.Quantity,
			int64(line.UnitPrice), int64(line.Subtotal), line.CreatedAt,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return domain.ErrProductNotFound
			}
			if isCheckViolation(err) {
				return domain.Wrap(domain.KindBadRequest, err, "order line violates constraints")
			}
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	placeholders := make([]string, len(orderIDs))
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_minor, subtotal_minor, created_at
		FROM order_lines
		WHERE order_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY order_id, position ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			line           domain.OrderLine
			unit, subtotal int64
		)
		if err := rows.Scan(
			&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &unit, &subtotal, &line.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.UnitPrice = domain.Money(unit)
		line.Subtotal = domain.Money(subtotal)
		result[line.OrderID] = append(result[line.OrderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return result, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		total  int64
	)
	if err := row.Scan(&order.ID, &order.OwnerID, &status, &total, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.Total = domain.Money(total)
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
