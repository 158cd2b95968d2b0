package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

const productColumns = `id, lot_code, name, price_minor, stock, description, active, entry_date, created_at, updated_at`

var productSortColumns = map[domain.ProductSortField]string{
	domain.ProductSortCreatedAt: "created_at",
	domain.ProductSortName:      "name",
	domain.ProductSortPrice:     "price_minor",
	domain.ProductSortStock:     "stock",
	domain.ProductSortLotCode:   "lot_code",
}

type productRepository struct {
	q querier
}

func (r *productRepository) Create(ctx context.Context, p domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		p.ID, p.LotCode, p.Name, int64(p.Price), p.Stock, p.Description,
		p.Active, p.EntryDate, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrLotCodeTaken
		}
		if isCheckViolation(err) {
			return domain.Wrap(domain.KindBadRequest, err, "product violates catalog constraints")
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate блокирует строку товара до конца транзакции (SELECT ... FOR UPDATE).
func (r *productRepository) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.get(ctx, id, true)
}

func (r *productRepository) get(ctx context.Context, id string, forUpdate bool) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanProduct(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where := []string{"active = TRUE"}
	args := make([]any, 0, 6)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		ph := arg("%" + escapeLike(search) + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %[1]s OR lot_code ILIKE %[1]s OR description ILIKE %[1]s)", ph))
	}
	if filter.MinPrice != nil {
		where = append(where, "price_minor >= "+arg(int64(*filter.MinPrice)))
	}
	if filter.MaxPrice != nil {
		where = append(where, "price_minor <= "+arg(int64(*filter.MaxPrice)))
	}
	if filter.InStock != nil {
		if *filter.InStock {
			where = append(where, "stock > 0")
		} else {
			where = append(where, "stock = 0")
		}
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	column, ok := productSortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	page := filter.Page.Normalize()
	query := `SELECT ` + productColumns + ` FROM products` + whereSQL +
		fmt.Sprintf(" ORDER BY %s %s, id %[2]s", column, sortDirection(filter.Ascending)) +
		fmt.Sprintf(" LIMIT %s OFFSET %s", arg(page.Limit), arg(page.Offset()))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, page.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, total, nil
}

func (r *productRepository) Update(ctx context.Context, p domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET lot_code = $2,
		    name = $3,
		    price_minor = $4,
		    stock = $5,
		    description = $6,
		    active = $7,
		    entry_date = $8,
		    updated_at = $9
		WHERE id = $1
	`,
		p.ID, p.LotCode, p.Name, int64(p.Price), p.Stock, p.Description, p.Active, p.EntryDate, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrLotCodeTaken
		}
		if isCheckViolation(err) {
			return domain.Wrap(domain.KindBadRequest, err, "product violates catalog constraints")
		}
		return fmt.Errorf("update product: %w", err)
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func (r *productRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

func (r *productRepository) LotCodeExists(ctx context.Context, lotCode, excludeID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var exists bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE lot_code = $1 AND id <> $2)
	`, lotCode, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check lot code: %w", err)
	}
	return exists, nil
}

// CheckAvailable: отсутствующий товар просто недоступен.
func (r *productRepository) CheckAvailable(ctx context.Context, id string, qty int) (bool, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Available(qty), nil
}

// DecreaseStock списывает остаток одним условным UPDATE; при нехватке возвращает
// BadRequest с причиной ErrInsufficientStock и текущим остатком.
func (r *productRepository) DecreaseStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.BadRequest("quantity must be positive")
	}

	p, err := r.adjustStock(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock >= $2
		RETURNING `+productColumns, id, qty)
	if !errors.Is(err, sql.ErrNoRows) {
		return p, err
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return domain.Product{}, getErr
	}
	return domain.Product{}, domain.InsufficientStock(current.Name, current.Stock)
}

func (r *productRepository) IncreaseStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.BadRequest("quantity must be positive")
	}

	p, err := r.adjustStock(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = $3
		WHERE id = $1
		RETURNING `+productColumns, id, qty)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, err
}

func (r *productRepository) adjustStock(ctx context.Context, query, id string, qty int) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanProduct(r.q.QueryRowContext(ctx, query, id, qty, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, err
		}
		return domain.Product{}, fmt.Errorf("adjust product stock: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p     domain.Product
		price int64
	)
	err := row.Scan(
		&p.ID, &p.LotCode, &p.Name, &price, &p.Stock, &p.Description,
		&p.Active, &p.EntryDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.Price = domain.Money(price)
	return p, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func sortDirection(ascending bool) string {
	if ascending {
		return "ASC"
	}
	return "DESC"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ domain.ProductRepository = (*productRepository)(nil)
