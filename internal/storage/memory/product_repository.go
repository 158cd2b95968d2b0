package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

type productRepository struct {
	sc scope
}

// Create сохраняет товар; занятый код партии даёт ErrLotCodeTaken.
func (r productRepository) Create(_ context.Context, p domain.Product) error {
	return r.sc.write(func() (func(), error) {
		s := r.sc.s
		if _, exists := s.products[p.ID]; exists {
			return nil, domain.Conflict("product %s already exists", p.ID)
		}
		if r.lotTaken(p.LotCode, "") {
			return nil, domain.ErrLotCodeTaken
		}
		s.products[p.ID] = p
		return func() { delete(s.products, p.ID) }, nil
	})
}

func (r productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	var (
		p  domain.Product
		ok bool
	)
	r.sc.read(func() {
		p, ok = r.sc.s.products[id]
	})
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// GetForUpdate совпадает с Get: транзакция и так держит txMu.
func (r productRepository) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.Get(ctx, id)
}

func (r productRepository) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	var matched []domain.Product
	r.sc.read(func() {
		for _, p := range r.sc.s.products {
			if !p.Active {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(p.Name), search) &&
				!strings.Contains(strings.ToLower(p.LotCode), search) &&
				!strings.Contains(strings.ToLower(p.Description), search) {
				continue
			}
			if filter.MinPrice != nil && p.Price < *filter.MinPrice {
				continue
			}
			if filter.MaxPrice != nil && p.Price > *filter.MaxPrice {
				continue
			}
			if filter.InStock != nil && (p.Stock > 0) != *filter.InStock {
				continue
			}
			matched = append(matched, p)
		}
	})

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		cmp := compareProducts(a, b, filter.SortBy)
		if cmp == 0 {
			cmp = strings.Compare(a.ID, b.ID)
		}
		if filter.Ascending {
			return cmp < 0
		}
		return cmp > 0
	})

	return paginate(matched, filter.Page), len(matched), nil
}

func compareProducts(a, b domain.Product, field domain.ProductSortField) int {
	switch field {
	case domain.ProductSortName:
		return strings.Compare(a.Name, b.Name)
	case domain.ProductSortPrice:
		return compareInt64(int64(a.Price), int64(b.Price))
	case domain.ProductSortStock:
		return compareInt64(int64(a.Stock), int64(b.Stock))
	case domain.ProductSortLotCode:
		return strings.Compare(a.LotCode, b.LotCode)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (r productRepository) Update(_ context.Context, p domain.Product) error {
	return r.sc.write(func() (func(), error) {
		s := r.sc.s
		prev, ok := s.products[p.ID]
		if !ok {
			return nil, domain.ErrProductNotFound
		}
		if r.lotTaken(p.LotCode, p.ID) {
			return nil, domain.ErrLotCodeTaken
		}
		s.products[p.ID] = p
		return func() { s.products[p.ID] = prev }, nil
	})
}

func (r productRepository) Count(context.Context) (int, error) {
	var n int
	r.sc.read(func() {
		n = len(r.sc.s.products)
	})
	return n, nil
}

func (r productRepository) LotCodeExists(_ context.Context, lotCode, excludeID string) (bool, error) {
	var exists bool
	r.sc.read(func() {
		exists = r.lotTaken(lotCode, excludeID)
	})
	return exists, nil
}

// lotTaken вызывается под блокировкой mu.
func (r productRepository) lotTaken(lotCode, excludeID string) bool {
	for id, p := range r.sc.s.products {
		if id != excludeID && p.LotCode == lotCode {
			return true
		}
	}
	return false
}

// CheckAvailable: отсутствующий товар просто недоступен.
func (r productRepository) CheckAvailable(ctx context.Context, id string, qty int) (bool, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Available(qty), nil
}

func (r productRepository) DecreaseStock(_ context.Context, id string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.BadRequest("quantity must be positive")
	}
	return r.adjustStock(id, -qty)
}

func (r productRepository) IncreaseStock(_ context.Context, id string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.BadRequest("quantity must be positive")
	}
	return r.adjustStock(id, qty)
}

func (r productRepository) adjustStock(id string, delta int) (domain.Product, error) {
	var updated domain.Product
	err := r.sc.write(func() (func(), error) {
		s := r.sc.s
		prev, ok := s.products[id]
		if !ok {
			return nil, domain.ErrProductNotFound
		}
		if prev.Stock+delta < 0 {
			return nil, domain.InsufficientStock(prev.Name, prev.Stock)
		}
		updated = prev
		updated.Stock += delta
		updated.UpdatedAt = time.Now().UTC()
		s.products[id] = updated
		return func() { s.products[id] = prev }, nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func paginate[T any](items []T, page domain.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

var _ domain.ProductRepository = productRepository{}
