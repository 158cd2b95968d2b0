package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

// orderRepository хранит заказ вместе с позициями; позиции копируются на входе и выходе.
type orderRepository struct {
	sc scope
}

func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	return r.sc.write(func() (func(), error) {
		s := r.sc.s
		if _, exists := s.orders[order.ID]; exists {
			return nil, domain.Conflict("order %s already exists", order.ID)
		}
		if err := r.checkProductRefs(order.Lines); err != nil {
			return nil, err
		}
		s.orders[order.ID] = cloneOrder(order)
		return func() { delete(s.orders, order.ID) }, nil
	})
}

func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var (
		order domain.Order
		ok    bool
	)
	r.sc.read(func() {
		order, ok = r.sc.s.orders[id]
		order = cloneOrder(order)
	})
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// GetForUpdate совпадает с Get: транзакция и так держит txMu.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	var matched []domain.Order
	r.sc.read(func() {
		for _, order := range r.sc.s.orders {
			if filter.OwnerID != "" && order.OwnerID != filter.OwnerID {
				continue
			}
			if filter.Status != "" && order.Status != filter.Status {
				continue
			}
			if filter.From != nil && order.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && order.CreatedAt.After(*filter.To) {
				continue
			}
			matched = append(matched, cloneOrder(order))
		}
	})

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		if filter.SortBy == domain.OrderSortTotal {
			cmp = compareInt64(int64(a.Total), int64(b.Total))
		} else {
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
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

func (r orderRepository) UpdateHeader(_ context.Context, order domain.Order) error {
	return r.sc.write(func() (func(), error) {
		s := r.sc.s
		prev, ok := s.orders[order.ID]
		if !ok {
			return nil, domain.ErrOrderNotFound
		}
		next := prev
		next.Status = order.Status
		next.Total = order.Total
		next.UpdatedAt = order.UpdatedAt
		s.orders[order.ID] = next
		return func() { s.orders[order.ID] = prev }, nil
	})
}

func (r orderRepository) DeleteLines(_ context.Context, orderID string) error {
	return r.sc.write(func() (func(), error) {
		s := r.sc.s
		prev, ok := s.orders[orderID]
		if !ok {
			return nil, domain.ErrOrderNotFound
		}
		next := prev
		next.Lines = nil
		s.orders[orderID] = next
		return func() { s.orders[orderID] = prev }, nil
	})
}

func (r orderRepository) AddLines(_ context.Context, orderID string, lines []domain.OrderLine) error {
	return r.sc.write(func() (func(), error) {
		s := r.sc.s
		prev, ok := s.orders[orderID]
		if !ok {
			return nil, domain.ErrOrderNotFound
		}
		if err := r.checkProductRefs(lines); err != nil {
			return nil, err
		}
		next := cloneOrder(prev)
		for _, line := range lines {
			line.OrderID = orderID
			next.Lines = append(next.Lines, line)
		}
		s.orders[orderID] = next
		return func() { s.orders[orderID] = prev }, nil
	})
}

// checkProductRefs эмулирует внешний ключ order_lines -> products.
func (r orderRepository) checkProductRefs(lines []domain.OrderLine) error {
	for _, line := range lines {
		if _, ok := r.sc.s.products[line.ProductID]; !ok {
			return domain.ErrProductNotFound
		}
	}
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	if src.Lines != nil {
		dst.Lines = append([]domain.OrderLine(nil), src.Lines...)
	}
	return dst
}

var _ domain.OrderRepository = orderRepository{}
