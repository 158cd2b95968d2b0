package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

// stockTally копит движения остатка и записи outbox одной транзакции.
type stockTally struct {
	decreased int
	increased int
	enqueued  int
}

// withinTx выполняет fn в транзакции. Метрики остатка и outbox пишутся только
// после фиксации; отказ по остатку учитывается по итоговой ошибке.
func (s *Service) withinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork, tally *stockTally) error) error {
	var tally stockTally
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		tally = stockTally{}
		return fn(ctx, uow, &tally)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.RecordInsufficientStock()
		}
		return err
	}

	s.metrics.RecordStockAdjustment("decrease", tally.decreased)
	s.metrics.RecordStockAdjustment("increase", tally.increased)
	for range tally.enqueued {
		s.metrics.RecordOutboxEnqueued()
	}
	return nil
}

// lockProducts блокирует строки товаров в порядке возрастания id, чтобы две
// транзакции с пересекающимися наборами товаров не ждали друг друга по кругу.
// Отсутствующие товары пропускаются: ошибка NotFound выдаётся при обработке своей позиции.
func (s *Service) lockProducts(ctx context.Context, uow domain.UnitOfWork, ids []string) (map[string]domain.Product, error) {
	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	products := make(map[string]domain.Product, len(unique))
	for _, id := range unique {
		p, err := uow.Products().GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				continue
			}
			return nil, fmt.Errorf("lock product %s: %w", id, err)
		}
		products[id] = p
	}
	return products, nil
}

// reserve проходит позиции по порядку: проверяет товар, фиксирует цену и сразу
// списывает остаток. Повторный товар в запросе видит остаток после предыдущей позиции.
func (s *Service) reserve(
	ctx context.Context,
	uow domain.UnitOfWork,
	tally *stockTally,
	products map[string]domain.Product,
	orderID string,
	requests []domain.LineRequest,
	now time.Time,
) ([]domain.OrderLine, domain.Money, error) {
	lines := make([]domain.OrderLine, 0, len(requests))
	var total domain.Money

	for _, req := range requests {
		p, ok := products[req.ProductID]
		if !ok {
			return nil, 0, domain.NotFound("product with id %s not found", req.ProductID)
		}
		available, err := uow.Products().CheckAvailable(ctx, p.ID, req.Quantity)
		if err != nil {
			return nil, 0, fmt.Errorf("check stock of %s: %w", p.ID, err)
		}
		if !available {
			if !p.Active {
				return nil, 0, domain.BadRequest("product %s is not available", p.Name)
			}
			return nil, 0, domain.InsufficientStock(p.Name, p.Stock)
		}

		subtotal, err := p.Price.MulQty(req.Quantity)
		if err != nil {
			return nil, 0, domain.Wrap(domain.KindBadRequest, err, "item %s: amount is out of range", p.Name)
		}
		if total, err = total.Add(subtotal); err != nil {
			return nil, 0, domain.Wrap(domain.KindBadRequest, err, "order total is out of range")
		}

		updated, err := uow.Products().DecreaseStock(ctx, p.ID, req.Quantity)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				return nil, 0, err
			}
			return nil, 0, fmt.Errorf("decrease stock of %s: %w", p.ID, err)
		}
		products[p.ID] = updated
		tally.decreased += req.Quantity

		lines = append(lines, domain.OrderLine{
			ID:        s.newID(),
			OrderID:   orderID,
			ProductID: p.ID,
			Quantity:  req.Quantity,
			UnitPrice: p.Price,
			Subtotal:  subtotal,
			CreatedAt: now,
		})
	}

	return lines, total, nil
}

// release возвращает на склад количество каждой позиции.
// Товар, которого уже нет в каталоге, пропускается.
func (s *Service) release(ctx context.Context, uow domain.UnitOfWork, tally *stockTally, products map[string]domain.Product, lines []domain.OrderLine) error {
	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			s.logger.WithField("product_id", line.ProductID).Warn("skip stock release for missing product")
			continue
		}
		updated, err := uow.Products().IncreaseStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("increase stock of %s: %w", line.ProductID, err)
		}
		products[line.ProductID] = updated
		tally.increased += line.Quantity
	}
	return nil
}

// loadProducts читает товары без блокировки; отсутствующие пропускаются.
func loadProducts(ctx context.Context, repo domain.ProductRepository, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if _, ok := products[id]; ok {
			continue
		}
		p, err := repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				continue
			}
			return nil, fmt.Errorf("load product %s: %w", id, err)
		}
		products[id] = p
	}
	return products, nil
}

// lookupOwner возвращает nil, если владелец не найден.
func lookupOwner(ctx context.Context, repo domain.UserRepository, id string) (*domain.User, error) {
	user, err := repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load owner %s: %w", id, err)
	}
	return &user, nil
}
