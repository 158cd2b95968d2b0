package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/service/access"
	"github.com/vladislavdragonenkov/inventory/internal/service/invoice"
)

// Get возвращает счёт заказа, если вызывающему разрешён просмотр.
func (s *Service) Get(ctx context.Context, orderID string, caller domain.Principal) (invoice.Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "orders.get")
	defer span.End()
	annotate(ctx, orderID)

	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return invoice.Invoice{}, err
		}
		return invoice.Invoice{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if err := access.AuthorizeView(order, caller); err != nil {
		return invoice.Invoice{}, err
	}

	invoices, err := s.project(ctx, []domain.Order{order})
	if err != nil {
		return invoice.Invoice{}, err
	}
	return invoices[0], nil
}

// List возвращает страницу заказов. CLIENT всегда видит только свои заказы,
// ADMIN может отфильтровать по владельцу.
func (s *Service) List(ctx context.Context, filter domain.OrderFilter, caller domain.Principal) ([]invoice.Invoice, domain.Pagination, error) {
	ctx, span := s.tracer.Start(ctx, "orders.list")
	defer span.End()

	if !caller.IsAdmin() {
		filter.OwnerID = caller.UserID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Pagination{}, domain.BadRequest("unknown order status %s", filter.Status)
	}
	if filter.SortBy == "" {
		filter.SortBy = domain.OrderSortCreatedAt
	}
	if !filter.SortBy.Valid() {
		return nil, domain.Pagination{}, domain.BadRequest("unsupported sort field %s", filter.SortBy)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, domain.Pagination{}, domain.BadRequest("startDate must not be after endDate")
	}
	filter.Page = filter.Page.Normalize()

	orders, total, err := s.store.Orders().List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list orders: %w", err)
	}
	invoices, err := s.project(ctx, orders)
	if err != nil {
		return nil, domain.Pagination{}, err
	}
	return invoices, domain.NewPagination(filter.Page, total), nil
}

// History: заказы вызывающего, новые первыми.
func (s *Service) History(ctx context.Context, caller domain.Principal, page domain.Page) ([]invoice.Invoice, domain.Pagination, error) {
	if caller.UserID == "" {
		return nil, domain.Pagination{}, domain.ErrUnauthorized
	}
	return s.List(ctx, domain.OrderFilter{
		OwnerID: caller.UserID,
		SortBy:  domain.OrderSortCreatedAt,
		Page:    page,
	}, domain.Principal{UserID: caller.UserID, Role: domain.RoleClient})
}

// project строит счета, подгружая товары и владельцев один раз на выборку.
func (s *Service) project(ctx context.Context, orders []domain.Order) ([]invoice.Invoice, error) {
	products, err := loadProducts(ctx, s.store.Products(), invoice.ProductIDs(orders...))
	if err != nil {
		return nil, err
	}

	owners := make(map[string]*domain.User)
	result := make([]invoice.Invoice, 0, len(orders))
	for _, order := range orders {
		owner, ok := owners[order.OwnerID]
		if !ok {
			if owner, err = lookupOwner(ctx, s.store.Users(), order.OwnerID); err != nil {
				return nil, err
			}
			owners[order.OwnerID] = owner
		}
		result = append(result, invoice.FromOrder(order, products, owner))
	}
	return result, nil
}
