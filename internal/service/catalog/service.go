// Package catalog управляет каталогом товаров: создание, выборка, изменение,
// мягкое удаление и ручная корректировка остатков.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/metrics"
)

// Ограничения полей товара.
const (
	LotCodeMinLen     = 3
	LotCodeMaxLen     = 50
	NameMinLen        = 3
	NameMaxLen        = 100
	DescriptionMaxLen = 500

	randomLotCodeMax = 9999
)

// Store: хранилище каталога с транзакциями.
type Store interface {
	domain.UnitOfWork
	domain.Transactor
}

// CreateInput: данные нового товара. Пустой LotCode генерируется автоматически.
type CreateInput struct {
	LotCode     string
	Name        string
	Price       domain.Money
	Stock       int
	EntryDate   *time.Time
	Description string
}

// UpdateInput: частичное обновление; nil-поля не меняются.
type UpdateInput struct {
	LotCode     *string
	Name        *string
	Price       *domain.Money
	Stock       *int
	EntryDate   *time.Time
	Description *string
}

// Empty сообщает, что не передано ни одного поля.
func (in UpdateInput) Empty() bool {
	return in.LotCode == nil && in.Name == nil && in.Price == nil &&
		in.Stock == nil && in.EntryDate == nil && in.Description == nil
}

// Service: каталог товаров.
type Service struct {
	store   Store
	metrics *metrics.OrderMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
	randN   func(n int) int
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics включает учёт корректировок остатка.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт каталог.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		randN: rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "catalog")
	}
	return s
}

// Create добавляет товар. Явно переданный занятый код партии даёт Conflict.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Product, error) {
	in.LotCode = strings.TrimSpace(in.LotCode)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateCreate(in); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	p := domain.Product{
		ID:          s.newID(),
		LotCode:     in.LotCode,
		Name:        in.Name,
		Price:       in.Price,
		Stock:       in.Stock,
		Description: in.Description,
		Active:      true,
		EntryDate:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.EntryDate != nil {
		p.EntryDate = in.EntryDate.UTC()
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		repo := uow.Products()
		if p.LotCode != "" {
			taken, err := repo.LotCodeExists(ctx, p.LotCode, "")
			if err != nil {
				return fmt.Errorf("check lot code: %w", err)
			}
			if taken {
				return domain.ErrLotCodeTaken
			}
		} else {
			p.LotCode = s.GenerateLotCode(ctx, repo)
		}

		if err := repo.Create(ctx, p); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return err
			}
			return fmt.Errorf("save product: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{"product_id": p.ID, "lot_code": p.LotCode}).Info("product created")
	return p, nil
}

// GenerateLotCode выдаёт следующий номер партии по числу товаров.
// Если посчитать не удалось, берётся случайный номер 1..9999.
func (s *Service) GenerateLotCode(ctx context.Context, repo domain.ProductRepository) string {
	count, err := repo.Count(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("count products for lot code, falling back to random")
		return domain.FormatLotCode(s.randN(randomLotCodeMax) + 1)
	}

	code := domain.FormatLotCode(count + 1)
	if taken, err := repo.LotCodeExists(ctx, code, ""); err == nil && taken {
		code = domain.FormatLotCode(s.randN(randomLotCodeMax) + 1)
	}
	return code
}

// Get возвращает товар по id, в том числе неактивный.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.store.Products().Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Product{}, err
		}
		return domain.Product{}, fmt.Errorf("load product %s: %w", id, err)
	}
	return p, nil
}

// List возвращает страницу активных товаров.
func (s *Service) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, domain.Pagination, error) {
	if filter.SortBy == "" {
		filter.SortBy = domain.ProductSortCreatedAt
	}
	if !filter.SortBy.Valid() {
		return nil, domain.Pagination{}, domain.BadRequest("unsupported sort field %s", filter.SortBy)
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return nil, domain.Pagination{}, domain.BadRequest("minPrice must not exceed maxPrice")
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page = filter.Page.Normalize()

	products, total, err := s.store.Products().List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list products: %w", err)
	}
	return products, domain.NewPagination(filter.Page, total), nil
}

// Update применяет частичное изменение.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (domain.Product, error) {
	if in.Empty() {
		return domain.Product{}, domain.BadRequest("at least one field must be provided")
	}
	if err := validateUpdate(in); err != nil {
		return domain.Product{}, err
	}

	var updated domain.Product
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		repo := uow.Products()
		p, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return fmt.Errorf("lock product %s: %w", id, err)
		}

		if in.LotCode != nil {
			code := strings.TrimSpace(*in.LotCode)
			if code != p.LotCode {
				taken, err := repo.LotCodeExists(ctx, code, p.ID)
				if err != nil {
					return fmt.Errorf("check lot code: %w", err)
				}
				if taken {
					return domain.ErrLotCodeTaken
				}
			}
			p.LotCode = code
		}
		if in.Name != nil {
			p.Name = strings.TrimSpace(*in.Name)
		}
		if in.Price != nil {
			p.Price = *in.Price
		}
		if in.Stock != nil {
			if p, err = s.setStock(ctx, repo, p, *in.Stock); err != nil {
				return err
			}
		}
		if in.EntryDate != nil {
			p.EntryDate = in.EntryDate.UTC()
		}
		if in.Description != nil {
			p.Description = *in.Description
		}
		p.UpdatedAt = s.now()

		if err := repo.Update(ctx, p); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return err
			}
			return fmt.Errorf("update product %s: %w", id, err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithField("product_id", id).Info("product updated")
	return updated, nil
}

// setStock приводит остаток к target через IncreaseStock/DecreaseStock,
// прямой записи stock нет.
func (s *Service) setStock(ctx context.Context, repo domain.ProductRepository, p domain.Product, target int) (domain.Product, error) {
	var (
		adjusted domain.Product
		err      error
	)
	switch delta := target - p.Stock; {
	case delta > 0:
		adjusted, err = repo.IncreaseStock(ctx, p.ID, delta)
	case delta < 0:
		adjusted, err = repo.DecreaseStock(ctx, p.ID, -delta)
	default:
		return p, nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			return domain.Product{}, err
		}
		return domain.Product{}, fmt.Errorf("set stock of %s: %w", p.ID, err)
	}
	p.Stock = adjusted.Stock
	return p, nil
}

// Delete выключает товар. Строка остаётся: на неё ссылаются позиции заказов.
func (s *Service) Delete(ctx context.Context, id string) (domain.Product, error) {
	var deleted domain.Product
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		p, err := uow.Products().GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return fmt.Errorf("lock product %s: %w", id, err)
		}
		p.Active = false
		p.UpdatedAt = s.now()
		if err := uow.Products().Update(ctx, p); err != nil {
			return fmt.Errorf("deactivate product %s: %w", id, err)
		}
		deleted = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithField("product_id", id).Info("product soft deleted")
	return deleted, nil
}

// AddStock увеличивает остаток на qty.
func (s *Service) AddStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	return s.adjust(ctx, id, qty, "increase")
}

// RemoveStock уменьшает остаток на qty; ниже нуля нельзя.
func (s *Service) RemoveStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	return s.adjust(ctx, id, qty, "decrease")
}

func (s *Service) adjust(ctx context.Context, id string, qty int, direction string) (domain.Product, error) {
	if qty < 1 {
		return domain.Product{}, domain.BadRequest("quantity must be at least 1")
	}

	var updated domain.Product
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		repo := uow.Products()
		p, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return fmt.Errorf("lock product %s: %w", id, err)
		}

		if direction == "increase" {
			updated, err = repo.IncreaseStock(ctx, p.ID, qty)
		} else {
			if p.Stock < qty {
				return domain.InsufficientStock(p.Name, p.Stock)
			}
			updated, err = repo.DecreaseStock(ctx, p.ID, qty)
		}
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				return err
			}
			return fmt.Errorf("%s stock of %s: %w", direction, id, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.RecordInsufficientStock()
		}
		return domain.Product{}, err
	}

	s.metrics.RecordStockAdjustment(direction, qty)
	s.logger.WithFields(log.Fields{
		"product_id": id,
		"direction":  direction,
		"quantity":   qty,
		"stock":      updated.Stock,
	}).Info("stock adjusted")
	return updated, nil
}

func validateCreate(in CreateInput) error {
	if in.LotCode != "" {
		if err := checkLen("lotCode", in.LotCode, LotCodeMinLen, LotCodeMaxLen); err != nil {
			return err
		}
	}
	if err := checkLen("name", in.Name, NameMinLen, NameMaxLen); err != nil {
		return err
	}
	if in.Price <= 0 {
		return domain.BadRequest("price must be positive")
	}
	if in.Stock < 0 {
		return domain.BadRequest("stock must not be negative")
	}
	if utf8.RuneCountInString(in.Description) > DescriptionMaxLen {
		return domain.BadRequest("description must not exceed %d characters", DescriptionMaxLen)
	}
	return nil
}

func validateUpdate(in UpdateInput) error {
	if in.LotCode != nil {
		if err := checkLen("lotCode", strings.TrimSpace(*in.LotCode), LotCodeMinLen, LotCodeMaxLen); err != nil {
			return err
		}
	}
	if in.Name != nil {
		if err := checkLen("name", strings.TrimSpace(*in.Name), NameMinLen, NameMaxLen); err != nil {
			return err
		}
	}
	if in.Price != nil && *in.Price <= 0 {
		return domain.BadRequest("price must be positive")
	}
	if in.Stock != nil && *in.Stock < 0 {
		return domain.BadRequest("stock must not be negative")
	}
	if in.Description != nil && utf8.RuneCountInString(*in.Description) > DescriptionMaxLen {
		return domain.BadRequest("description must not exceed %d characters", DescriptionMaxLen)
	}
	return nil
}

func checkLen(field, value string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(value)
	if n < minLen || n > maxLen {
		return domain.BadRequest("%s must be between %d and %d characters", field, minLen, maxLen)
	}
	return nil
}
