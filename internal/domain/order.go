package domain

import (
	"errors"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — начальный статус, заказ можно менять.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusCompleted — заказ выполнен администратором (терминальный).
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled — заказ отменён, остаток возвращён (терминальный).
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo: PENDING -> COMPLETED | CANCELLED, остальное запрещено.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && next.Terminal()
}

var (
	// Ошибки инвариантов заказа.
	ErrOwnerRequired    = errors.New("owner is required")
	ErrLinesRequired    = errors.New("order must contain at least one line")
	ErrTotalNegative    = errors.New("total must be non-negative")
	ErrLineQtyInvalid   = errors.New("line quantity must be at least 1")
	ErrLinePriceInvalid = errors.New("line unit price must be positive")
	ErrSubtotalMismatch = errors.New("line subtotal does not match unit price x quantity")
	ErrTotalMismatch    = errors.New("order total does not match lines sum")
	ErrStatusInvalid    = errors.New("order status is invalid")
)

// OrderLine — позиция заказа. Цена зафиксирована на момент оформления.
type OrderLine struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice Money
	Subtotal  Money
	CreatedAt time.Time
}

// Order — заголовок заказа вместе с позициями.
type Order struct {
	ID        string
	OwnerID   string
	Status    OrderStatus
	Total     Money
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineRequest — запрошенная клиентом позиция.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.Total < 0 {
		errs = append(errs, ErrTotalNegative)
	}

	var calc Money
	for _, line := range o.Lines {
		if line.Quantity < 1 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPrice <= 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
		if expected, err := line.UnitPrice.MulQty(line.Quantity); err != nil || expected != line.Subtotal {
			errs = append(errs, ErrSubtotalMismatch)
		}
		calc += line.Subtotal
	}
	if calc != o.Total {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// OrderSortField — допустимые поля сортировки заказов.
type OrderSortField string

const (
	OrderSortCreatedAt OrderSortField = "createdAt"
	OrderSortTotal     OrderSortField = "total"
)

// Valid проверяет поле сортировки.
func (f OrderSortField) Valid() bool {
	return f == OrderSortCreatedAt || f == OrderSortTotal
}

// OrderFilter — параметры выборки заказов.
type OrderFilter struct {
	OwnerID   string
	Status    OrderStatus
	From      *time.Time
	To        *time.Time
	SortBy    OrderSortField
	Ascending bool
	Page      Page
}
