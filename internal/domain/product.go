package domain

import (
	"fmt"
	"time"
)

// LotCodePrefix — префикс автоматически сгенерированного кода партии.
const LotCodePrefix = "LOT-"

// Product — позиция каталога со складским остатком.
type Product struct {
	ID          string
	LotCode     string
	Name        string
	Price       Money
	Stock       int
	Description string
	Active      bool
	EntryDate   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Available сообщает, можно ли продать qty единиц товара.
func (p Product) Available(qty int) bool {
	return p.Active && p.Stock >= qty
}

// FormatLotCode форматирует номер партии: LOT-0007.
func FormatLotCode(n int) string {
	return fmt.Sprintf("%s%04d", LotCodePrefix, n)
}

// ProductSortField — допустимые поля сортировки каталога.
type ProductSortField string

const (
	ProductSortCreatedAt ProductSortField = "createdAt"
	ProductSortName      ProductSortField = "name"
	ProductSortPrice     ProductSortField = "price"
	ProductSortStock     ProductSortField = "stock"
	ProductSortLotCode   ProductSortField = "lotCode"
)

// Valid проверяет поле сортировки.
func (f ProductSortField) Valid() bool {
	switch f {
	case ProductSortCreatedAt, ProductSortName, ProductSortPrice, ProductSortStock, ProductSortLotCode:
		return true
	default:
		return false
	}
}

// ProductFilter — параметры выборки каталога. Возвращаются только активные товары.
type ProductFilter struct {
	Search    string
	MinPrice  *Money
	MaxPrice  *Money
	InStock   *bool
	SortBy    ProductSortField
	Ascending bool
	Page      Page
}
