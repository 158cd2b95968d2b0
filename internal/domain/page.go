package domain

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page: номер страницы (с 1) и размер.
type Page struct {
	Number int
	Limit  int
}

// Normalize подставляет значения по умолчанию и ограничивает limit.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset считает смещение для уже нормализованной страницы.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Pagination: метаданные выборки для ответа.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination считает количество страниц.
func NewPagination(p Page, total int) Pagination {
	p = p.Normalize()
	pages := 0
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{Page: p.Number, Limit: p.Limit, Total: total, TotalPages: pages}
}
