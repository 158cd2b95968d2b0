package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/service/catalog"
)

type createProductRequest struct {
	LotCode     string       `json:"lotCode" binding:"omitempty,min=3,max=50"`
	Name        string       `json:"name" binding:"required,notblank,min=3,max=100"`
	Price       domain.Money `json:"price" binding:"required,gt=0"`
	Stock       *int         `json:"stock" binding:"required,gte=0"`
	EntryDate   *time.Time   `json:"entryDate"`
	Description string       `json:"description" binding:"max=500"`
}

type updateProductRequest struct {
	LotCode     *string       `json:"lotCode" binding:"omitempty,min=3,max=50"`
	Name        *string       `json:"name" binding:"omitempty,notblank,min=3,max=100"`
	Price       *domain.Money `json:"price" binding:"omitempty,gt=0"`
	Stock       *int          `json:"stock" binding:"omitempty,gte=0"`
	EntryDate   *time.Time    `json:"entryDate"`
	Description *string       `json:"description" binding:"omitempty,max=500"`
}

type stockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

type listProductsQuery struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Search    string `form:"search" binding:"max=100"`
	MinPrice  string `form:"minPrice"`
	MaxPrice  string `form:"maxPrice"`
	InStock   *bool  `form:"inStock"`
	SortBy    string `form:"sortBy" binding:"omitempty,oneof=createdAt name price stock lotCode"`
	SortOrder string `form:"sortOrder" binding:"omitempty,oneof=ASC DESC asc desc"`
}

type productResponse struct {
	ID          string       `json:"id"`
	LotCode     string       `json:"lotCode"`
	Name        string       `json:"name"`
	Price       domain.Money `json:"price"`
	Stock       int          `json:"stock"`
	Description string       `json:"description,omitempty"`
	Active      bool         `json:"isActive"`
	EntryDate   time.Time    `json:"entryDate"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		LotCode:     p.LotCode,
		Name:        p.Name,
		Price:       p.Price,
		Stock:       p.Stock,
		Description: p.Description,
		Active:      p.Active,
		EntryDate:   p.EntryDate,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type productHandler struct {
	catalog *catalog.Service
}

func (h *productHandler) create(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}

	p, err := h.catalog.Create(c.Request.Context(), catalog.CreateInput{
		LotCode:     req.LotCode,
		Name:        req.Name,
		Price:       req.Price,
		Stock:       *req.Stock,
		EntryDate:   req.EntryDate,
		Description: req.Description,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "product created", toProductResponse(p))
}

func (h *productHandler) list(c *gin.Context) {
	var q listProductsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		failBinding(c, err)
		return
	}

	filter := domain.ProductFilter{
		Search:    q.Search,
		InStock:   q.InStock,
		SortBy:    domain.ProductSortField(q.SortBy),
		Ascending: strings.EqualFold(q.SortOrder, "ASC"),
		Page:      domain.Page{Number: q.Page, Limit: q.Limit},
	}
	var err error
	if filter.MinPrice, err = parseMoneyParam("minPrice", q.MinPrice); err != nil {
		fail(c, err)
		return
	}
	if filter.MaxPrice, err = parseMoneyParam("maxPrice", q.MaxPrice); err != nil {
		fail(c, err)
		return
	}

	products, page, err := h.catalog.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	respondPage(c, "products", out, page)
}

func (h *productHandler) get(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "product", toProductResponse(p))
}

func (h *productHandler) update(c *gin.Context) {
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}

	p, err := h.catalog.Update(c.Request.Context(), c.Param("id"), catalog.UpdateInput{
		LotCode:     req.LotCode,
		Name:        req.Name,
		Price:       req.Price,
		Stock:       req.Stock,
		EntryDate:   req.EntryDate,
		Description: req.Description,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "product updated", toProductResponse(p))
}

func (h *productHandler) delete(c *gin.Context) {
	p, err := h.catalog.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "product deleted", toProductResponse(p))
}

func (h *productHandler) addStock(c *gin.Context) {
	h.adjustStock(c, h.catalog.AddStock, "stock added")
}

func (h *productHandler) removeStock(c *gin.Context) {
	h.adjustStock(c, h.catalog.RemoveStock, "stock removed")
}

func (h *productHandler) adjustStock(
	c *gin.Context,
	op func(ctx context.Context, id string, qty int) (domain.Product, error),
	message string,
) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}
	p, err := op(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, message, toProductResponse(p))
}

func parseMoneyParam(name, raw string) (*domain.Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	m, err := domain.ParseMoney(raw)
	if err != nil {
		return nil, domain.Wrap(domain.KindBadRequest, err, "%s must be a decimal amount", name)
	}
	if m < 0 {
		return nil, domain.BadRequest("%s must not be negative", name)
	}
	return &m, nil
}
