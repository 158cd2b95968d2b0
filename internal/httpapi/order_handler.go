package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/service/idempotency"
	"github.com/vladislavdragonenkov/inventory/internal/service/orders"
)

const (
	// HeaderIdempotencyKey: ключ идемпотентности оформления заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	dateLayout = "2006-01-02"
)

type orderLineRequest struct {
	ProductID string `json:"productId" binding:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type orderRequest struct {
	Items []orderLineRequest `json:"items" binding:"required,min=1,dive"`
}

func (r orderRequest) lines() []domain.LineRequest {
	out := make([]domain.LineRequest, 0, len(r.Items))
	for _, item := range r.Items {
		out = append(out, domain.LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

type listOrdersQuery struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"`
	UserID    string `form:"userId" binding:"omitempty,uuid"`
	Status    string `form:"status" binding:"omitempty,oneof=PENDING COMPLETED CANCELLED"`
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
	SortBy    string `form:"sortBy" binding:"omitempty,oneof=createdAt total"`
	SortOrder string `form:"sortOrder" binding:"omitempty,oneof=ASC DESC asc desc"`
}

type orderHandler struct {
	orders *orders.Service
	guard  *idempotency.Guard
}

// create оформляет заказ. С заголовком Idempotency-Key повтор того же запроса
// возвращает сохранённый ответ вместо второго списания.
func (h *orderHandler) create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, domain.Wrap(domain.KindBadRequest, err, "read request body"))
		return
	}
	var req orderRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		failBinding(c, err)
		return
	}

	caller := principalOf(c)
	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if key == "" || h.guard == nil {
		inv, err := h.orders.Create(c.Request.Context(), caller, req.lines())
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusCreated, "order created", inv)
		return
	}

	idemReq := idempotency.Request{
		Scope:  domain.IdempotencyScopeOrderCreate,
		UserID: caller.UserID,
		Key:    key,
		Body:   body,
	}
	resp, replayed, err := h.guard.Execute(c.Request.Context(), idemReq,
		func(ctx context.Context) idempotency.Response {
			inv, err := h.orders.Create(ctx, caller, req.lines())
			if err != nil {
				requestLogger(c).WithError(err).WithField("kind", domain.KindOf(err)).Warn("order placement failed")
				return errorResponse(err)
			}
			return envelopeResponse(http.StatusCreated, "order created", inv)
		})
	if err != nil {
		fail(c, err)
		return
	}
	if replayed {
		c.Header(HeaderIdempotentReplay, "true")
	}
	c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
}

func (h *orderHandler) list(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		failBinding(c, err)
		return
	}
	filter, err := q.filter()
	if err != nil {
		fail(c, err)
		return
	}

	invoices, page, err := h.orders.List(c.Request.Context(), filter, principalOf(c))
	if err != nil {
		fail(c, err)
		return
	}
	respondPage(c, "orders", invoices, page)
}

func (h *orderHandler) history(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		failBinding(c, err)
		return
	}

	invoices, page, err := h.orders.History(c.Request.Context(), principalOf(c), domain.Page{Number: q.Page, Limit: q.Limit})
	if err != nil {
		fail(c, err)
		return
	}
	respondPage(c, "order history", invoices, page)
}

func (h *orderHandler) get(c *gin.Context) {
	inv, err := h.orders.Get(c.Request.Context(), c.Param("id"), principalOf(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "invoice", inv)
}

func (h *orderHandler) update(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}

	inv, err := h.orders.Update(c.Request.Context(), c.Param("id"), principalOf(c), req.lines())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "order updated", inv)
}

func (h *orderHandler) cancel(c *gin.Context) {
	inv, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), principalOf(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "order cancelled", inv)
}

func (h *orderHandler) complete(c *gin.Context) {
	inv, err := h.orders.Complete(c.Request.Context(), c.Param("id"), principalOf(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "order completed", inv)
}

func (q listOrdersQuery) filter() (domain.OrderFilter, error) {
	filter := domain.OrderFilter{
		OwnerID:   q.UserID,
		Status:    domain.OrderStatus(q.Status),
		SortBy:    domain.OrderSortField(q.SortBy),
		Ascending: strings.EqualFold(q.SortOrder, "ASC"),
		Page:      domain.Page{Number: q.Page, Limit: q.Limit},
	}
	var err error
	if filter.From, err = parseDateParam("startDate", q.StartDate, false); err != nil {
		return domain.OrderFilter{}, err
	}
	if filter.To, err = parseDateParam("endDate", q.EndDate, true); err != nil {
		return domain.OrderFilter{}, err
	}
	return filter, nil
}

// parseDateParam принимает RFC3339 или YYYY-MM-DD. Дата без времени для
// конца интервала включает весь день.
func parseDateParam(name, raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, domain.BadRequest("%s must be a date (YYYY-MM-DD or RFC3339)", name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// envelopeResponse сериализует успешный конверт для сохранения в ключе идемпотентности.
func envelopeResponse(status int, message string, data any) idempotency.Response {
	body, err := json.Marshal(Envelope{
		Success:   true,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return errorResponse(err)
	}
	return idempotency.Response{Status: status, Body: body}
}

func errorResponse(err error) idempotency.Response {
	kind := domain.KindOf(err)
	status := statusOf(kind)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		kind = domain.KindInternal
		message = "internal server error"
	}
	body, _ := json.Marshal(Envelope{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Error:     &ErrorBody{Code: string(kind)},
	})
	return idempotency.Response{Status: status, Body: body}
}
