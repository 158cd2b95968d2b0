package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

// Envelope: общий формат ответа API.
type Envelope struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Data      any        `json:"data,omitempty"`
	Meta      *Meta      `json:"meta,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// Meta: метаданные списка.
type Meta struct {
	Pagination domain.Pagination `json:"pagination"`
}

// ErrorBody описывает отказ.
type ErrorBody struct {
	Code    string       `json:"code"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError: замечание валидации по одному полю.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{
		Success:   true,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func respondPage(c *gin.Context, message string, data any, page domain.Pagination) {
	c.JSON(http.StatusOK, Envelope{
		Success:   true,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Meta:      &Meta{Pagination: page},
	})
}

// statusOf переводит вид доменной ошибки в HTTP-статус.
func statusOf(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail пишет ошибку в конверт. Внутренние ошибки наружу не раскрываются.
func fail(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := statusOf(kind)
	message := err.Error()

	entry := requestLogger(c).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		kind = domain.KindInternal
		message = "internal server error"
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Envelope{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Error:     &ErrorBody{Code: string(kind)},
	})
}

// failBinding отвечает на ошибку разбора или валидации тела и query.
func failBinding(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{Field: fieldPath(fe), Message: describe(fe)})
		}
		requestLogger(c).WithField("fields", len(details)).Info("request validation failed")
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, Envelope{
			Success:   false,
			Message:   "validation failed",
			Timestamp: time.Now().UTC(),
			Error:     &ErrorBody{Code: string(domain.KindValidation), Details: details},
		})
		return
	}
	fail(c, domain.Wrap(domain.KindBadRequest, err, "invalid request: %v", err))
}

// fieldPath убирает имя корневой структуры: orderRequest.items[0].quantity -> items[0].quantity.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, found := strings.Cut(ns, "."); found {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "notblank":
		return "must not be blank"
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

func requestLogger(c *gin.Context) *log.Entry {
	if v, ok := c.Get(ctxLoggerKey); ok {
		if entry, ok := v.(*log.Entry); ok {
			return entry
		}
	}
	return log.WithField("component", "http")
}
