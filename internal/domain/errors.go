package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибку для транспорта и логов.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindBadRequest   ErrorKind = "BAD_REQUEST"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindConflict     ErrorKind = "CONFLICT"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindValidation   ErrorKind = "VALIDATION_ERROR"
	KindInternal     ErrorKind = "INTERNAL_ERROR"
)

// Error: бизнес-ошибка с видом и человекочитаемым сообщением.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с "голым" sentinel того же вида (ErrNotFound и т.п.).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// NewError создаёт ошибку заданного вида.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap создаёт ошибку заданного вида с причиной.
func Wrap(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func NotFound(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func BadRequest(format string, args ...any) *Error {
	return NewError(KindBadRequest, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return NewError(KindForbidden, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return NewError(KindConflict, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return NewError(KindUnauthorized, format, args...)
}

func Validation(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

// KindOf возвращает вид ошибки; всё, что не *Error, считается внутренней ошибкой.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

var (
	// Sentinel-значения для сравнения по виду через errors.Is.
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrBadRequest   = &Error{Kind: KindBadRequest}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrValidation   = &Error{Kind: KindValidation}

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = NotFound("order not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = NotFound("product not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = NotFound("user not found")
	// ErrLotCodeTaken: нарушение уникальности кода партии.
	ErrLotCodeTaken = Conflict("lot code already exists")
	// ErrEmailTaken: email уже зарегистрирован.
	ErrEmailTaken = Conflict("email is already registered")
	// ErrInvalidCredentials: неверная пара email/пароль.
	ErrInvalidCredentials = Unauthorized("invalid credentials")
	// ErrAccountDisabled: пользователь деактивирован.
	ErrAccountDisabled = Unauthorized("account is disabled")

	// ErrInsufficientStock: причина отказа при списании остатка ниже нуля.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyInvalid: ключ слишком длинный или содержит недопустимые символы.
	ErrIdempotencyKeyInvalid = errors.New("idempotency key is invalid")
	// ErrIdempotencyRequestHashRequired: пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использован этим же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// InsufficientStock формирует отказ с именем товара и доступным остатком.
func InsufficientStock(productName string, available int) *Error {
	return Wrap(KindBadRequest, ErrInsufficientStock, "Insufficient stock for %s. Available: %d", productName, available)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
