package domain

import (
	"fmt"
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: заказ по ключу ещё оформляется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: заказ оформлен, ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: оформление отклонено, сохранён ответ с ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyScopeOrderCreate: операция оформления заказа.
const IdempotencyScopeOrderCreate = "order.create"

// MaxIdempotencyKeyLength ограничивает клиентскую часть ключа.
const MaxIdempotencyKeyLength = 255

// IdempotencyRecord хранит состояние обработки запроса с idempotency-key.
// Key: ключ хранения из ScopedIdempotencyKey, а не заголовок как есть.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal: ответ сохранён и его можно воспроизвести.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// Expired сообщает, что срок ключа истёк к моменту now. Такой ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !now.Before(r.TTLAt)
}

// Stale: запись застряла в processing дольше timeout (например, процесс упал посреди запроса).
func (r IdempotencyRecord) Stale(now time.Time, timeout time.Duration) bool {
	return r.Status == IdempotencyStatusProcessing && timeout > 0 && !now.Before(r.UpdatedAt.Add(timeout))
}

// ValidateIdempotencyKey проверяет клиентский ключ: не пустой, не длиннее
// MaxIdempotencyKeyLength, только видимые ASCII-символы.
func ValidateIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrIdempotencyKeyRequired
	}
	if len(key) > MaxIdempotencyKeyLength {
		return fmt.Errorf("%w: longer than %d characters", ErrIdempotencyKeyInvalid, MaxIdempotencyKeyLength)
	}
	for _, r := range key {
		if r < 0x21 || r > 0x7e {
			return fmt.Errorf("%w: only visible ASCII characters are allowed", ErrIdempotencyKeyInvalid)
		}
	}
	return nil
}

// ScopedIdempotencyKey строит ключ хранения. Одинаковые заголовки разных
// пользователей или операций не пересекаются.
func ScopedIdempotencyKey(scope, userID, key string) string {
	return scope + ":" + userID + ":" + key
}
