package domain

import (
	"context"
	"time"
)

// ProductRepository: хранилище каталога и контракт на изменение остатков.
// Все мутации выполняются в рамках транзакции, к которой привязан репозиторий.
type ProductRepository interface {
	Create(ctx context.Context, p Product) error
	Get(ctx context.Context, id string) (Product, error)
	// GetForUpdate читает товар и блокирует строку до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	Update(ctx context.Context, p Product) error
	Count(ctx context.Context) (int, error)
	// LotCodeExists проверяет код партии, игнорируя товар excludeID.
	LotCodeExists(ctx context.Context, lotCode, excludeID string) (bool, error)
	// CheckAvailable: товар активен и stock >= qty.
	CheckAvailable(ctx context.Context, id string, qty int) (bool, error)
	// DecreaseStock уменьшает остаток или возвращает ErrInsufficientStock.
	DecreaseStock(ctx context.Context, id string, qty int) (Product, error)
	// IncreaseStock увеличивает остаток без верхней границы.
	IncreaseStock(ctx context.Context, id string, qty int) (Product, error)
}

// OrderRepository: заголовки заказов и их позиции.
type OrderRepository interface {
	// Create сохраняет заголовок и все позиции.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ вместе с позициями.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с позициями и блокирует заголовок.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filter OrderFilter) ([]Order, int, error)
	// UpdateHeader сохраняет статус, сумму и updated_at; позиции не трогает.
	UpdateHeader(ctx context.Context, order Order) error
	DeleteLines(ctx context.Context, orderID string) error
	AddLines(ctx context.Context, orderID string, lines []OrderLine) error
}

// UserRepository: учётные записи.
type UserRepository interface {
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
//
// CreateProcessing занимает ключ. Занятый ключ возвращается вместе с
// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch; ключ с истёкшим
// TTL занимается заново, как новый.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ, пока он в processing. Завершённый ключ не трогается.
	Release(ctx context.Context, key string) error
	// DeleteExpired удаляет до limit записей с ttl <= before, самые старые первыми.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
	// DeleteStaleProcessing освобождает ключи, застрявшие в processing с updated_at <= before.
	DeleteStaleProcessing(ctx context.Context, before time.Time, limit int) (int, error)
}

// UnitOfWork: набор репозиториев, привязанных к одной транзакции.
type UnitOfWork interface {
	Products() ProductRepository
	Orders() OrderRepository
	Users() UserRepository
	Outbox() OutboxRepository
}

// Transactor открывает транзакцию. fn получает репозитории этой транзакции;
// nil-результат фиксирует изменения, любая ошибка или паника откатывает их целиком.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Store: полный набор хранилищ: autocommit-репозитории плюс транзакции.
type Store interface {
	UnitOfWork
	Transactor
	Idempotency() IdempotencyRepository
	Ping(ctx context.Context) error
	Close() error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
