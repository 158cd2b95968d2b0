package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

// Store: in-memory хранилище для локальной разработки и тестов.
//
// Транзакции сериализуются через txMu: пока открыта транзакция, остальные
// пишущие операции ждут. Откат выполняется по undo-журналу.
// Чтения берут только mu и могут увидеть незафиксированные изменения.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	products map[string]domain.Product
	orders   map[string]domain.Order
	users    map[string]domain.User
	outbox   map[string]*outboxRecord
	seq      int64

	idempotency *idempotencyRepository
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		products:    make(map[string]domain.Product),
		orders:      make(map[string]domain.Order),
		users:       make(map[string]domain.User),
		outbox:      make(map[string]*outboxRecord),
		idempotency: newIdempotencyRepository(),
	}
}

// memTx: журнал отмены одной транзакции.
type memTx struct {
	undo []func()
}

// scope привязывает репозиторий к транзакции; tx == nil означает autocommit.
type scope struct {
	s  *Store
	tx *memTx
}

// write выполняет мутацию под блокировкой данных и регистрирует undo в транзакции.
func (sc scope) write(fn func() (undo func(), err error)) error {
	if sc.tx == nil {
		sc.s.txMu.Lock()
		defer sc.s.txMu.Unlock()
	}

	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()

	undo, err := fn()
	if err != nil {
		return err
	}
	if sc.tx != nil && undo != nil {
		sc.tx.undo = append(sc.tx.undo, undo)
	}
	return nil
}

func (sc scope) read(fn func()) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()
	fn()
}

// WithinTx выполняет fn в транзакции. Ошибка, паника или отмена ctx откатывают изменения.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			panic(p)
		}
		if err != nil {
			s.rollback(tx)
		}
	}()

	if err = fn(ctx, unitOfWork{scope{s: s, tx: tx}}); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) rollback(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

type unitOfWork struct {
	sc scope
}

func (u unitOfWork) Products() domain.ProductRepository { return productRepository{u.sc} }
func (u unitOfWork) Orders() domain.OrderRepository     { return orderRepository{u.sc} }
func (u unitOfWork) Users() domain.UserRepository       { return userRepository{u.sc} }
func (u unitOfWork) Outbox() domain.OutboxRepository    { return outboxRepository{u.sc} }

// Products возвращает autocommit-репозиторий каталога.
func (s *Store) Products() domain.ProductRepository { return productRepository{scope{s: s}} }

// Orders возвращает autocommit-репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository { return orderRepository{scope{s: s}} }

// Users возвращает autocommit-репозиторий пользователей.
func (s *Store) Users() domain.UserRepository { return userRepository{scope{s: s}} }

// Outbox возвращает autocommit-репозиторий outbox.
func (s *Store) Outbox() domain.OutboxRepository { return outboxRepository{scope{s: s}} }

// Idempotency возвращает репозиторий ключей идемпотентности (вне транзакций).
func (s *Store) Idempotency() domain.IdempotencyRepository { return s.idempotency }

// Ping всегда успешен для in-memory хранилища.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

var _ domain.Store = (*Store)(nil)
