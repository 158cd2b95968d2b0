package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/storage/memory"
)

func newProduct(id, lot string, price domain.Money, stock int) domain.Product {
	now := time.Now().UTC()
	return domain.Product{
		ID:        id,
		LotCode:   lot,
		Name:      "Product " + id,
		Price:     price,
		Stock:     stock,
		Active:    true,
		EntryDate: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_StockContract(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	products := store.Products()

	if err := products.Create(ctx, newProduct("p-1", "LOT-0001", 1000, 5)); err != nil {
		t.Fatalf("create product: %v", err)
	}

	ok, err := products.CheckAvailable(ctx, "p-1", 5)
	if err != nil || !ok {
		t.Fatalf("expected 5 available, ok=%v err=%v", ok, err)
	}
	if ok, _ := products.CheckAvailable(ctx, "p-1", 6); ok {
		t.Fatal("expected 6 to be unavailable")
	}
	if ok, err := products.CheckAvailable(ctx, "missing", 1); err != nil || ok {
		t.Fatalf("missing product must be unavailable without error, ok=%v err=%v", ok, err)
	}

	p, err := products.DecreaseStock(ctx, "p-1", 3)
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if p.Stock != 2 {
		t.Fatalf("expected stock 2, got %d", p.Stock)
	}

	_, err = products.DecreaseStock(ctx, "p-1", 3)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got, _ := products.Get(ctx, "p-1"); got.Stock != 2 {
		t.Fatalf("stock must stay 2 after rejected decrease, got %d", got.Stock)
	}

	p, err = products.IncreaseStock(ctx, "p-1", 1000)
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if p.Stock != 1002 {
		t.Fatalf("expected stock 1002, got %d", p.Stock)
	}

	if _, err := products.DecreaseStock(ctx, "missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestStore_InactiveProductIsUnavailable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	p := newProduct("p-1", "LOT-0001", 1000, 5)
	p.Active = false
	if err := store.Products().Create(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if ok, _ := store.Products().CheckAvailable(ctx, "p-1", 1); ok {
		t.Fatal("inactive product must not be available")
	}
}

func TestStore_LotCodeUnique(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	if err := store.Products().Create(ctx, newProduct("p-1", "LOT-0001", 100, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.Products().Create(ctx, newProduct("p-2", "LOT-0001", 100, 1))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	exists, err := store.Products().LotCodeExists(ctx, "LOT-0001", "p-1")
	if err != nil || exists {
		t.Fatalf("lot code of the product itself must be ignored, exists=%v err=%v", exists, err)
	}
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.Products().Create(ctx, newProduct("p-1", "LOT-0001", 1000, 5)); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if _, err := uow.Products().DecreaseStock(ctx, "p-1", 4); err != nil {
			return err
		}
		order := domain.Order{
			ID:      "o-1",
			OwnerID: "u-1",
			Status:  domain.OrderStatusPending,
			Total:   4000,
			Lines: []domain.OrderLine{{
				ID: "l-1", OrderID: "o-1", ProductID: "p-1", Quantity: 4, UnitPrice: 1000, Subtotal: 4000,
			}},
		}
		if err := uow.Orders().Create(ctx, order); err != nil {
			return err
		}
		if _, err := uow.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateID: "o-1", EventType: "order.created"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := store.Products().Get(ctx, "p-1")
	if p.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", p.Stock)
	}
	if _, err := store.Orders().Get(ctx, "o-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected order to be rolled back, got %v", err)
	}
	stats, _ := store.Outbox().Stats(ctx)
	if stats.PendingCount != 0 {
		t.Fatalf("expected no outbox messages, got %d", stats.PendingCount)
	}
}

func TestStore_WithinTxRollsBackOnCanceledContext(t *testing.T) {
	store := memory.NewStore()
	if err := store.Products().Create(context.Background(), newProduct("p-1", "LOT-0001", 1000, 5)); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if _, err := uow.Products().DecreaseStock(ctx, "p-1", 2); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	p, _ := store.Products().Get(context.Background(), "p-1")
	if p.Stock != 5 {
		t.Fatalf("expected stock 5 after canceled tx, got %d", p.Stock)
	}
}

func TestStore_WithinTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.Products().Create(ctx, newProduct("p-1", "LOT-0001", 1000, 5)); err != nil {
		t.Fatalf("create: %v", err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
			_, _ = uow.Products().DecreaseStock(ctx, "p-1", 5)
			panic("unexpected")
		})
	}()

	p, _ := store.Products().Get(ctx, "p-1")
	if p.Stock != 5 {
		t.Fatalf("expected stock 5 after panic, got %d", p.Stock)
	}
}

func TestStore_ConcurrentDecrementsNeverOversell(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.Products().Create(ctx, newProduct("p-1", "LOT-0001", 1000, 10)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
				p, err := uow.Products().GetForUpdate(ctx, "p-1")
				if err != nil {
					return err
				}
				if p.Stock < 1 {
					return domain.InsufficientStock(p.Name, p.Stock)
				}
				_, err = uow.Products().DecreaseStock(ctx, "p-1", 1)
				return err
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p, _ := store.Products().Get(ctx, "p-1")
	if success != 10 || p.Stock != 0 {
		t.Fatalf("expected 10 successes and stock 0, got %d and %d", success, p.Stock)
	}
}

func TestStore_ReplaceOrderLines(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for _, p := range []domain.Product{
		newProduct("p-1", "LOT-0001", 1000, 10),
		newProduct("p-2", "LOT-0002", 250, 10),
	} {
		if err := store.Products().Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	order := domain.Order{
		ID: "o-1", OwnerID: "u-1", Status: domain.OrderStatusPending, Total: 1000,
		Lines: []domain.OrderLine{{ID: "l-1", OrderID: "o-1", ProductID: "p-1", Quantity: 1, UnitPrice: 1000, Subtotal: 1000}},
	}
	if err := store.Orders().Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if err := uow.Orders().DeleteLines(ctx, "o-1"); err != nil {
			return err
		}
		if err := uow.Orders().AddLines(ctx, "o-1", []domain.OrderLine{
			{ID: "l-2", ProductID: "p-2", Quantity: 2, UnitPrice: 250, Subtotal: 500},
		}); err != nil {
			return err
		}
		order.Total = 500
		return uow.Orders().UpdateHeader(ctx, order)
	})
	if err != nil {
		t.Fatalf("replace lines: %v", err)
	}

	got, err := store.Orders().Get(ctx, "o-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].ProductID != "p-2" || got.Lines[0].OrderID != "o-1" {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if got.Total != 500 {
		t.Fatalf("expected total 500, got %d", got.Total)
	}

	err = store.Orders().AddLines(ctx, "o-1", []domain.OrderLine{{ID: "l-3", ProductID: "ghost", Quantity: 1}})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected missing product reference to fail, got %v", err)
	}
}

func TestStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	base := time.Now().UTC()
	for i, tc := range []struct {
		id, name string
		price    domain.Money
		stock    int
		active   bool
	}{
		{"p-1", "Red apple", 100, 5, true},
		{"p-2", "Green apple", 300, 0, true},
		{"p-3", "Banana", 200, 7, true},
		{"p-4", "Old apple", 50, 9, false},
	} {
		p := newProduct(tc.id, domain.FormatLotCode(i+1), tc.price, tc.stock)
		p.Name = tc.name
		p.Active = tc.active
		p.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Products().Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	inStock := true
	minPrice := domain.Money(100)
	items, total, err := store.Products().List(ctx, domain.ProductFilter{
		Search:    "APPLE",
		InStock:   &inStock,
		MinPrice:  &minPrice,
		SortBy:    domain.ProductSortPrice,
		Ascending: true,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != "p-1" {
		t.Fatalf("unexpected result total=%d items=%+v", total, items)
	}

	items, total, _ = store.Products().List(ctx, domain.ProductFilter{Page: domain.Page{Number: 2, Limit: 2}})
	if total != 3 || len(items) != 1 || items[0].ID != "p-1" {
		t.Fatalf("expected last page with oldest product, total=%d items=%+v", total, items)
	}

	for i, owner := range []string{"u-1", "u-2", "u-1"} {
		o := domain.Order{
			ID: "o-" + string(rune('a'+i)), OwnerID: owner, Status: domain.OrderStatusPending,
			Total: domain.Money(100 * (i + 1)), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Orders().Create(ctx, o); err != nil {
			t.Fatalf("create order: %v", err)
		}
	}
	orders, total, _ := store.Orders().List(ctx, domain.OrderFilter{OwnerID: "u-1", SortBy: domain.OrderSortTotal})
	if total != 2 || orders[0].ID != "o-c" {
		t.Fatalf("unexpected orders total=%d first=%+v", total, orders)
	}
}
