package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

func seedUserAndProduct(t *testing.T, store *Store, stock int) (domain.User, domain.Product) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	user := domain.User{
		ID: "user-1", Name: "Client", Email: "Client@Example.com", PasswordHash: "x",
		Role: domain.RoleClient, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Users().Create(ctx, user))

	product := domain.Product{
		ID: "product-1", LotCode: domain.FormatLotCode(1), Name: "Widget", Price: domain.MustMoney("10.50"),
		Stock: stock, Active: true, EntryDate: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Products().Create(ctx, product))

	return user, product
}

func mulQty(t *testing.T, price domain.Money, qty int) domain.Money {
	t.Helper()
	m, err := price.MulQty(qty)
	require.NoError(t, err)
	return m
}

func TestStore_PostgresProductStockContract(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	_, product := seedUserAndProduct(t, store, 5)
	ctx := context.Background()
	repo := store.Products()

	ok, err := repo.CheckAvailable(ctx, product.ID, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.CheckAvailable(ctx, product.ID, 6)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.CheckAvailable(ctx, "00000000-0000-0000-0000-000000000000", 1)
	require.NoError(t, err)
	require.False(t, ok)

	updated, err := repo.DecreaseStock(ctx, product.ID, 3)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Stock)

	_, err = repo.DecreaseStock(ctx, product.ID, 3)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.ErrorIs(t, err, domain.ErrBadRequest)
	require.Contains(t, err.Error(), "Available: 2")

	updated, err = repo.IncreaseStock(ctx, product.ID, 4)
	require.NoError(t, err)
	require.Equal(t, 6, updated.Stock)

	_, err = repo.DecreaseStock(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	user, err := store.Users().GetByEmail(ctx, "client@example.com")
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
}

func TestStore_PostgresLotCodeUnique(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	_, product := seedUserAndProduct(t, store, 1)
	ctx := context.Background()

	dup := product
	dup.ID = "product-2"
	require.ErrorIs(t, store.Products().Create(ctx, dup), domain.ErrLotCodeTaken)

	exists, err := store.Products().LotCodeExists(ctx, product.LotCode, product.ID)
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = store.Products().LotCodeExists(ctx, product.LotCode, "")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestStore_PostgresTxRollbackRestoresStockAndLines(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	user, product := seedUserAndProduct(t, store, 10)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if _, err := uow.Products().DecreaseStock(ctx, product.ID, 4); err != nil {
			return err
		}
		order := domain.Order{
			ID: "order-1", OwnerID: user.ID, Status: domain.OrderStatusPending,
			Total: mulQty(t, product.Price, 4), CreatedAt: now, UpdatedAt: now,
			Lines: []domain.OrderLine{{
				ID: "line-1", OrderID: "order-1", ProductID: product.ID, Quantity: 4,
				UnitPrice: product.Price, Subtotal: mulQty(t, product.Price, 4), CreatedAt: now,
			}},
		}
		if err := uow.Orders().Create(ctx, order); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Products().Get(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.Stock)

	_, err = store.Orders().Get(ctx, "order-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestStore_PostgresOrderLinesReplaceAndRestrict(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	user, product := seedUserAndProduct(t, store, 10)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	line := func(id string, qty int) domain.OrderLine {
		return domain.OrderLine{
			ID: id, OrderID: "order-1", ProductID: product.ID, Quantity: qty,
			UnitPrice: product.Price, Subtotal: mulQty(t, product.Price, qty), CreatedAt: now,
		}
	}

	order := domain.Order{
		ID: "order-1", OwnerID: user.ID, Status: domain.OrderStatusPending,
		Total: mulQty(t, product.Price, 3), CreatedAt: now, UpdatedAt: now,
		Lines: []domain.OrderLine{line("line-1", 1), line("line-2", 2)},
	}
	require.NoError(t, store.Orders().Create(ctx, order))

	err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		locked, err := uow.Orders().GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := uow.Orders().DeleteLines(ctx, locked.ID); err != nil {
			return err
		}
		if err := uow.Orders().AddLines(ctx, locked.ID, []domain.OrderLine{line("line-3", 5)}); err != nil {
			return err
		}
		locked.Total = mulQty(t, product.Price, 5)
		locked.UpdatedAt = now.Add(time.Second)
		return uow.Orders().UpdateHeader(ctx, locked)
	})
	require.NoError(t, err)

	got, err := store.Orders().Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	require.Equal(t, "line-3", got.Lines[0].ID)
	require.Equal(t, mulQty(t, product.Price, 5), got.Total)
	require.Empty(t, got.ValidateInvariants())

	_, err = store.DB().ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	require.Error(t, err)
	require.True(t, isForeignKeyViolation(err))

	err = store.Orders().AddLines(ctx, order.ID, []domain.OrderLine{{
		ID: "line-x", OrderID: order.ID, ProductID: "missing", Quantity: 1,
		UnitPrice: product.Price, Subtotal: product.Price, CreatedAt: now,
	}})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	orders, total, err := store.Orders().List(ctx, domain.OrderFilter{OwnerID: user.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, orders[0].Lines, 1)
}

func TestStore_PostgresConcurrentDecreaseNeverOversells(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	_, product := seedUserAndProduct(t, store, 10)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(context.Background(), func(ctx context.Context, uow domain.UnitOfWork) error {
				p, err := uow.Products().GetForUpdate(ctx, product.ID)
				if err != nil {
					return err
				}
				if !p.Available(1) {
					return domain.InsufficientStock(p.Name, p.Stock)
				}
				_, err = uow.Products().DecreaseStock(ctx, product.ID, 1)
				return err
			})
			if err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(10), succeeded.Load())
	got, err := store.Products().Get(context.Background(), product.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Stock)
}
