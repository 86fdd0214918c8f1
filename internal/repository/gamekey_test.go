package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gameshop-fulfillment/internal/client"
	"gameshop-fulfillment/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use in-memory database for testing
	db, err := client.InitSqliteClient(":memory:")
	require.NoError(t, err)
	require.NotNil(t, db)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func stockKeys(t *testing.T, repo KeyPoolRepository, productID string, n int) {
	t.Helper()
	secrets := make([]string, n)
	for i := range secrets {
		secrets[i] = fmt.Sprintf("%s-KEY-%03d", productID, i)
	}
	require.NoError(t, repo.Stock(context.Background(), productID, secrets))
}

func loadKey(t *testing.T, db *gorm.DB, keyID uint) *model.GameKey {
	t.Helper()
	var key model.GameKey
	require.NoError(t, db.First(&key, keyID).Error)
	return &key
}

// onCandidate runs fn after every query that loads a single key candidate,
// i.e. between the select and the conditional update of Reserve.
func onCandidate(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB, candidate *model.GameKey)) {
	t.Helper()
	err := db.Callback().Query().After("gorm:query").Register("test:on_candidate", func(tx *gorm.DB) {
		candidate, ok := tx.Statement.Dest.(*model.GameKey)
		if !ok || candidate.ID == 0 || candidate.Status != model.KeyAvailable {
			return
		}
		fn(tx, candidate)
	})
	require.NoError(t, err)
}

func TestStockAndCountAvailable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyPoolRepository(db)
	ctx := context.Background()

	stockKeys(t, repo, "A", 3)
	// restocking the same secrets is ignored
	stockKeys(t, repo, "A", 3)

	count, err := repo.CountAvailable(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = repo.CountAvailable(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestReserve_OldestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyPoolRepository(db)
	ctx := context.Background()
	stockKeys(t, repo, "A", 2)

	first, err := repo.Reserve(ctx, nil, "A", 1)
	require.NoError(t, err)
	assert.Equal(t, "A-KEY-000", first.Secret)
	assert.Equal(t, model.KeyReserved, first.Status)
	require.NotNil(t, first.OrderID)
	assert.Equal(t, uint(1), *first.OrderID)

	second, err := repo.Reserve(ctx, nil, "A", 1)
	require.NoError(t, err)
	assert.Equal(t, "A-KEY-001", second.Secret)

	_, err = repo.Reserve(ctx, nil, "A", 1)
	assert.ErrorIs(t, err, model.ErrKeyUnavailable)

	var unavailable *model.KeyUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "A", unavailable.ProductID)
}

func TestConfirmSale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyPoolRepository(db)
	ctx := context.Background()
	stockKeys(t, repo, "A", 2)

	key, err := repo.Reserve(ctx, nil, "A", 7)
	require.NoError(t, err)

	// a line of another order cannot claim the key
	err = repo.ConfirmSale(ctx, nil, key.ID, &model.OrderLine{ID: 1, OrderID: 8})
	assert.ErrorIs(t, err, model.ErrInvalidKeyState)

	line := &model.OrderLine{ID: 3, OrderID: 7}
	require.NoError(t, repo.ConfirmSale(ctx, nil, key.ID, line))

	stored := loadKey(t, db, key.ID)
	assert.Equal(t, model.KeySold, stored.Status)
	require.NotNil(t, stored.OrderLineID)
	assert.Equal(t, uint(3), *stored.OrderLineID)

	// sold keys cannot be sold again
	err = repo.ConfirmSale(ctx, nil, key.ID, line)
	assert.ErrorIs(t, err, model.ErrInvalidKeyState)

	// available keys cannot be sold without a reservation
	other, err := repo.Reserve(ctx, nil, "A", 7)
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, nil, other.ID))
	err = repo.ConfirmSale(ctx, nil, other.ID, line)
	assert.ErrorIs(t, err, model.ErrInvalidKeyState)
}

func TestRelease(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyPoolRepository(db)
	ctx := context.Background()
	stockKeys(t, repo, "A", 2)

	reserved, err := repo.Reserve(ctx, nil, "A", 1)
	require.NoError(t, err)
	sold, err := repo.Reserve(ctx, nil, "A", 1)
	require.NoError(t, err)
	require.NoError(t, repo.ConfirmSale(ctx, nil, sold.ID, &model.OrderLine{ID: 1, OrderID: 1}))

	require.NoError(t, repo.Release(ctx, nil, reserved.ID))
	require.NoError(t, repo.Release(ctx, nil, sold.ID))

	released := loadKey(t, db, reserved.ID)
	assert.Equal(t, model.KeyAvailable, released.Status)
	assert.Nil(t, released.OrderID)

	stillSold := loadKey(t, db, sold.ID)
	assert.Equal(t, model.KeySold, stillSold.Status)

	// the released key is handed out again
	again, err := repo.Reserve(ctx, nil, "A", 2)
	require.NoError(t, err)
	assert.Equal(t, reserved.ID, again.ID)
}

func TestReserve_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyPoolRepository(db)
	ctx := context.Background()

	const available = 5
	const callers = 20
	stockKeys(t, repo, "A", available)

	var (
		mu          sync.Mutex
		reservedIDs = make(map[uint]int)
		unavailable int
	)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		orderID := uint(i + 1)
		g.Go(func() error {
			key, err := repo.Reserve(ctx, nil, "A", orderID)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, model.ErrKeyUnavailable) {
				unavailable++
				return nil
			}
			if err != nil {
				return err
			}
			reservedIDs[key.ID]++
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, reservedIDs, available)
	assert.Equal(t, callers-available, unavailable)
	for id, n := range reservedIDs {
		assert.Equal(t, 1, n, "key %d reserved more than once", id)
	}

	count, err := repo.CountAvailable(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestListSoldByCustomer(t *testing.T) {
	db := setupTestDB(t)
	keys := NewKeyPoolRepository(db)
	orders := NewOrderRepository(db)
	ctx := context.Background()
	stockKeys(t, keys, "A", 3)

	order := newOrder("ord-lib")
	require.NoError(t, orders.Create(ctx, nil, order))
	line := &order.Lines[0]

	for i := 0; i < 2; i++ {
		key, err := keys.Reserve(ctx, nil, "A", order.ID)
		require.NoError(t, err)
		require.NoError(t, keys.ConfirmSale(ctx, nil, key.ID, line))
	}
	// reserved but unsold keys are not part of the library
	_, err := keys.Reserve(ctx, nil, "A", order.ID)
	require.NoError(t, err)

	owned, err := keys.ListSoldByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	for _, k := range owned {
		assert.Equal(t, "ord-lib", k.OrderCode)
		assert.Equal(t, "Game A", k.ProductName)
		assert.Equal(t, line.ID, k.LineID)
		assert.NotEmpty(t, k.Secret)
	}

	owned, err = keys.ListSoldByCustomer(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestReserve_LostRaceTakesNextKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyPoolRepository(db)
	ctx := context.Background()
	stockKeys(t, repo, "A", 2)

	stolen := uint(0)
	onCandidate(t, db, func(tx *gorm.DB, candidate *model.GameKey) {
		if stolen != 0 {
			return
		}
		stolen = candidate.ID
		// a competing order grabs the candidate before our update runs
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE game_keys SET status = ?, order_id = ? WHERE id = ?", model.KeyReserved, 99, candidate.ID).Error)
	})

	key, err := repo.Reserve(ctx, nil, "A", 1)
	require.NoError(t, err)
	require.NotZero(t, stolen)
	assert.NotEqual(t, stolen, key.ID)

	winner := loadKey(t, db, stolen)
	require.NotNil(t, winner.OrderID)
	assert.Equal(t, uint(99), *winner.OrderID)

	_, err = repo.Reserve(ctx, nil, "A", 1)
	assert.ErrorIs(t, err, model.ErrKeyUnavailable)
}

func TestReserve_StaleCandidateGivesUp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyPoolRepository(db)
	ctx := context.Background()
	stockKeys(t, repo, "A", 2)

	taken, err := repo.Reserve(ctx, nil, "A", 99)
	require.NoError(t, err)

	// every read keeps returning the key that is already reserved, the way a
	// stale snapshot would
	selects := 0
	onCandidate(t, db, func(tx *gorm.DB, candidate *model.GameKey) {
		selects++
		*candidate = *taken
		candidate.Status = model.KeyAvailable
	})

	_, err = repo.Reserve(ctx, nil, "A", 1)
	require.ErrorIs(t, err, model.ErrReserveContention)
	assert.Equal(t, maxReserveAttempts, selects)

	count, err := repo.CountAvailable(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
