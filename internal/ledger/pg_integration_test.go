package ledger

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/storefront/pricing-service/internal/money"
)

func setupPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pricing"),
		postgres.WithUsername("pricing"),
		postgres.WithPassword("pricing"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	_, thisFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
	m, err := migrate.New("file://"+migrationsDir, connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func seedPromotion(ctx context.Context, t *testing.T, pool *pgxpool.Pool, id string, perCustomer, global *int) {
	t.Helper()
	_, err := pool.Exec(ctx, `
		INSERT INTO promotions (
			id, name, promo_type, discount_value, priority, stackable,
			min_quantity, currency, starts_at, active,
			usage_limit_global, usage_limit_per_customer,
			scope, requires_code
		) VALUES ($1, 'test promo', 'percentage', 10, 0, false,
		          0, 'EUR', NOW() - INTERVAL '1 day', true,
		          $2, $3, 'all', false)
	`, id, global, perCustomer)
	require.NoError(t, err)
}

func TestPGLedgerReserveCommit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupPostgres(ctx, t)
	ledger := NewPGLedger(pool, time.Minute)

	promoID := uuid.NewString()
	seedPromotion(ctx, t, pool, promoID, intPtr(2), nil)
	limits := Limits{PerCustomer: intPtr(2)}

	res, ok, err := ledger.TryReserve(ctx, promoID, "cust-1", limits)
	require.NoError(t, err)
	require.True(t, ok)

	perCustomer, global, err := ledger.Remaining(ctx, promoID, "cust-1", limits)
	require.NoError(t, err)
	assert.Equal(t, 1, perCustomer)
	assert.Equal(t, Unlimited, global)

	require.NoError(t, ledger.Commit(ctx, res, uuid.NewString(), money.MustNew(750, "EUR")))

	// Committed usage still counts against the limit.
	perCustomer, _, err = ledger.Remaining(ctx, promoID, "cust-1", limits)
	require.NoError(t, err)
	assert.Equal(t, 1, perCustomer)

	// Double commit reports the reservation gone.
	assert.ErrorIs(t, ledger.Commit(ctx, res, uuid.NewString(), money.MustNew(750, "EUR")), ErrReservationNotFound)
}

func TestPGLedgerReleaseAndExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupPostgres(ctx, t)

	promoID := uuid.NewString()
	seedPromotion(ctx, t, pool, promoID, intPtr(1), nil)
	limits := Limits{PerCustomer: intPtr(1)}

	ledger := NewPGLedger(pool, time.Minute)

	res, ok, err := ledger.TryReserve(ctx, promoID, "cust-1", limits)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = ledger.TryReserve(ctx, promoID, "cust-1", limits)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ledger.Release(ctx, res))

	_, ok, err = ledger.TryReserve(ctx, promoID, "cust-1", limits)
	require.NoError(t, err)
	assert.True(t, ok)

	// Short-TTL ledger: reservations expire and the sweeper removes them.
	shortLedger := NewPGLedger(pool, 50*time.Millisecond)
	promoID2 := uuid.NewString()
	seedPromotion(ctx, t, pool, promoID2, intPtr(1), nil)

	_, ok, err = shortLedger.TryReserve(ctx, promoID2, "cust-1", limits)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	expired, err := shortLedger.ExpireStale(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, expired, 1)

	_, ok, err = shortLedger.TryReserve(ctx, promoID2, "cust-1", limits)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestPGLedgerConcurrentLastSlot verifies the storage-level atomicity
// contract: many concurrent reservations for a single remaining slot
// produce exactly one winner.
func TestPGLedgerConcurrentLastSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupPostgres(ctx, t)
	ledger := NewPGLedger(pool, time.Minute)

	promoID := uuid.NewString()
	seedPromotion(ctx, t, pool, promoID, intPtr(1), nil)
	limits := Limits{PerCustomer: intPtr(1)}

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, ok, err := ledger.TryReserve(ctx, promoID, "cust-1", limits)
			if err != nil {
				t.Errorf("attempt %d: %v", n, err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winning reservation, got %d", winners)
	}
}
