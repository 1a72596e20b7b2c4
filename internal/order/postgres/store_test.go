package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxkiosk/voxkiosk/internal/order"
	"github.com/voxkiosk/voxkiosk/internal/order/postgres"
)

const testEmbeddingDim = 3

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXKIOSK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXKIOSK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXKIOSK_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema and
// closes it when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS orders, menu_vectors`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestSaveAndGetOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := order.NewOrder("session-1")
	o.Items = []order.LineItem{
		{MenuItemID: "bigmac-set", Name: "빅맥 세트", UnitPrice: 7500, Quantity: 1},
		{MenuItemID: "cola-m", Name: "콜라", UnitPrice: 2000, Quantity: 2, Modification: "얼음 빼고"},
	}
	if err := store.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got == nil {
		t.Fatal("GetOrder returned nil for saved order")
	}
	if got.SessionID != "session-1" || len(got.Items) != 2 {
		t.Fatalf("round trip: got %+v", got)
	}
	if got.Items[1].Modification != "얼음 빼고" {
		t.Fatalf("Modification: got %q", got.Items[1].Modification)
	}
	if got.Total() != 11500 {
		t.Fatalf("Total: got %d", got.Total())
	}
}

func TestGetOrderAbsent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetOrder(context.Background(), "no-such-order")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent order, got %+v", got)
	}
}

func TestOpenOrderForSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	open := order.NewOrder("s")
	if err := store.SaveOrder(ctx, open); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	paid := order.NewOrder("s")
	paid.Status = order.StatusPaid
	if err := store.SaveOrder(ctx, paid); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := store.OpenOrderForSession(ctx, "s")
	if err != nil {
		t.Fatalf("OpenOrderForSession: %v", err)
	}
	if got == nil || got.ID != open.ID {
		t.Fatalf("open order: got %+v, want %s", got, open.ID)
	}

	got, err = store.OpenOrderForSession(ctx, "other")
	if err != nil || got != nil {
		t.Fatalf("expected no open order for other session, got %+v, %v", got, err)
	}
}

func TestSaveOrderReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := order.NewOrder("s")
	o.Items = []order.LineItem{{MenuItemID: "cola-m", Name: "콜라", UnitPrice: 2000, Quantity: 1}}
	if err := store.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	o.Status = order.StatusPaid
	o.TransactionID = "tx-1"
	o.Items[0].Quantity = 3
	if err := store.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}

	got, err := store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != order.StatusPaid || got.TransactionID != "tx-1" || got.Items[0].Quantity != 3 {
		t.Fatalf("updated order: got %+v", got)
	}
}

func TestMenuIndexSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	items := map[string][]float32{
		"bigmac-set": {1, 0, 0},
		"fries-m":    {0, 1, 0},
		"cola-m":     {0, 0, 1},
	}
	for id, vec := range items {
		if err := store.IndexMenuItem(ctx, id, vec); err != nil {
			t.Fatalf("IndexMenuItem(%s): %v", id, err)
		}
	}

	matches, err := store.SearchMenu(ctx, []float32{0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("SearchMenu: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: got %d, want 2", len(matches))
	}
	if matches[0].MenuItemID != "bigmac-set" {
		t.Fatalf("closest match: got %s", matches[0].MenuItemID)
	}
	if matches[0].Distance >= matches[1].Distance {
		t.Fatalf("matches not ordered by distance: %v", matches)
	}

	// Re-indexing replaces the vector.
	if err := store.IndexMenuItem(ctx, "bigmac-set", []float32{0, 1, 0}); err != nil {
		t.Fatalf("IndexMenuItem (update): %v", err)
	}
	matches, err = store.SearchMenu(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SearchMenu: %v", err)
	}
	if matches[0].MenuItemID == "bigmac-set" {
		t.Fatal("stale vector still closest after re-index")
	}
}
