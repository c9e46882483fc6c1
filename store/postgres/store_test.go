package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/xraph/charter/store"
	"github.com/xraph/charter/store/postgres"
	"github.com/xraph/charter/store/storetest"
)

// openStore connects to CHARTER_TEST_POSTGRES_DSN, migrates, and empties the
// charter tables, or skips the test.
func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("CHARTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHARTER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	drv := pgdriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		t.Fatalf("grove open: %v", err)
	}
	s := postgres.New(db)
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = drv.Exec(ctx, `TRUNCATE charter_charges, charter_subscriptions, charter_contract_offers`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t) })
}
