package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/charter/store"
	"github.com/xraph/charter/store/mongo"
	"github.com/xraph/charter/store/storetest"
)

// openStore connects to CHARTER_TEST_MONGO_URI, empties the charter
// collections and recreates their indexes, or skips the test.
func openStore(t *testing.T) *mongo.Store {
	t.Helper()
	uri := os.Getenv("CHARTER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHARTER_TEST_MONGO_URI not set")
	}
	ctx := context.Background()

	drv := mongodriver.New()
	if err := drv.Open(ctx, uri); err != nil {
		t.Fatalf("open mongo: %v", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		t.Fatalf("grove open: %v", err)
	}
	s := mongo.New(db)
	t.Cleanup(func() { _ = s.Close() })

	for _, col := range []string{"charter_contract_offers", "charter_subscriptions", "charter_charges"} {
		if err := drv.Collection(col).Drop(ctx); err != nil {
			t.Fatalf("drop %s: %v", col, err)
		}
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t) })
}
