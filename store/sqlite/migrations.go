package sqlite

import (
	"context"

	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the sqlite migration executor
	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Charter store (SQLite).
var Migrations = migrate.NewGroup("charter")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_charter_contract_offers",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS charter_contract_offers (
    id              TEXT PRIMARY KEY,
    owner_id        INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'open',
    title           TEXT NOT NULL,
    description     TEXT,
    cron_expr       TEXT NOT NULL,
    price           TEXT NOT NULL,
    max_subscribers INTEGER CHECK (max_subscribers IS NULL OR max_subscribers > 0),
    allow_list      TEXT,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_charter_offers_owner ON charter_contract_offers (owner_id);
CREATE INDEX IF NOT EXISTS idx_charter_offers_status ON charter_contract_offers (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS charter_contract_offers`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_charter_subscriptions",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS charter_subscriptions (
    id              TEXT PRIMARY KEY,
    contract_id     TEXT NOT NULL REFERENCES charter_contract_offers (id),
    wallet_id       INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    started_at      TIMESTAMP NOT NULL,
    lapsed_at       TIMESTAMP,
    lapse_reason    TEXT NOT NULL DEFAULT '',
    last_charged_at TIMESTAMP,
    last_period_at  TIMESTAMP,
    next_due_at     TIMESTAMP NOT NULL,
    failure_count   INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (contract_id, wallet_id)
);

CREATE INDEX IF NOT EXISTS idx_charter_subs_wallet ON charter_subscriptions (wallet_id);
CREATE INDEX IF NOT EXISTS idx_charter_subs_contract ON charter_subscriptions (contract_id, status);
CREATE INDEX IF NOT EXISTS idx_charter_subs_due ON charter_subscriptions (status, next_due_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS charter_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_charter_charges",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS charter_charges (
    id              TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL REFERENCES charter_subscriptions (id),
    contract_id     TEXT NOT NULL,
    from_wallet     INTEGER NOT NULL,
    to_wallet       INTEGER NOT NULL,
    amount          TEXT NOT NULL,
    period_start    TIMESTAMP NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    outcome         TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    reference       TEXT NOT NULL DEFAULT '',
    attempted_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_charter_charges_sub ON charter_charges (subscription_id, period_start);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS charter_charges`)
				return err
			},
		},
	)
}
