package postgres

import (
	"context"

	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the postgres migration executor
	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Charter store.
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
    owner_id        BIGINT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'open',
    title           TEXT NOT NULL,
    description     TEXT,
    cron_expr       TEXT NOT NULL,
    price           NUMERIC(38, 18) NOT NULL CHECK (price > 0),
    max_subscribers INT CHECK (max_subscribers IS NULL OR max_subscribers > 0),
    allow_list      JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    wallet_id       BIGINT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    started_at      TIMESTAMPTZ NOT NULL,
    lapsed_at       TIMESTAMPTZ,
    lapse_reason    TEXT NOT NULL DEFAULT '',
    last_charged_at TIMESTAMPTZ,
    last_period_at  TIMESTAMPTZ,
    next_due_at     TIMESTAMPTZ NOT NULL,
    failure_count   INT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (contract_id, wallet_id),
    CHECK ((status = 'canceled') = (lapsed_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_charter_subs_wallet ON charter_subscriptions (wallet_id);
CREATE INDEX IF NOT EXISTS idx_charter_subs_contract ON charter_subscriptions (contract_id, status);
CREATE INDEX IF NOT EXISTS idx_charter_subs_due ON charter_subscriptions (next_due_at)
    WHERE status IN ('pending', 'active');
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
    from_wallet     BIGINT NOT NULL,
    to_wallet       BIGINT NOT NULL,
    amount          NUMERIC(38, 18) NOT NULL,
    period_start    TIMESTAMPTZ NOT NULL,
    idempotency_key TEXT NOT NULL,
    outcome         TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    reference       TEXT NOT NULL DEFAULT '',
    attempted_at    TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_charter_charges_key ON charter_charges (idempotency_key);
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
