package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/charter"
	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	charterstore "github.com/xraph/charter/store"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/wallet"
)

// compile-time interface check
var _ charterstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("charter/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("charter/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Contract Store ====================

func (s *Store) CreateContract(ctx context.Context, o *contract.Offer) error {
	m, err := toOfferModel(o)
	if err != nil {
		return err
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("charter/sqlite: create contract: %w", err)
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, contractID id.ContractID) (*contract.Offer, error) {
	m := new(offerModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", contractID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrContractNotFound
		}
		return nil, fmt.Errorf("charter/sqlite: get contract: %w", err)
	}
	return fromOfferModel(m)
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Offer, error) {
	var models []offerModel
	q := s.sdb.NewSelect(&models)

	if clause, args := contractFilter(opts); clause != "" {
		q = q.Where(clause, args...)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/sqlite: list contracts: %w", err)
	}

	result := make([]*contract.Offer, len(models))
	for i := range models {
		o, err := fromOfferModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

func (s *Store) CountContracts(ctx context.Context, opts contract.ListOpts) (int, error) {
	clause, args := contractFilter(opts)
	return s.count(ctx, "charter_contract_offers", clause, args)
}

func (s *Store) UpdateContractStatus(ctx context.Context, contractID id.ContractID, status contract.Status, updatedAt time.Time) error {
	res, err := s.sdb.NewUpdate((*offerModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", updatedAt.UTC()).
		Where("id = ?", contractID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("charter/sqlite: update contract status: %w", err)
	}
	return requireRow(res, charter.ErrContractNotFound)
}

func contractFilter(opts contract.ListOpts) (string, []any) {
	var f filter
	if opts.OwnerID != 0 {
		f.add("owner_id = ?", int64(opts.OwnerID))
	}
	if opts.Status != "" {
		f.add("status = ?", string(opts.Status))
	}
	return f.build()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.sdb.NewInsert(toSubscriptionModel(sub)).
		OnConflict("(contract_id, wallet_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("charter/sqlite: create subscription: %w", err)
	}
	if err := requireRow(res, charter.ErrAlreadySubscribed); err != nil {
		return fmt.Errorf("%w: wallet %s on offer %s", err, sub.WalletID, sub.ContractID)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("charter/sqlite: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByPair(ctx context.Context, contractID id.ContractID, walletID wallet.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("contract_id = ?", contractID.String()).
		Where("wallet_id = ?", int64(walletID)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("charter/sqlite: get subscription by pair: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)

	if clause, args := subscriptionFilter(opts); clause != "" {
		q = q.Where(clause, args...)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/sqlite: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) CountSubscriptions(ctx context.Context, opts subscription.ListOpts) (int, error) {
	clause, args := subscriptionFilter(opts)
	return s.count(ctx, "charter_subscriptions", clause, args)
}

func (s *Store) CountLiveSubscriptions(ctx context.Context, contractID id.ContractID) (int, error) {
	return s.CountSubscriptions(ctx, subscription.ListOpts{ContractID: contractID, LiveOnly: true})
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.sdb.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("charter/sqlite: update subscription: %w", err)
	}
	return requireRow(res, charter.ErrSubscriptionNotFound)
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where("status IN (?, ?)", string(subscription.StatusPending), string(subscription.StatusActive)).
		Where("next_due_at <= ?", now.UTC()).
		OrderExpr("next_due_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/sqlite: list due subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) NextDueAt(ctx context.Context) (time.Time, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("status IN (?, ?)", string(subscription.StatusPending), string(subscription.StatusActive)).
		OrderExpr("next_due_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("charter/sqlite: next due: %w", err)
	}
	return m.NextDueAt.UTC(), nil
}

func subscriptionFilter(opts subscription.ListOpts) (string, []any) {
	var f filter
	if !opts.ContractID.IsNil() {
		f.add("contract_id = ?", opts.ContractID.String())
	}
	if opts.WalletID != 0 {
		f.add("wallet_id = ?", int64(opts.WalletID))
	}
	if opts.Status != "" {
		f.add("status = ?", string(opts.Status))
	}
	if opts.LiveOnly {
		f.add("status IN (?, ?)", string(subscription.StatusPending), string(subscription.StatusActive))
	}
	return f.build()
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Charge Store ====================

func (s *Store) CreateCharge(ctx context.Context, c *charge.Charge) error {
	res, err := s.sdb.NewInsert(toChargeModel(c)).
		OnConflict("(idempotency_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("charter/sqlite: create charge: %w", err)
	}
	return requireRow(res, charter.ErrDuplicateCharge)
}

func (s *Store) GetChargeByKey(ctx context.Context, key string) (*charge.Charge, error) {
	m := new(chargeModel)
	err := s.sdb.NewSelect(m).
		Where("idempotency_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrChargeNotFound
		}
		return nil, fmt.Errorf("charter/sqlite: get charge: %w", err)
	}
	return fromChargeModel(m)
}

func (s *Store) ListCharges(ctx context.Context, subID id.SubscriptionID, opts charge.ListOpts) ([]*charge.Charge, error) {
	var models []chargeModel
	q := s.sdb.NewSelect(&models).Where("subscription_id = ?", subID.String())

	if opts.Outcome != "" {
		q = q.Where("outcome = ?", string(opts.Outcome))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("period_start ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/sqlite: list charges: %w", err)
	}

	result := make([]*charge.Charge, len(models))
	for i := range models {
		c, err := fromChargeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// ==================== Helpers ====================

// filter accumulates AND-ed WHERE conditions.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, args ...any) {
	f.conds = append(f.conds, cond)
	f.args = append(f.args, args...)
}

func (f *filter) build() (string, []any) {
	return strings.Join(f.conds, " AND "), f.args
}

func (s *Store) count(ctx context.Context, table, clause string, args []any) (int, error) {
	query := "SELECT COUNT(*) FROM " + table
	if clause != "" {
		query += " WHERE " + clause
	}
	var n int
	if err := s.sdb.NewRaw(query, args...).Scan(ctx, &n); err != nil {
		return 0, fmt.Errorf("charter/sqlite: count %s: %w", table, err)
	}
	return n, nil
}

// requireRow maps "no row touched" onto notFound.
func requireRow(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
