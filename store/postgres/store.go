package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("charter/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("charter/postgres: migration failed: %w", err)
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetContract(ctx context.Context, contractID id.ContractID) (*contract.Offer, error) {
	m := new(offerModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", contractID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrContractNotFound
		}
		return nil, err
	}
	return fromOfferModel(m)
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Offer, error) {
	var models []offerModel
	q := s.pg.NewSelect(&models)

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
		return nil, err
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
	res, err := s.pg.NewUpdate((*offerModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", updatedAt).
		Where("id = $3", contractID.String()).
		Exec(ctx)
	if err != nil {
		return err
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
	res, err := s.pg.NewInsert(toSubscriptionModel(sub)).
		OnConflict("(contract_id, wallet_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	if err := requireRow(res, charter.ErrAlreadySubscribed); err != nil {
		return fmt.Errorf("%w: wallet %s on offer %s", err, sub.WalletID, sub.ContractID)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByPair(ctx context.Context, contractID id.ContractID, walletID wallet.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("contract_id = $1", contractID.String()).
		Where("wallet_id = $2", int64(walletID)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models)

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
		return nil, err
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
	res, err := s.pg.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, charter.ErrSubscriptionNotFound)
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("status IN ($1, $2)", string(subscription.StatusPending), string(subscription.StatusActive)).
		Where("next_due_at <= $3", now).
		OrderExpr("next_due_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) NextDueAt(ctx context.Context) (time.Time, error) {
	var next sql.NullTime
	err := s.pg.NewRaw(`
		SELECT MIN(next_due_at) FROM charter_subscriptions
		WHERE status IN ($1, $2)`,
		string(subscription.StatusPending), string(subscription.StatusActive),
	).Scan(ctx, &next)
	if err != nil {
		return time.Time{}, err
	}
	if !next.Valid {
		return time.Time{}, nil
	}
	return next.Time.UTC(), nil
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
	res, err := s.pg.NewInsert(toChargeModel(c)).
		OnConflict("(idempotency_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, charter.ErrDuplicateCharge)
}

func (s *Store) GetChargeByKey(ctx context.Context, key string) (*charge.Charge, error) {
	m := new(chargeModel)
	err := s.pg.NewSelect(m).
		Where("idempotency_key = $1", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, charter.ErrChargeNotFound
		}
		return nil, err
	}
	return fromChargeModel(m)
}

func (s *Store) ListCharges(ctx context.Context, subID id.SubscriptionID, opts charge.ListOpts) ([]*charge.Charge, error) {
	var models []chargeModel
	q := s.pg.NewSelect(&models).Where("subscription_id = $1", subID.String())

	if opts.Outcome != "" {
		q = q.Where("outcome = $2", string(opts.Outcome))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("period_start ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

// filter accumulates AND-ed WHERE conditions, numbering each "?" as a
// positional parameter in the order conditions are added.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, args ...any) {
	for _, arg := range args {
		f.args = append(f.args, arg)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(f.args)), 1)
	}
	f.conds = append(f.conds, cond)
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
	if err := s.pg.NewRaw(query, args...).Scan(ctx, &n); err != nil {
		return 0, fmt.Errorf("charter/postgres: count %s: %w", table, err)
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
