package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/charter"
	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	charterstore "github.com/xraph/charter/store"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/wallet"
)

// Collection name constants.
const (
	colContracts     = "charter_contract_offers"
	colSubscriptions = "charter_subscriptions"
	colCharges       = "charter_charges"
)

// compile-time interface check
var _ charterstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all charter collections. The unique indexes
// carry the (contract, wallet) and idempotency-key constraints.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("charter/mongo: migrate %s indexes: %w", col, err)
		}
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("charter/mongo: create contract: %w", err)
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, contractID id.ContractID) (*contract.Offer, error) {
	var m offerModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": contractID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, charter.ErrContractNotFound
		}
		return nil, fmt.Errorf("charter/mongo: get contract: %w", err)
	}
	return fromOfferModel(&m)
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Offer, error) {
	var models []offerModel

	q := s.mdb.NewFind(&models).
		Filter(contractFilter(opts)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/mongo: list contracts: %w", err)
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
	return s.count(ctx, colContracts, contractFilter(opts))
}

func (s *Store) UpdateContractStatus(ctx context.Context, contractID id.ContractID, status contract.Status, updatedAt time.Time) error {
	res, err := s.mdb.NewUpdate((*offerModel)(nil)).
		Filter(bson.M{"_id": contractID.String()}).
		Set("status", string(status)).
		Set("updated_at", updatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("charter/mongo: update contract status: %w", err)
	}
	if res.MatchedCount() == 0 {
		return charter.ErrContractNotFound
	}
	return nil
}

func contractFilter(opts contract.ListOpts) bson.M {
	filter := bson.M{}
	if opts.OwnerID != 0 {
		filter["owner_id"] = int64(opts.OwnerID)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return filter
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.mdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: wallet %s on offer %s", charter.ErrAlreadySubscribed, sub.WalletID, sub.ContractID)
		}
		return fmt.Errorf("charter/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, charter.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("charter/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscriptionByPair(ctx context.Context, contractID id.ContractID, walletID wallet.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"contract_id": contractID.String(), "wallet_id": int64(walletID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, charter.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("charter/mongo: get subscription by pair: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(subscriptionFilter(opts)).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/mongo: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) CountSubscriptions(ctx context.Context, opts subscription.ListOpts) (int, error) {
	return s.count(ctx, colSubscriptions, subscriptionFilter(opts))
}

func (s *Store) CountLiveSubscriptions(ctx context.Context, contractID id.ContractID) (int, error) {
	return s.CountSubscriptions(ctx, subscription.ListOpts{ContractID: contractID, LiveOnly: true})
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("charter/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return charter.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":      bson.M{"$in": billableStatuses()},
			"next_due_at": bson.M{"$lte": now},
		}).
		Sort(bson.D{{Key: "next_due_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/mongo: list due subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) NextDueAt(ctx context.Context) (time.Time, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"status": bson.M{"$in": billableStatuses()}}).
		Sort(bson.D{{Key: "next_due_at", Value: 1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("charter/mongo: next due: %w", err)
	}
	return m.NextDueAt.UTC(), nil
}

func subscriptionFilter(opts subscription.ListOpts) bson.M {
	filter := bson.M{}
	if !opts.ContractID.IsNil() {
		filter["contract_id"] = opts.ContractID.String()
	}
	if opts.WalletID != 0 {
		filter["wallet_id"] = int64(opts.WalletID)
	}
	switch {
	case opts.Status != "" && opts.LiveOnly:
		filter["$and"] = bson.A{
			bson.M{"status": string(opts.Status)},
			bson.M{"status": bson.M{"$in": billableStatuses()}},
		}
	case opts.Status != "":
		filter["status"] = string(opts.Status)
	case opts.LiveOnly:
		filter["status"] = bson.M{"$in": billableStatuses()}
	}
	return filter
}

func billableStatuses() []string {
	return []string{string(subscription.StatusPending), string(subscription.StatusActive)}
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
	m, err := toChargeModel(c)
	if err != nil {
		return err
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return charter.ErrDuplicateCharge
		}
		return fmt.Errorf("charter/mongo: create charge: %w", err)
	}
	return nil
}

func (s *Store) GetChargeByKey(ctx context.Context, key string) (*charge.Charge, error) {
	var m chargeModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"idempotency_key": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, charter.ErrChargeNotFound
		}
		return nil, fmt.Errorf("charter/mongo: get charge: %w", err)
	}
	return fromChargeModel(&m)
}

func (s *Store) ListCharges(ctx context.Context, subID id.SubscriptionID, opts charge.ListOpts) ([]*charge.Charge, error) {
	var models []chargeModel

	filter := bson.M{"subscription_id": subID.String()}
	if opts.Outcome != "" {
		filter["outcome"] = string(opts.Outcome)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "period_start", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("charter/mongo: list charges: %w", err)
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

func (s *Store) count(ctx context.Context, col string, filter bson.M) (int, error) {
	n, err := s.mdb.Collection(col).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("charter/mongo: count %s: %w", col, err)
	}
	return int(n), nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all charter collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colContracts: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "contract_id", Value: 1}, {Key: "wallet_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "wallet_id", Value: 1}}},
			{Keys: bson.D{{Key: "contract_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_due_at", Value: 1}}},
		},
		colCharges: {
			{
				Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "period_start", Value: 1}}},
		},
	}
}
