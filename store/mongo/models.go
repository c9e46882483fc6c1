package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

// ==================== Contract offer models ====================

type offerModel struct {
	grove.BaseModel `grove:"table:charter_contract_offers"`

	ID             string          `grove:"id,pk"           bson:"_id"`
	OwnerID        int64           `grove:"owner_id"        bson:"owner_id"`
	Status         string          `grove:"status"          bson:"status"`
	Title          string          `grove:"title"           bson:"title"`
	Description    *string         `grove:"description"     bson:"description,omitempty"`
	CronExpr       string          `grove:"cron_expr"       bson:"cron_expr"`
	Price          bson.Decimal128 `grove:"price"           bson:"price"`
	MaxSubscribers *int            `grove:"max_subscribers" bson:"max_subscribers,omitempty"`
	// AllowList is null for an unrestricted offer and [] for one nobody
	// may join.
	AllowList *[]int64  `grove:"allow_list" bson:"allow_list"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toOfferModel(o *contract.Offer) (*offerModel, error) {
	price, err := toDecimal(o.Price)
	if err != nil {
		return nil, err
	}
	m := &offerModel{
		ID:             o.ID.String(),
		OwnerID:        int64(o.OwnerID),
		Status:         string(o.Status),
		Title:          o.Title,
		Description:    o.Description,
		CronExpr:       o.CronExpr,
		Price:          price,
		MaxSubscribers: o.MaxSubscribers,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.AllowList != nil {
		members := make([]int64, 0, o.AllowList.Len())
		for _, w := range o.AllowList.Members() {
			members = append(members, int64(w))
		}
		m.AllowList = &members
	}
	return m, nil
}

func fromOfferModel(m *offerModel) (*contract.Offer, error) {
	offerID, err := id.ParseContractID(m.ID)
	if err != nil {
		return nil, err
	}
	price, err := types.NewMoney(m.Price.String())
	if err != nil {
		return nil, err
	}

	o := &contract.Offer{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             offerID,
		OwnerID:        wallet.ID(m.OwnerID),
		Status:         contract.Status(m.Status),
		Title:          m.Title,
		Description:    m.Description,
		CronExpr:       m.CronExpr,
		Price:          price,
		MaxSubscribers: m.MaxSubscribers,
	}
	if m.AllowList != nil {
		ids := make([]wallet.ID, len(*m.AllowList))
		for i, w := range *m.AllowList {
			ids[i] = wallet.ID(w)
		}
		o.AllowList = contract.NewAllowList(ids...)
	}
	return o, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:charter_subscriptions"`

	ID            string     `grove:"id,pk"           bson:"_id"`
	ContractID    string     `grove:"contract_id"     bson:"contract_id"`
	WalletID      int64      `grove:"wallet_id"       bson:"wallet_id"`
	Status        string     `grove:"status"          bson:"status"`
	StartedAt     time.Time  `grove:"started_at"      bson:"started_at"`
	LapsedAt      *time.Time `grove:"lapsed_at"       bson:"lapsed_at,omitempty"`
	LapseReason   string     `grove:"lapse_reason"    bson:"lapse_reason,omitempty"`
	LastChargedAt *time.Time `grove:"last_charged_at" bson:"last_charged_at,omitempty"`
	LastPeriodAt  *time.Time `grove:"last_period_at"  bson:"last_period_at,omitempty"`
	NextDueAt     time.Time  `grove:"next_due_at"     bson:"next_due_at"`
	FailureCount  int        `grove:"failure_count"   bson:"failure_count"`
	CreatedAt     time.Time  `grove:"created_at"      bson:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"      bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:            s.ID.String(),
		ContractID:    s.ContractID.String(),
		WalletID:      int64(s.WalletID),
		Status:        string(s.Status),
		StartedAt:     s.StartedAt,
		LapsedAt:      s.LapsedAt,
		LapseReason:   string(s.LapseReason),
		LastChargedAt: s.LastChargedAt,
		LastPeriodAt:  s.LastPeriodAt,
		NextDueAt:     s.NextDueAt,
		FailureCount:  s.FailureCount,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	contractID, err := id.ParseContractID(m.ContractID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:            subID,
		ContractID:    contractID,
		WalletID:      wallet.ID(m.WalletID),
		Status:        subscription.Status(m.Status),
		StartedAt:     m.StartedAt.UTC(),
		LapsedAt:      utcPtr(m.LapsedAt),
		LapseReason:   subscription.LapseReason(m.LapseReason),
		LastChargedAt: utcPtr(m.LastChargedAt),
		LastPeriodAt:  utcPtr(m.LastPeriodAt),
		NextDueAt:     m.NextDueAt.UTC(),
		FailureCount:  m.FailureCount,
	}, nil
}

// ==================== Charge models ====================

type chargeModel struct {
	grove.BaseModel `grove:"table:charter_charges"`

	ID             string          `grove:"id,pk"           bson:"_id"`
	SubscriptionID string          `grove:"subscription_id" bson:"subscription_id"`
	ContractID     string          `grove:"contract_id"     bson:"contract_id"`
	FromWallet     int64           `grove:"from_wallet"     bson:"from_wallet"`
	ToWallet       int64           `grove:"to_wallet"       bson:"to_wallet"`
	Amount         bson.Decimal128 `grove:"amount"          bson:"amount"`
	PeriodStart    time.Time       `grove:"period_start"    bson:"period_start"`
	IdempotencyKey string          `grove:"idempotency_key" bson:"idempotency_key"`
	Outcome        string          `grove:"outcome"         bson:"outcome"`
	Reason         string          `grove:"reason"          bson:"reason,omitempty"`
	Reference      string          `grove:"reference"       bson:"reference,omitempty"`
	AttemptedAt    time.Time       `grove:"attempted_at"    bson:"attempted_at"`
}

func toChargeModel(c *charge.Charge) (*chargeModel, error) {
	amount, err := toDecimal(c.Amount)
	if err != nil {
		return nil, err
	}
	return &chargeModel{
		ID:             c.ID.String(),
		SubscriptionID: c.SubscriptionID.String(),
		ContractID:     c.ContractID.String(),
		FromWallet:     int64(c.From),
		ToWallet:       int64(c.To),
		Amount:         amount,
		PeriodStart:    c.PeriodStart,
		IdempotencyKey: c.IdempotencyKey,
		Outcome:        string(c.Outcome),
		Reason:         c.Reason,
		Reference:      c.Reference,
		AttemptedAt:    c.AttemptedAt,
	}, nil
}

func fromChargeModel(m *chargeModel) (*charge.Charge, error) {
	chargeID, err := id.ParseChargeID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	contractID, err := id.ParseContractID(m.ContractID)
	if err != nil {
		return nil, err
	}
	amount, err := types.NewMoney(m.Amount.String())
	if err != nil {
		return nil, err
	}

	return &charge.Charge{
		ID:             chargeID,
		SubscriptionID: subID,
		ContractID:     contractID,
		From:           wallet.ID(m.FromWallet),
		To:             wallet.ID(m.ToWallet),
		Amount:         amount,
		PeriodStart:    m.PeriodStart.UTC(),
		IdempotencyKey: m.IdempotencyKey,
		Outcome:        charge.Outcome(m.Outcome),
		Reason:         m.Reason,
		Reference:      m.Reference,
		AttemptedAt:    m.AttemptedAt.UTC(),
	}, nil
}

// toDecimal stores money as Decimal128 so amounts compare numerically in
// queries and aggregations.
func toDecimal(m types.Money) (bson.Decimal128, error) {
	return bson.ParseDecimal128(m.String())
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
