package postgres

import (
	"encoding/json"
	"fmt"
	"time"

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

	ID             string          `grove:"id,pk"`
	OwnerID        int64           `grove:"owner_id"`
	Status         string          `grove:"status"`
	Title          string          `grove:"title"`
	Description    *string         `grove:"description"`
	CronExpr       string          `grove:"cron_expr"`
	Price          string          `grove:"price,type:numeric"`
	MaxSubscribers *int            `grove:"max_subscribers"`
	AllowList      json.RawMessage `grove:"allow_list,type:jsonb"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toOfferModel(o *contract.Offer) (*offerModel, error) {
	m := &offerModel{
		ID:             o.ID.String(),
		OwnerID:        int64(o.OwnerID),
		Status:         string(o.Status),
		Title:          o.Title,
		Description:    o.Description,
		CronExpr:       o.CronExpr,
		Price:          o.Price.String(),
		MaxSubscribers: o.MaxSubscribers,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	// A nil list stays SQL NULL; an empty list is stored as [].
	if o.AllowList != nil {
		raw, err := json.Marshal(o.AllowList)
		if err != nil {
			return nil, fmt.Errorf("charter/postgres: encode allow list: %w", err)
		}
		m.AllowList = raw
	}
	return m, nil
}

func fromOfferModel(m *offerModel) (*contract.Offer, error) {
	offerID, err := id.ParseContractID(m.ID)
	if err != nil {
		return nil, err
	}
	price, err := types.NewMoney(m.Price)
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
	if len(m.AllowList) > 0 && string(m.AllowList) != "null" {
		o.AllowList = new(contract.AllowList)
		if err := json.Unmarshal(m.AllowList, o.AllowList); err != nil {
			return nil, fmt.Errorf("charter/postgres: decode allow list: %w", err)
		}
	}
	return o, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:charter_subscriptions"`

	ID            string     `grove:"id,pk"`
	ContractID    string     `grove:"contract_id"`
	WalletID      int64      `grove:"wallet_id"`
	Status        string     `grove:"status"`
	StartedAt     time.Time  `grove:"started_at"`
	LapsedAt      *time.Time `grove:"lapsed_at"`
	LapseReason   string     `grove:"lapse_reason"`
	LastChargedAt *time.Time `grove:"last_charged_at"`
	LastPeriodAt  *time.Time `grove:"last_period_at"`
	NextDueAt     time.Time  `grove:"next_due_at"`
	FailureCount  int        `grove:"failure_count"`
	CreatedAt     time.Time  `grove:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"`
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

	ID             string    `grove:"id,pk"`
	SubscriptionID string    `grove:"subscription_id"`
	ContractID     string    `grove:"contract_id"`
	FromWallet     int64     `grove:"from_wallet"`
	ToWallet       int64     `grove:"to_wallet"`
	Amount         string    `grove:"amount,type:numeric"`
	PeriodStart    time.Time `grove:"period_start"`
	IdempotencyKey string    `grove:"idempotency_key"`
	Outcome        string    `grove:"outcome"`
	Reason         string    `grove:"reason"`
	Reference      string    `grove:"reference"`
	AttemptedAt    time.Time `grove:"attempted_at"`
}

func toChargeModel(c *charge.Charge) *chargeModel {
	return &chargeModel{
		ID:             c.ID.String(),
		SubscriptionID: c.SubscriptionID.String(),
		ContractID:     c.ContractID.String(),
		FromWallet:     int64(c.From),
		ToWallet:       int64(c.To),
		Amount:         c.Amount.String(),
		PeriodStart:    c.PeriodStart,
		IdempotencyKey: c.IdempotencyKey,
		Outcome:        string(c.Outcome),
		Reason:         c.Reason,
		Reference:      c.Reference,
		AttemptedAt:    c.AttemptedAt,
	}
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
	amount, err := types.NewMoney(m.Amount)
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

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
