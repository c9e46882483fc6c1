package charter

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

// ──────────────────────────────────────────────────
// Contract offers
// ──────────────────────────────────────────────────

// CreateOfferInput carries the immutable terms of a new offer. A nil
// AllowList leaves the offer open to every wallet; an empty non-nil one
// admits nobody.
type CreateOfferInput struct {
	OwnerID        wallet.ID   `json:"owner_id" validate:"gt=0"`
	Title          string      `json:"title" validate:"required,min=1,max=64"`
	Description    *string     `json:"description,omitempty" validate:"omitempty,max=500"`
	CronExpr       string      `json:"cron_expr" validate:"required"`
	Price          types.Money `json:"price"`
	MaxSubscribers *int        `json:"max_subscribers,omitempty" validate:"omitempty,gt=0"`
	AllowList      []wallet.ID `json:"allow_list,omitempty" validate:"omitempty,dive,gt=0"`
}

// ListOffersOpts filters ListOffers.
type ListOffersOpts struct {
	OwnerID wallet.ID
	Status  contract.Status
	Limit   int
	Offset  int
}

// CreateOffer validates in and publishes a new open offer. Nothing is
// persisted when validation fails.
func (e *Engine) CreateOffer(ctx context.Context, in CreateOfferInput) (*contract.Offer, error) {
	if err := e.validateOffer(in); err != nil {
		return nil, err
	}

	now := e.now()
	o := &contract.Offer{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewContractID(),
		OwnerID:        in.OwnerID,
		Status:         contract.StatusOpen,
		Title:          in.Title,
		Description:    in.Description,
		CronExpr:       in.CronExpr,
		Price:          in.Price,
		MaxSubscribers: in.MaxSubscribers,
	}
	if in.AllowList != nil {
		o.AllowList = contract.NewAllowList(in.AllowList...)
	}

	if err := e.store.CreateContract(ctx, o); err != nil {
		return nil, err
	}

	e.plugins.EmitContractCreated(ctx, o)
	e.logger.Info("contract offer created",
		"contract_id", o.ID.String(),
		"owner_id", o.OwnerID,
		"cron_expr", o.CronExpr,
		"price", o.Price.String(),
	)
	return o, nil
}

func (e *Engine) validateOffer(in CreateOfferInput) error {
	if err := e.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ValidationError{Field: fieldName(fe.Field()), Message: describe(fe)}
		}
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !in.Price.IsPositive() {
		return ValidationError{Field: "price", Message: "must be greater than zero"}
	}
	if _, err := e.schedule(in.CronExpr); err != nil {
		return ValidationError{Field: "cron_expr", Message: err.Error()}
	}
	return nil
}

// CloseOffer stops new subscriptions. Existing subscriptions keep billing.
// Closing a closed offer is a no-op.
func (e *Engine) CloseOffer(ctx context.Context, contractID id.ContractID) (*contract.Offer, error) {
	lease, err := e.acquire(ctx, lock.ContractKey(contractID))
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, lease)

	o, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case contract.StatusClosed:
		return o, nil
	case contract.StatusCanceled:
		return nil, fmt.Errorf("%w: offer %s is canceled", ErrStateConflict, contractID)
	}

	if err := o.Transition(contract.StatusClosed, e.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateConflict, err)
	}
	if err := e.store.UpdateContractStatus(ctx, o.ID, o.Status, o.UpdatedAt); err != nil {
		return nil, err
	}

	e.plugins.EmitContractClosed(ctx, o)
	e.logger.Info("contract offer closed", "contract_id", o.ID.String())
	return o, nil
}

// CancelOffer cancels the offer and lapses every live subscription to it.
// It returns the number of subscriptions lapsed by this call. Canceling a
// canceled offer finishes any lapses a previous attempt left behind.
func (e *Engine) CancelOffer(ctx context.Context, contractID id.ContractID) (int, error) {
	lease, err := e.acquire(ctx, lock.ContractKey(contractID))
	if err != nil {
		return 0, err
	}
	defer e.release(ctx, lease)

	o, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		return 0, err
	}

	first := o.Status != contract.StatusCanceled
	if first {
		if err := o.Transition(contract.StatusCanceled, e.now()); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrStateConflict, err)
		}
		if err := e.store.UpdateContractStatus(ctx, o.ID, o.Status, o.UpdatedAt); err != nil {
			return 0, err
		}
	}

	lapsed, err := e.lapseAll(ctx, o.ID)

	if first {
		e.plugins.EmitContractCanceled(ctx, o, lapsed)
	}
	e.logger.Info("contract offer canceled",
		"contract_id", o.ID.String(),
		"lapsed", lapsed,
		"retry", !first,
	)
	return lapsed, err
}

// GetOffer retrieves an offer by ID.
func (e *Engine) GetOffer(ctx context.Context, contractID id.ContractID) (*contract.Offer, error) {
	return e.store.GetContract(ctx, contractID)
}

// ListOffers returns a page of offers, newest first.
func (e *Engine) ListOffers(ctx context.Context, opts ListOffersOpts) (*Page[*contract.Offer], error) {
	limit, offset := clampPage(opts.Limit, opts.Offset)
	filter := contract.ListOpts{OwnerID: opts.OwnerID, Status: opts.Status}

	total, err := e.store.CountContracts(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset
	items, err := e.store.ListContracts(ctx, filter)
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}
