package contract

import (
	"context"
	"time"

	"github.com/xraph/charter/id"
	"github.com/xraph/charter/wallet"
)

type Store interface {
	CreateContract(ctx context.Context, o *Offer) error
	GetContract(ctx context.Context, contractID id.ContractID) (*Offer, error)
	ListContracts(ctx context.Context, opts ListOpts) ([]*Offer, error)
	CountContracts(ctx context.Context, opts ListOpts) (int, error)
	UpdateContractStatus(ctx context.Context, contractID id.ContractID, status Status, updatedAt time.Time) error
}

// ListOpts filters offer listings. Zero values mean "no filter".
type ListOpts struct {
	OwnerID wallet.ID
	Status  Status
	Limit   int
	Offset  int
}
