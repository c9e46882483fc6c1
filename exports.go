package charter

import (
	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// WalletID is re-exported from wallet package.
type WalletID = wallet.ID

// SweepReport is re-exported from charge package.
type SweepReport = charge.SweepReport

// Re-export Money constructors
var (
	NewMoney     = types.NewMoney
	MustMoney    = types.MustMoney
	MoneyFromInt = types.MoneyFromInt
	Zero         = types.Zero
	Sum          = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
