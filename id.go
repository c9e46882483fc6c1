package charter

import "github.com/xraph/charter/id"

// ID is the primary identifier type for all Charter entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Typed identifiers re-exported for callers that only import charter.
type (
	ContractID     = id.ContractID
	SubscriptionID = id.SubscriptionID
	ChargeID       = id.ChargeID
)

// Identifier parsers.
var (
	ParseContractID     = id.ParseContractID
	ParseSubscriptionID = id.ParseSubscriptionID
	ParseChargeID       = id.ParseChargeID
)
