package audithook

// Action constants for audit events.
const (
	// Contract actions
	ActionContractCreated  = "contract.created"
	ActionContractClosed   = "contract.closed"
	ActionContractCanceled = "contract.canceled"

	// Subscription actions
	ActionSubscriptionCreated   = "subscription.created"
	ActionSubscriptionActivated = "subscription.activated"
	ActionSubscriptionLapsed    = "subscription.lapsed"

	// Charge actions
	ActionChargeCommitted = "charge.committed"
	ActionChargeDeclined  = "charge.declined"
	ActionChargeDeferred  = "charge.deferred"
)

// Resource constants for audit events.
const (
	ResourceContract     = "contract"
	ResourceSubscription = "subscription"
	ResourceCharge       = "charge"
)

// Category constants for audit events.
const (
	CategoryContract     = "contract"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
