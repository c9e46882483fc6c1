package charter

import (
	"errors"
	"fmt"

	"github.com/xraph/charter/cronclock"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/wallet"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("charter: not found")
	ErrAlreadyExists = errors.New("charter: already exists")
	ErrInvalidInput  = errors.New("charter: invalid input")

	// Contract errors
	ErrContractNotFound = errors.New("charter: contract offer not found")
	ErrStateConflict    = errors.New("charter: operation not allowed in current state")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("charter: subscription not found")
	ErrNotAllowed           = errors.New("charter: wallet not on allow list")
	ErrAlreadySubscribed    = errors.New("charter: wallet already subscribed")
	ErrCapacityExceeded     = errors.New("charter: contract offer is at capacity")
	ErrSelfSubscription     = errors.New("charter: owner cannot subscribe to own offer")

	// Billing errors
	ErrChargeNotFound  = errors.New("charter: charge not found")
	ErrDuplicateCharge = errors.New("charter: charge already recorded for period")
	ErrNoWalletLedger  = errors.New("charter: no wallet ledger configured")

	// Engine errors
	ErrLockTimeout   = errors.New("charter: lock acquisition timed out")
	ErrStoreNotReady = errors.New("charter: store not ready")
	ErrStoreClosed   = errors.New("charter: store is closed")
	ErrNotStarted    = errors.New("charter: engine not started")
	ErrAlreadyActive = errors.New("charter: engine already started")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("charter: validation failed for %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidInput.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "charter: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("charter: %d errors occurred (first: %v)", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e as an error when it holds anything, else nil.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrChargeNotFound)
}

// IsRejection returns true if the error is a business-rule rejection that
// retrying cannot fix.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrNotAllowed) ||
		errors.Is(err, ErrAlreadySubscribed) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrSelfSubscription) ||
		errors.Is(err, cronclock.ErrInvalidExpression)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, lock.ErrNotAcquired) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, wallet.ErrUnavailable)
}

func wrapLockErr(err error) error {
	return fmt.Errorf("%w: %w", ErrLockTimeout, err)
}
