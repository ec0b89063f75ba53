package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"storechain/core/host"
	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/commission"
	"storechain/native/common"
	"storechain/native/factory"
	"storechain/native/multisig"
	"storechain/native/store"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := errorBody{Error: message}
	if err != nil {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

var forbidden = []error{
	multisig.ErrNotOwner,
	multisig.ErrNotSelf,
	factory.ErrNotOwner,
	factory.ErrUnknownStore,
	common.ErrReentrant,
}

var notFound = []error{
	store.ErrProductNotFound,
	store.ErrSubscriptionMissing,
	multisig.ErrTxNotFound,
}

var conflict = []error{
	store.ErrStorePaused,
	store.ErrPlatformPaused,
	common.ErrModulePaused,
	multisig.ErrAlreadyExecuted,
	multisig.ErrAlreadyConfirmed,
	multisig.ErrInsufficientConfs,
	common.ErrMandatoryTransfer,
	multisig.ErrExecutionFailed,
}

var badRequest = []error{
	types.ErrInvalidParams,
	crypto.ErrInvalidAddress,
	store.ErrInvalidProductType,
	store.ErrInvalidDuration,
	store.ErrNegativeValue,
	store.ErrProductInactive,
	store.ErrInsufficientPayment,
	store.ErrNegativeRemainder,
	store.ErrInvalidPrice,
	store.ErrContentRequired,
	store.ErrDurationRequired,
	store.ErrUnknownMethod,
	store.ErrNotPayable,
	factory.ErrUnknownMethod,
	factory.ErrNotPayable,
	factory.ErrRateOutOfBounds,
	factory.ErrCommissionsClosed,
	factory.ErrZeroTreasury,
	factory.ErrZeroPayee,
	multisig.ErrNoOwners,
	multisig.ErrZeroOwner,
	multisig.ErrDuplicateOwner,
	multisig.ErrInvalidThreshold,
	multisig.ErrOwnerExists,
	multisig.ErrOwnerNotFound,
	multisig.ErrLastOwner,
	multisig.ErrZeroTarget,
	multisig.ErrNegativeValue,
	commission.ErrTooManyLevels,
	commission.ErrWeightOverflow,
	commission.ErrRateOutOfBounds,
	host.ErrInsufficientBalance,
	host.ErrNegativeValue,
	host.ErrCallDepth,
}

// statusFor maps ledger errors to HTTP statuses. Anything unrecognised is an
// internal failure.
func statusFor(err error) int {
	switch {
	case matchesAny(err, forbidden):
		return http.StatusForbidden
	case matchesAny(err, notFound):
		return http.StatusNotFound
	case matchesAny(err, conflict):
		return http.StatusConflict
	case matchesAny(err, badRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
