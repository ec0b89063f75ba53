package multisig

import (
	"strconv"

	"storechain/core/types"
	"storechain/crypto"
)

const (
	EventTypeTxSubmitted      = "multisig.tx.submitted"
	EventTypeTxConfirmed      = "multisig.tx.confirmed"
	EventTypeTxExecuted       = "multisig.tx.executed"
	EventTypeOwnerAdded       = "multisig.owner.added"
	EventTypeOwnerRemoved     = "multisig.owner.removed"
	EventTypeThresholdChanged = "multisig.threshold.changed"
)

func txSubmittedEvent(self [20]byte, tx *Transaction) *types.Event {
	return &types.Event{Type: EventTypeTxSubmitted, Attributes: map[string]string{
		"store":       crypto.HexAddress(self),
		"id":          strconv.FormatUint(tx.ID, 10),
		"submitter":   crypto.HexAddress(tx.Submitter),
		"target":      crypto.HexAddress(tx.Target),
		"value":       tx.Value.String(),
		"description": tx.Description,
	}}
}

func txConfirmedEvent(self [20]byte, tx *Transaction, owner [20]byte) *types.Event {
	return &types.Event{Type: EventTypeTxConfirmed, Attributes: map[string]string{
		"store":         crypto.HexAddress(self),
		"id":            strconv.FormatUint(tx.ID, 10),
		"owner":         crypto.HexAddress(owner),
		"confirmations": strconv.FormatUint(tx.ConfirmationCount(), 10),
	}}
}

func txExecutedEvent(self [20]byte, tx *Transaction, executor [20]byte) *types.Event {
	return &types.Event{Type: EventTypeTxExecuted, Attributes: map[string]string{
		"store":    crypto.HexAddress(self),
		"id":       strconv.FormatUint(tx.ID, 10),
		"executor": crypto.HexAddress(executor),
		"target":   crypto.HexAddress(tx.Target),
		"value":    tx.Value.String(),
	}}
}

func ownerEvent(eventType string, self [20]byte, owner [20]byte) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"store": crypto.HexAddress(self),
		"owner": crypto.HexAddress(owner),
	}}
}

func thresholdChangedEvent(self [20]byte, threshold uint64) *types.Event {
	return &types.Event{Type: EventTypeThresholdChanged, Attributes: map[string]string{
		"store":     crypto.HexAddress(self),
		"threshold": strconv.FormatUint(threshold, 10),
	}}
}
