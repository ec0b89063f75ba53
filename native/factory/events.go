package factory

import (
	"math/big"
	"strconv"

	"storechain/core/types"
	"storechain/crypto"
)

const (
	EventTypeStoreCreated        = "factory.store.created"
	EventTypePauseToggled        = "factory.pause.toggled"
	EventTypeRateUpdated         = "factory.rate.updated"
	EventTypeCommissionReceived  = "factory.commission.received"
	EventTypeCommissionCollected = "factory.commission.collected"
	EventTypeCommissionsRejected = "factory.commissions.rejected"
)

func storeCreatedEvent(factory [20]byte, record *StoreRecord, owners int, threshold uint64) *types.Event {
	return &types.Event{Type: EventTypeStoreCreated, Attributes: map[string]string{
		"factory":   crypto.HexAddress(factory),
		"store":     crypto.HexAddress(record.Address),
		"creator":   crypto.HexAddress(record.Creator),
		"seq":       strconv.FormatUint(record.Seq, 10),
		"owners":    strconv.Itoa(owners),
		"threshold": strconv.FormatUint(threshold, 10),
	}}
}

func pauseToggledEvent(factory [20]byte, paused bool) *types.Event {
	return &types.Event{Type: EventTypePauseToggled, Attributes: map[string]string{
		"factory": crypto.HexAddress(factory),
		"paused":  strconv.FormatBool(paused),
	}}
}

func rateUpdatedEvent(factory [20]byte, rate uint64) *types.Event {
	return &types.Event{Type: EventTypeRateUpdated, Attributes: map[string]string{
		"factory": crypto.HexAddress(factory),
		"rate":    strconv.FormatUint(rate, 10),
	}}
}

func commissionReceivedEvent(factory, store [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeCommissionReceived, Attributes: map[string]string{
		"factory": crypto.HexAddress(factory),
		"store":   crypto.HexAddress(store),
		"amount":  amount.String(),
	}}
}

func commissionCollectedEvent(factory, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeCommissionCollected, Attributes: map[string]string{
		"factory": crypto.HexAddress(factory),
		"to":      crypto.HexAddress(to),
		"amount":  amount.String(),
	}}
}

func commissionsRejectedEvent(factory [20]byte, rejected bool) *types.Event {
	return &types.Event{Type: EventTypeCommissionsRejected, Attributes: map[string]string{
		"factory":  crypto.HexAddress(factory),
		"rejected": strconv.FormatBool(rejected),
	}}
}
