package store

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/commission"
)

const (
	EventTypeProductCreated      = "store.product.created"
	EventTypeProductStatus       = "store.product.status"
	EventTypePurchaseCompleted   = "store.purchase.completed"
	EventTypeSubscriptionCreated = "store.subscription.created"
	EventTypeReferralPaid        = commission.EventTypeReferralPaid
	EventTypeScheduleUpdated     = "store.schedule.updated"
	EventTypeRateUpdated         = "store.rate.updated"
	EventTypePauseToggled        = "store.pause.toggled"
	EventTypeDeposit             = "store.deposit"
)

func productCreatedEvent(store [20]byte, product *Product) *types.Event {
	return &types.Event{Type: EventTypeProductCreated, Attributes: map[string]string{
		"store":      crypto.HexAddress(store),
		"productId":  strconv.FormatUint(product.ID, 10),
		"price":      product.Price.String(),
		"type":       product.Type.String(),
		"duration":   strconv.FormatUint(product.Duration, 10),
		"contentRef": product.ContentRef,
	}}
}

func productStatusEvent(store [20]byte, product *Product) *types.Event {
	return &types.Event{Type: EventTypeProductStatus, Attributes: map[string]string{
		"store":     crypto.HexAddress(store),
		"productId": strconv.FormatUint(product.ID, 10),
		"active":    strconv.FormatBool(product.Active),
	}}
}

func purchaseCompletedEvent(store [20]byte, productType ProductType, receipt *Receipt) *types.Event {
	attrs := map[string]string{
		"store":          crypto.HexAddress(store),
		"productId":      strconv.FormatUint(receipt.ProductID, 10),
		"type":           productType.String(),
		"buyer":          crypto.HexAddress(receipt.Buyer),
		"referrer":       crypto.HexAddress(receipt.Referrer),
		"price":          receipt.Price.String(),
		"scheduleTotal":  receipt.ScheduleTotal.String(),
		"paidCommission": receipt.PaidCommission.String(),
		"platformCut":    receipt.PlatformCut.String(),
		"platformTo":     crypto.HexAddress(receipt.PlatformRouted),
		"remainder":      receipt.Remainder.String(),
	}
	if receipt.Refund != nil && receipt.Refund.Sign() > 0 {
		attrs["refund"] = receipt.Refund.String()
	}
	return &types.Event{Type: EventTypePurchaseCompleted, Attributes: attrs}
}

func subscriptionCreatedEvent(store [20]byte, sub *Subscription) *types.Event {
	return &types.Event{Type: EventTypeSubscriptionCreated, Attributes: map[string]string{
		"store":     crypto.HexAddress(store),
		"id":        "0x" + hex.EncodeToString(sub.ID[:]),
		"buyer":     crypto.HexAddress(sub.Buyer),
		"productId": strconv.FormatUint(sub.ProductID, 10),
		"start":     strconv.FormatInt(sub.Start, 10),
		"end":       strconv.FormatInt(sub.End, 10),
	}}
}

func scheduleUpdatedEvent(store [20]byte, schedule commission.Schedule) *types.Event {
	levels := make([]string, len(schedule.Levels))
	for i, weight := range schedule.Levels {
		levels[i] = strconv.FormatUint(weight, 10)
	}
	return &types.Event{Type: EventTypeScheduleUpdated, Attributes: map[string]string{
		"store":  crypto.HexAddress(store),
		"levels": strings.Join(levels, ","),
	}}
}

func rateUpdatedEvent(store [20]byte, rate uint64) *types.Event {
	return &types.Event{Type: EventTypeRateUpdated, Attributes: map[string]string{
		"store": crypto.HexAddress(store),
		"rate":  strconv.FormatUint(rate, 10),
	}}
}

func pauseToggledEvent(store [20]byte, paused bool) *types.Event {
	return &types.Event{Type: EventTypePauseToggled, Attributes: map[string]string{
		"store":  crypto.HexAddress(store),
		"paused": strconv.FormatBool(paused),
	}}
}

func depositEvent(store, from [20]byte, value *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDeposit, Attributes: map[string]string{
		"store":  crypto.HexAddress(store),
		"from":   crypto.HexAddress(from),
		"amount": value.String(),
	}}
}
