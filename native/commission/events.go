package commission

import (
	"strconv"

	"storechain/core/types"
	"storechain/crypto"
)

const (
	// EventTypeReferralPaid is emitted once per level that earned a commission.
	EventTypeReferralPaid = "store.referral.paid"
)

// ReferralPaidEvent describes a single level payout and where the value went.
func ReferralPaidEvent(store [20]byte, buyer [20]byte, payout LevelPayout) *types.Event {
	attrs := map[string]string{
		"store":    crypto.HexAddress(store),
		"buyer":    crypto.HexAddress(buyer),
		"level":    strconv.Itoa(payout.Level + 1),
		"referrer": crypto.HexAddress(payout.Referrer),
		"amount":   payout.Amount.String(),
		"routedTo": crypto.HexAddress(payout.RoutedTo),
		"fallback": strconv.FormatBool(payout.Fallback),
	}
	return &types.Event{Type: EventTypeReferralPaid, Attributes: attrs}
}
