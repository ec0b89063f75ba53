package core

import (
	"errors"
	"math/big"

	"storechain/core/host"
	"storechain/crypto"
	"storechain/native/commission"
	"storechain/native/multisig"
	"storechain/native/store"
	"storechain/observability/metrics"
)

// observeCommerce feeds the commerce counters from the outcome of one
// external call. Only committed events are counted.
func (n *Node) observeCommerce(receipt *host.Receipt, err error) {
	m := metrics.Commerce()
	if err != nil {
		if errors.Is(err, multisig.ErrExecutionFailed) {
			m.ObserveExecution(err)
		}
		return
	}
	if receipt == nil {
		return
	}
	factoryHex := crypto.HexAddress(n.factoryAddr)
	for _, evt := range receipt.Events {
		attrs := evt.Attributes
		switch evt.Type {
		case store.EventTypePurchaseCompleted:
			m.ObservePurchase(attrs["store"], attrs["type"],
				parseAmount(attrs["price"]), parseAmount(attrs["paidCommission"]), parseAmount(attrs["scheduleTotal"]))
			if parseAmount(attrs["platformCut"]).Sign() > 0 && attrs["platformTo"] != factoryHex {
				m.IncFallback("platform", 1)
			}
		case commission.EventTypeReferralPaid:
			if attrs["fallback"] == "true" {
				m.IncFallback("referral", 1)
			}
		case multisig.EventTypeTxExecuted:
			m.ObserveExecution(nil)
		}
	}
}

func parseAmount(raw string) *big.Int {
	out, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return new(big.Int)
	}
	return out
}
