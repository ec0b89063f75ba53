package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/commission"
	"storechain/native/common"
)

const (
	platformPauseModule     = "platform"
	methodReceiveCommission = "receiveCommission"
)

var receiveCommissionPayload = types.MustEncodeCall(methodReceiveCommission, nil)

type settlementSplit struct {
	scheduleTotal *big.Int
	rate          uint64
	platformCut   *big.Int
	remainder     *big.Int
}

// split sizes the treasury remainder from the full-schedule commission total,
// not from what the referrer chain actually earns.
func (e *Engine) split(cfg *Config, price *big.Int) (*settlementSplit, error) {
	if e.platform == nil {
		return nil, errNilPlatform
	}
	scheduleTotal, err := commission.ScheduleTotal(cfg.Schedule, price)
	if err != nil {
		return nil, err
	}
	rate, err := e.platform.PlatformRate()
	if err != nil {
		return nil, err
	}
	cut, err := commission.PercentOf(price, rate)
	if err != nil {
		return nil, err
	}
	remainder := new(big.Int).Sub(price, scheduleTotal)
	remainder.Sub(remainder, cut)
	if remainder.Sign() < 0 {
		return nil, fmt.Errorf("%w: schedule %s platform %s price %s", ErrNegativeRemainder, scheduleTotal, cut, price)
	}
	return &settlementSplit{scheduleTotal: scheduleTotal, rate: rate, platformCut: cut, remainder: remainder}, nil
}

func (e *Engine) checkPauses(cfg *Config) error {
	if cfg.Paused {
		return ErrStorePaused
	}
	if e.platform == nil {
		return errNilPlatform
	}
	pauses := common.Pauses{platformPauseModule: e.platform.GlobalPauseActive}
	if err := common.Guard(pauses, platformPauseModule); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformPaused, err)
	}
	return nil
}

// SubscriptionID derives the subscription key from buyer, product and start
// time. Two purchases of the same product by the same buyer within one second
// share an id and the later one overwrites the earlier.
func SubscriptionID(buyer [20]byte, productID uint64, start int64) [32]byte {
	buf := make([]byte, 0, 36)
	buf = append(buf, buyer[:]...)
	buf = binary.BigEndian.AppendUint64(buf, productID)
	buf = binary.BigEndian.AppendUint64(buf, uint64(start))
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// PurchaseProduct settles a purchase of productID by buyer, who has already
// transferred paid to the store. The first purchase binds referrer for good;
// later purchases ignore the argument. Any mandatory transfer failure returns
// an error and the caller must discard the call's effects.
func (e *Engine) PurchaseProduct(ctx context.Context, buyer [20]byte, productID uint64, referrer [20]byte, paid *big.Int) (*Receipt, error) {
	if err := e.purchaseLock.Enter(); err != nil {
		return nil, err
	}
	defer e.purchaseLock.Exit()

	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if err := e.checkPauses(cfg); err != nil {
		return nil, err
	}
	product, err := e.Product(productID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: %d", ErrProductInactive, productID)
	}
	if product.Type == ProductSubscription && !durationFits(e.now().Unix(), product.Duration) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, product.Duration)
	}
	if paid == nil {
		paid = big.NewInt(0)
	}
	price := product.Price
	if paid.Cmp(price) < 0 {
		return nil, fmt.Errorf("%w: paid %s price %s", ErrInsufficientPayment, paid, price)
	}
	split, err := e.split(cfg, price)
	if err != nil {
		return nil, err
	}

	account, err := e.Account(buyer)
	if err != nil {
		return nil, err
	}
	if account.TotalSpent.Sign() == 0 {
		account.Referrer = referrer
		if err := e.bumpReferralCount(account, referrer); err != nil {
			return nil, err
		}
	}
	account.TotalSpent = new(big.Int).Add(account.TotalSpent, price)
	account.Active = true
	if err := e.state.CommissionAccountPut(e.self, account); err != nil {
		return nil, err
	}

	e.commission.SetSchedule(cfg.Schedule)
	e.commission.SetTreasury(cfg.Treasury)
	result, err := e.commission.Distribute(ctx, buyer, account.Referrer, price)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ProductID:      productID,
		Buyer:          buyer,
		Referrer:       account.Referrer,
		Price:          new(big.Int).Set(price),
		ScheduleTotal:  split.scheduleTotal,
		PaidCommission: result.Total,
		Levels:         result.Levels,
		PlatformCut:    split.platformCut,
		PlatformRouted: cfg.Factory,
		Remainder:      split.remainder,
		Refund:         new(big.Int).Sub(paid, price),
	}

	if split.platformCut.Sign() > 0 {
		if _, err := e.ledger.Call(ctx, e.self, cfg.Factory, split.platformCut, receiveCommissionPayload); err != nil {
			e.logger.Debug("platform push failed, routing to treasury",
				slog.String("store", crypto.HexAddress(e.self)),
				slog.Any("error", err))
			if err := common.PushMandatory(ctx, e.ledger, e.self, cfg.Treasury, split.platformCut); err != nil {
				return nil, err
			}
			receipt.PlatformRouted = cfg.Treasury
		}
	}

	if product.Type == ProductSubscription {
		start := e.now().Unix()
		sub := &Subscription{
			ID:        SubscriptionID(buyer, productID, start),
			Buyer:     buyer,
			ProductID: productID,
			Start:     start,
			End:       start + int64(product.Duration),
		}
		if err := e.state.StoreSubscriptionPut(e.self, sub); err != nil {
			return nil, err
		}
		receipt.Subscription = sub
		e.emit(subscriptionCreatedEvent(e.self, sub))
	}

	if err := common.PushMandatory(ctx, e.ledger, e.self, cfg.Treasury, split.remainder); err != nil {
		return nil, err
	}
	if err := common.PushMandatory(ctx, e.ledger, e.self, buyer, receipt.Refund); err != nil {
		return nil, err
	}

	e.emit(purchaseCompletedEvent(e.self, product.Type, receipt))
	return receipt, nil
}

func (e *Engine) bumpReferralCount(account *commission.Account, referrer [20]byte) error {
	// Only referrals of other buyers count.
	if common.IsZeroAddress(referrer) || referrer == account.Buyer {
		return nil
	}
	ref, err := e.Account(referrer)
	if err != nil {
		return err
	}
	ref.ReferralCount++
	return e.state.CommissionAccountPut(e.self, ref)
}
