package store

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storechain/core/events"
	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/commission"
	"storechain/native/common"
	"storechain/native/multisig"
)

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	storeAddr    = addr(0xE0)
	treasuryAddr = addr(0xE1)
	factoryAddr  = addr(0xE2)
	ownerA       = addr(0xA1)
	ownerB       = addr(0xA2)
	ownerC       = addr(0xA3)
	buyerAddr    = addr(0x10)
	stranger     = addr(0x99)
)

type fixture struct {
	t        *testing.T
	engine   *Engine
	contract *Contract
	state    *mockState
	ledger   *mockLedger
	platform *mockPlatform
	recorder *events.Recorder
	now      time.Time
}

func newFixture(t *testing.T, owners [][20]byte, threshold uint64) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		state:    newMockState(),
		ledger:   newMockLedger(),
		platform: &mockPlatform{rate: 5},
		recorder: &events.Recorder{},
		now:      time.Unix(1_700_000_000, 0),
	}
	f.engine = NewEngine(storeAddr)
	f.engine.SetState(f.state)
	f.engine.SetLedger(f.ledger)
	f.engine.SetEmitter(f.recorder)
	f.engine.SetPlatform(f.platform)
	f.engine.SetNowFunc(func() time.Time { return f.now })
	require.NoError(t, f.engine.Init(InitParams{
		Owners:    owners,
		Threshold: threshold,
		Treasury:  treasuryAddr,
		Factory:   factoryAddr,
		Schedule:  commission.Schedule{Levels: []uint64{50, 20, 15, 10, 5}, ReferralRate: 10},
	}))
	f.contract = NewContract(f.engine)
	f.ledger.contracts[storeAddr] = f.contract
	return f
}

func (f *fixture) product(price int64, kind ProductType, duration uint64) uint64 {
	f.t.Helper()
	id, err := f.engine.CreateProduct(ownerA, ProductParams{
		Price:      big.NewInt(price),
		Type:       kind,
		Duration:   duration,
		ContentRef: "ipfs://content",
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) buy(buyer [20]byte, productID uint64, referrer [20]byte, paid int64) (*Receipt, error) {
	f.ledger.fund(f.engine.Address(), paid)
	return f.engine.PurchaseProduct(context.Background(), buyer, productID, referrer, big.NewInt(paid))
}

func (f *fixture) balance(a [20]byte) *big.Int {
	bal, _ := f.ledger.Balance(a)
	return bal
}

func TestPurchaseWithoutReferrerSplitsPrice(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)

	receipt, err := f.buy(buyerAddr, id, [20]byte{}, 100)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9), receipt.ScheduleTotal)
	require.Zero(t, receipt.PaidCommission.Sign())
	require.Equal(t, big.NewInt(5), receipt.PlatformCut)
	require.Equal(t, big.NewInt(86), receipt.Remainder)
	require.Zero(t, receipt.Refund.Sign())

	require.Equal(t, big.NewInt(86), f.balance(treasuryAddr))
	require.Equal(t, big.NewInt(5), f.balance(factoryAddr))
	require.Equal(t, big.NewInt(9), f.balance(storeAddr), "unpaid schedule share stays pooled")
	require.Empty(t, f.ledger.payloads[buyerAddr], "no refund at exact price")

	evts := f.recorder.OfType(EventTypePurchaseCompleted)
	require.Len(t, evts, 1)
	attrs := events.ToTyped(evts[0]).Attributes
	require.Equal(t, "1", attrs["productId"])
	require.Equal(t, crypto.HexAddress(buyerAddr), attrs["buyer"])
	require.Equal(t, "100", attrs["price"])
}

func TestPurchaseRefundsOverpayment(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductPhysical, 0)

	receipt, err := f.buy(buyerAddr, id, [20]byte{}, 137)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(37), receipt.Refund)
	require.Equal(t, big.NewInt(37), f.balance(buyerAddr))
	require.Len(t, f.ledger.payloads[buyerAddr], 1)
}

func TestPurchasePaysReferrerChain(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)
	r1, r2, r3 := addr(1), addr(2), addr(3)

	_, err := f.buy(r3, id, [20]byte{}, 100)
	require.NoError(t, err)
	_, err = f.buy(r2, id, r3, 100)
	require.NoError(t, err)
	_, err = f.buy(r1, id, r2, 100)
	require.NoError(t, err)

	before := map[[20]byte]*big.Int{r1: f.balance(r1), r2: f.balance(r2), r3: f.balance(r3)}
	receipt, err := f.buy(buyerAddr, id, r1, 100)
	require.NoError(t, err)
	require.Len(t, receipt.Levels, 3)
	require.Equal(t, big.NewInt(8), receipt.PaidCommission)
	require.Equal(t, big.NewInt(9), receipt.ScheduleTotal)

	for referrer, want := range map[[20]byte]int64{r1: 5, r2: 2, r3: 1} {
		delta := new(big.Int).Sub(f.balance(referrer), before[referrer])
		require.Equal(t, big.NewInt(want), delta)
	}
	require.Len(t, f.recorder.OfType(EventTypeReferralPaid), 3+2+1)

	account, err := f.engine.Account(r1)
	require.NoError(t, err)
	require.EqualValues(t, 1, account.ReferralCount)
	require.Equal(t, r2, account.Referrer)
}

func TestReferrerIsBoundOnFirstPurchase(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)
	first, second := addr(1), addr(2)

	_, err := f.buy(buyerAddr, id, first, 100)
	require.NoError(t, err)
	receipt, err := f.buy(buyerAddr, id, second, 100)
	require.NoError(t, err)
	require.Equal(t, first, receipt.Referrer)

	account, err := f.engine.Account(buyerAddr)
	require.NoError(t, err)
	require.Equal(t, first, account.Referrer)
	require.Equal(t, big.NewInt(200), account.TotalSpent)
	require.True(t, account.Active)

	ref, err := f.engine.Account(first)
	require.NoError(t, err)
	require.EqualValues(t, 1, ref.ReferralCount)
	require.False(t, ref.Active, "referrer without purchases stays inactive")
	other, err := f.engine.Account(second)
	require.NoError(t, err)
	require.Zero(t, other.ReferralCount)
	require.Zero(t, f.balance(first).Sign(), "inactive referrer earns nothing")
}

func TestSubscriptionPurchase(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductSubscription, 3600)

	receipt, err := f.buy(buyerAddr, id, [20]byte{}, 100)
	require.NoError(t, err)
	require.NotNil(t, receipt.Subscription)
	require.Equal(t, f.now.Unix(), receipt.Subscription.Start)
	require.Equal(t, f.now.Unix()+3600, receipt.Subscription.End)
	require.Equal(t, SubscriptionID(buyerAddr, id, f.now.Unix()), receipt.Subscription.ID)

	sub, err := f.engine.Subscription(receipt.Subscription.ID)
	require.NoError(t, err)
	require.Equal(t, buyerAddr, sub.Buyer)
	require.Len(t, f.recorder.OfType(EventTypeSubscriptionCreated), 1)

	_, err = f.engine.Subscription([32]byte{1})
	require.ErrorIs(t, err, ErrSubscriptionMissing)
}

func TestSubscriptionDurationIsBounded(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)

	_, err := f.engine.CreateProduct(ownerA, ProductParams{
		Price:      big.NewInt(100),
		Type:       ProductSubscription,
		Duration:   1 << 63,
		ContentRef: "ipfs://forever",
	})
	require.ErrorIs(t, err, ErrInvalidDuration)

	longest := uint64(math.MaxInt64 - f.now.Unix())
	id := f.product(100, ProductSubscription, longest)
	receipt, err := f.buy(buyerAddr, id, [20]byte{}, 100)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), receipt.Subscription.End)
	require.Greater(t, receipt.Subscription.End, receipt.Subscription.Start)

	// Clock moved on: the same duration no longer fits and the purchase fails
	// instead of wrapping.
	f.now = f.now.Add(time.Second)
	_, err = f.buy(addr(0x11), id, [20]byte{}, 100)
	require.ErrorIs(t, err, ErrInvalidDuration)
}

func TestSelfReferralIsNotCounted(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)

	receipt, err := f.buy(buyerAddr, id, buyerAddr, 100)
	require.NoError(t, err)
	require.Empty(t, receipt.Levels)
	require.Zero(t, receipt.PaidCommission.Sign())

	account, err := f.engine.Account(buyerAddr)
	require.NoError(t, err)
	require.Zero(t, account.ReferralCount)
}

func TestPurchaseRejections(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)

	_, err := f.buy(buyerAddr, id, [20]byte{}, 99)
	require.ErrorIs(t, err, ErrInsufficientPayment)

	_, err = f.buy(buyerAddr, 42, [20]byte{}, 100)
	require.ErrorIs(t, err, ErrProductNotFound)

	active, err := f.engine.ToggleProductActive(ownerA, id)
	require.NoError(t, err)
	require.False(t, active)
	_, err = f.buy(buyerAddr, id, [20]byte{}, 100)
	require.ErrorIs(t, err, ErrProductInactive)
}

func TestPausesBlockPurchasesOnly(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)

	require.NoError(t, f.engine.SetEmergencyPause(ownerA, true))
	_, err := f.buy(buyerAddr, id, [20]byte{}, 100)
	require.ErrorIs(t, err, ErrStorePaused)
	_, err = f.engine.Governance().Submit(ownerA, stranger, big.NewInt(0), nil, "still allowed")
	require.NoError(t, err)
	require.NoError(t, f.engine.SetEmergencyPause(ownerA, false))

	f.platform.paused = true
	_, err = f.buy(buyerAddr, id, [20]byte{}, 100)
	require.ErrorIs(t, err, ErrPlatformPaused)

	f.platform.paused = false
	_, err = f.buy(buyerAddr, id, [20]byte{}, 100)
	require.NoError(t, err)

	f.platform.pauseFn = func() (bool, error) { return false, context.DeadlineExceeded }
	_, err = f.buy(buyerAddr, id, [20]byte{}, 100)
	require.ErrorIs(t, err, ErrPlatformPaused)
}

func TestPlatformCutFallsBackToTreasury(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)
	f.ledger.reject[factoryAddr] = true

	receipt, err := f.buy(buyerAddr, id, [20]byte{}, 100)
	require.NoError(t, err)
	require.Equal(t, treasuryAddr, receipt.PlatformRouted)
	require.Equal(t, big.NewInt(86+5), f.balance(treasuryAddr))
	require.Zero(t, f.balance(factoryAddr).Sign())
}

func TestTreasuryFailureAbortsPurchase(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)
	f.ledger.reject[treasuryAddr] = true

	_, err := f.buy(buyerAddr, id, [20]byte{}, 100)
	require.ErrorIs(t, err, common.ErrMandatoryTransfer)
	require.False(t, f.engine.purchaseLock.Held())
}

func TestNegativeRemainderIsRejected(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)
	require.NoError(t, f.engine.SetLevelCommissions(ownerA, []uint64{100}))
	require.NoError(t, f.engine.SetReferralRate(ownerA, 100))

	_, err := f.buy(buyerAddr, id, [20]byte{}, 100)
	require.ErrorIs(t, err, ErrNegativeRemainder)

	_, err = f.engine.Quote(id)
	require.ErrorIs(t, err, ErrNegativeRemainder)
}

type reentrantReferrer struct {
	ledger    *mockLedger
	self      [20]byte
	productID uint64
	attempts  int
}

func (r *reentrantReferrer) Invoke(ctx context.Context, msg common.Message) ([]byte, error) {
	r.attempts++
	payload := types.MustEncodeCall(MethodPurchaseProduct, PurchaseParams{ProductID: r.productID})
	return r.ledger.Call(ctx, r.self, storeAddr, big.NewInt(0), payload)
}

func TestReentrantReferrerIsRoutedToTreasury(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(100, ProductDigital, 0)
	attacker := addr(0x66)

	_, err := f.buy(attacker, id, [20]byte{}, 100)
	require.NoError(t, err)
	referrer := &reentrantReferrer{ledger: f.ledger, self: attacker, productID: id}
	f.ledger.contracts[attacker] = referrer

	treasuryBefore := f.balance(treasuryAddr)
	receipt, err := f.buy(buyerAddr, id, attacker, 100)
	require.NoError(t, err)
	require.Equal(t, 1, referrer.attempts)
	require.Len(t, receipt.Levels, 1)
	require.True(t, receipt.Levels[0].Fallback)
	delta := new(big.Int).Sub(f.balance(treasuryAddr), treasuryBefore)
	require.Equal(t, big.NewInt(86+5), delta)
}

func TestOwnerGatedConfiguration(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)

	_, err := f.engine.CreateProduct(stranger, ProductParams{Price: big.NewInt(1), ContentRef: "x"})
	require.ErrorIs(t, err, multisig.ErrNotOwner)
	require.ErrorIs(t, f.engine.SetEmergencyPause(stranger, true), multisig.ErrNotOwner)
	require.ErrorIs(t, f.engine.SetLevelCommissions(stranger, nil), multisig.ErrNotOwner)
	require.ErrorIs(t, f.engine.SetReferralRate(stranger, 1), multisig.ErrNotOwner)

	require.ErrorIs(t, f.engine.SetLevelCommissions(ownerA, []uint64{1, 1, 1, 1, 1, 1}), commission.ErrTooManyLevels)
	require.ErrorIs(t, f.engine.SetLevelCommissions(ownerA, []uint64{90, 20}), commission.ErrWeightOverflow)
	require.ErrorIs(t, f.engine.SetReferralRate(ownerA, 101), commission.ErrRateOutOfBounds)

	_, err = f.engine.CreateProduct(ownerA, ProductParams{Price: big.NewInt(0), ContentRef: "x"})
	require.ErrorIs(t, err, ErrInvalidPrice)
	_, err = f.engine.CreateProduct(ownerA, ProductParams{Price: big.NewInt(1), ContentRef: "  "})
	require.ErrorIs(t, err, ErrContentRequired)
	_, err = f.engine.CreateProduct(ownerA, ProductParams{Price: big.NewInt(1), Type: ProductSubscription, ContentRef: "x"})
	require.ErrorIs(t, err, ErrDurationRequired)

	id, err := f.engine.CreateProduct(ownerA, ProductParams{Price: big.NewInt(1), ContentRef: " cafe\u0301/menu "})
	require.NoError(t, err)
	product, err := f.engine.Product(id)
	require.NoError(t, err)
	require.Equal(t, "caf\u00e9/menu", product.ContentRef)

	require.NoError(t, f.engine.SetLevelCommissions(ownerA, []uint64{30, 30}))
	cfg, err := f.engine.Config()
	require.NoError(t, err)
	require.Equal(t, []uint64{30, 30}, cfg.Schedule.Levels)
	require.EqualValues(t, 10, cfg.Schedule.ReferralRate)
	require.Len(t, f.recorder.OfType(EventTypeScheduleUpdated), 1)
}

func TestQuoteExposesBothTotals(t *testing.T) {
	f := newFixture(t, [][20]byte{ownerA}, 1)
	id := f.product(1000, ProductDigital, 0)

	quote, err := f.engine.Quote(id)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(50+20+15+10+5), quote.ScheduleTotal)
	require.Equal(t, big.NewInt(50), quote.PlatformCut)
	require.Equal(t, big.NewInt(1000-100-50), quote.Remainder)
	require.EqualValues(t, 5, quote.PlatformRate)
}

func TestContractDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, [][20]byte{ownerA}, 1)

	out, err := f.ledger.invoke(ctx, ownerA, storeAddr, 0, types.MustEncodeCall(MethodCreateProduct, CreateProductParams{
		Price:      big.NewInt(100),
		Type:       ProductDigital,
		ContentRef: "ipfs://a",
	}))
	require.NoError(t, err)
	var created ProductIDParams
	require.NoError(t, json.Unmarshal(out, &created))
	require.EqualValues(t, 1, created.ProductID)

	out, err = f.ledger.invoke(ctx, buyerAddr, storeAddr, 120, types.MustEncodeCall(MethodPurchaseProduct, PurchaseParams{ProductID: 1}))
	require.NoError(t, err)
	var result PurchaseResult
	require.NoError(t, json.Unmarshal(out, &result))
	require.Equal(t, big.NewInt(20), result.Refund)
	require.Equal(t, big.NewInt(20), f.balance(buyerAddr))

	_, err = f.ledger.invoke(ctx, ownerA, storeAddr, 5, types.MustEncodeCall(MethodSetEmergencyPause, PauseParams{Paused: true}))
	require.ErrorIs(t, err, ErrNotPayable)

	_, err = f.ledger.invoke(ctx, ownerA, storeAddr, 0, types.MustEncodeCall("selfDestruct", nil))
	require.ErrorIs(t, err, ErrUnknownMethod)

	_, err = f.ledger.invoke(ctx, stranger, storeAddr, 40, nil)
	require.NoError(t, err)
	require.Len(t, f.recorder.OfType(EventTypeDeposit), 1)
}

func TestGovernanceThroughContract(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, [][20]byte{ownerA, ownerB}, 2)
	_, err := f.ledger.invoke(ctx, stranger, storeAddr, 500, nil)
	require.NoError(t, err)

	submit := func(caller [20]byte, params SubmitParams) uint64 {
		out, err := f.ledger.invoke(ctx, caller, storeAddr, 0, types.MustEncodeCall(MethodSubmitTransaction, params))
		require.NoError(t, err)
		var id TxIDParams
		require.NoError(t, json.Unmarshal(out, &id))
		return id.ID
	}
	confirm := func(caller [20]byte, id uint64) (bool, error) {
		out, err := f.ledger.invoke(ctx, caller, storeAddr, 0, types.MustEncodeCall(MethodConfirmTransaction, TxIDParams{ID: id}))
		if err != nil {
			return false, err
		}
		var res map[string]bool
		require.NoError(t, json.Unmarshal(out, &res))
		return res["executed"], nil
	}

	id := submit(ownerA, SubmitParams{Target: crypto.HexAddress(stranger), Value: big.NewInt(200), Description: "refund"})
	executed, err := confirm(ownerA, id)
	require.NoError(t, err)
	require.False(t, executed)
	executed, err = confirm(ownerB, id)
	require.NoError(t, err)
	require.True(t, executed)
	require.Equal(t, big.NewInt(300), f.balance(storeAddr))

	inner, err := json.Marshal(types.Call{Method: MethodAddOwner, Params: mustJSON(t, OwnerParams{Owner: crypto.HexAddress(ownerC)})})
	require.NoError(t, err)
	id = submit(ownerB, SubmitParams{Target: crypto.HexAddress(storeAddr), Payload: inner, Description: "add C"})
	_, err = confirm(ownerA, id)
	require.NoError(t, err)
	_, err = confirm(ownerB, id)
	require.NoError(t, err)
	owners, err := f.engine.Governance().Owners()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{ownerA, ownerB, ownerC}, owners)

	_, err = f.ledger.invoke(ctx, ownerA, storeAddr, 0, types.MustEncodeCall(MethodRemoveOwner, OwnerParams{Owner: crypto.HexAddress(ownerB)}))
	require.ErrorIs(t, err, multisig.ErrNotSelf)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
