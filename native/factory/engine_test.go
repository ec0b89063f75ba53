package factory

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"storechain/core/events"
	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/commission"
	"storechain/native/common"
	"storechain/native/multisig"
	"storechain/native/store"
)

type mockState struct {
	configs map[[20]byte]*Config
	stores  map[[20]byte]*StoreRecord
}

func newMockState() *mockState {
	return &mockState{configs: make(map[[20]byte]*Config), stores: make(map[[20]byte]*StoreRecord)}
}

func (m *mockState) FactoryConfigGet(factory [20]byte) (*Config, bool, error) {
	cfg, ok := m.configs[factory]
	if !ok {
		return nil, false, nil
	}
	return cfg.Clone(), true, nil
}

func (m *mockState) FactoryConfigPut(factory [20]byte, cfg *Config) error {
	m.configs[factory] = cfg.Clone()
	return nil
}

func (m *mockState) FactoryStoreGet(_ [20]byte, addr [20]byte) (*StoreRecord, bool, error) {
	record, ok := m.stores[addr]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockState) FactoryStorePut(_ [20]byte, record *StoreRecord) error {
	m.stores[record.Address] = record.Clone()
	return nil
}

type mockDeployer struct {
	deployed map[[20]byte]store.InitParams
	err      error
}

func (d *mockDeployer) DeployStore(_ context.Context, addr [20]byte, params store.InitParams) error {
	if d.err != nil {
		return d.err
	}
	d.deployed[addr] = params
	return nil
}

type mockLedger struct {
	balances  map[[20]byte]*big.Int
	contracts map[[20]byte]common.Contract
}

func (l *mockLedger) Balance(addr [20]byte) (*big.Int, error) {
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (l *mockLedger) Call(ctx context.Context, from, to [20]byte, value *big.Int, payload []byte) ([]byte, error) {
	fromBal, _ := l.Balance(from)
	if fromBal.Cmp(value) < 0 {
		return nil, errors.New("insufficient balance")
	}
	toBal, _ := l.Balance(to)
	l.balances[from] = fromBal.Sub(fromBal, value)
	l.balances[to] = toBal.Add(toBal, value)
	if contract, ok := l.contracts[to]; ok {
		return contract.Invoke(ctx, common.Message{Caller: from, Self: to, Value: value, Payload: payload})
	}
	return nil, nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	factoryAddr   = addr(0xF0)
	platformOwner = addr(0x01)
	storeOwner    = addr(0x02)
	treasury      = addr(0x03)
	stranger      = addr(0x04)
)

func newTestEngine(t *testing.T, open bool) (*Engine, *mockDeployer, *mockLedger, *events.Recorder) {
	t.Helper()
	engine := NewEngine(factoryAddr)
	engine.SetState(newMockState())
	deployer := &mockDeployer{deployed: make(map[[20]byte]store.InitParams)}
	engine.SetDeployer(deployer)
	ledger := &mockLedger{balances: make(map[[20]byte]*big.Int), contracts: make(map[[20]byte]common.Contract)}
	ledger.contracts[factoryAddr] = NewContract(engine)
	engine.SetLedger(ledger)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	require.NoError(t, engine.Init(platformOwner, 5, open))
	return engine, deployer, ledger, recorder
}

func storeParams() StoreParams {
	return StoreParams{
		Owners:    [][20]byte{storeOwner},
		Threshold: 1,
		Treasury:  treasury,
		Schedule:  commission.Schedule{Levels: []uint64{50, 20, 15, 10, 5}, ReferralRate: 10},
	}
}

func TestInitKeepsExistingConfig(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, false)
	require.NoError(t, engine.SetPlatformRate(platformOwner, 7))
	require.NoError(t, engine.Init(platformOwner, 5, false))
	rate, err := engine.PlatformRate()
	require.NoError(t, err)
	require.EqualValues(t, 7, rate)
	require.ErrorIs(t, engine.Init(platformOwner, 101, false), ErrRateOutOfBounds)
}

func TestCreateStoreDerivesAddresses(t *testing.T) {
	ctx := context.Background()
	engine, deployer, _, recorder := newTestEngine(t, false)

	_, err := engine.CreateStore(ctx, stranger, storeParams())
	require.ErrorIs(t, err, ErrNotOwner)

	first, err := engine.CreateStore(ctx, platformOwner, storeParams())
	require.NoError(t, err)
	require.Equal(t, crypto.DeriveAddress(factoryAddr, 1), first)
	second, err := engine.CreateStore(ctx, platformOwner, storeParams())
	require.NoError(t, err)
	require.Equal(t, crypto.DeriveAddress(factoryAddr, 2), second)
	require.NotEqual(t, first, second)

	require.Equal(t, factoryAddr, deployer.deployed[first].Factory)
	require.Equal(t, treasury, deployer.deployed[first].Treasury)
	stores, err := engine.Stores()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{first, second}, stores)
	require.Len(t, recorder.OfType(EventTypeStoreCreated), 2)
}

func TestCreateStoreValidation(t *testing.T) {
	ctx := context.Background()
	engine, deployer, _, _ := newTestEngine(t, true)

	params := storeParams()
	params.Owners = [][20]byte{storeOwner, storeOwner}
	_, err := engine.CreateStore(ctx, stranger, params)
	require.ErrorIs(t, err, multisig.ErrDuplicateOwner)

	params = storeParams()
	params.Threshold = 2
	_, err = engine.CreateStore(ctx, stranger, params)
	require.ErrorIs(t, err, multisig.ErrInvalidThreshold)

	params = storeParams()
	params.Treasury = [20]byte{}
	_, err = engine.CreateStore(ctx, stranger, params)
	require.ErrorIs(t, err, ErrZeroTreasury)

	params = storeParams()
	params.Schedule.Levels = []uint64{60, 60}
	_, err = engine.CreateStore(ctx, stranger, params)
	require.ErrorIs(t, err, commission.ErrWeightOverflow)
	require.Empty(t, deployer.deployed)

	_, err = engine.CreateStore(ctx, stranger, storeParams())
	require.NoError(t, err, "open creation admits any caller")
}

func TestPauseAndRateAreOwnerGated(t *testing.T) {
	engine, _, _, recorder := newTestEngine(t, false)

	require.ErrorIs(t, engine.SetGlobalPause(stranger, true), ErrNotOwner)
	require.NoError(t, engine.SetGlobalPause(platformOwner, true))
	paused, err := engine.GlobalPauseActive()
	require.NoError(t, err)
	require.True(t, paused)

	require.ErrorIs(t, engine.SetPlatformRate(stranger, 3), ErrNotOwner)
	require.ErrorIs(t, engine.SetPlatformRate(platformOwner, 101), ErrRateOutOfBounds)
	require.NoError(t, engine.SetPlatformRate(platformOwner, 3))
	require.Len(t, recorder.OfType(EventTypePauseToggled), 1)
	require.Len(t, recorder.OfType(EventTypeRateUpdated), 1)
}

func TestCommissionSinkAndCollection(t *testing.T) {
	ctx := context.Background()
	engine, _, ledger, recorder := newTestEngine(t, false)
	storeAddr, err := engine.CreateStore(ctx, platformOwner, storeParams())
	require.NoError(t, err)
	ledger.balances[storeAddr] = big.NewInt(100)
	ledger.balances[stranger] = big.NewInt(100)
	payload := types.MustEncodeCall(MethodReceiveCommission, nil)

	_, err = ledger.Call(ctx, storeAddr, factoryAddr, big.NewInt(30), payload)
	require.NoError(t, err)
	_, err = ledger.Call(ctx, stranger, factoryAddr, big.NewInt(30), payload)
	require.ErrorIs(t, err, ErrUnknownStore)

	require.NoError(t, engine.SetRejectCommissions(platformOwner, true))
	require.ErrorIs(t, engine.ReceiveCommission(storeAddr, big.NewInt(1)), ErrCommissionsClosed)
	require.NoError(t, engine.SetRejectCommissions(platformOwner, false))
	rejected := recorder.OfType(EventTypeCommissionsRejected)
	require.Len(t, rejected, 2)
	require.Equal(t, "true", events.ToTyped(rejected[0]).Attributes["rejected"])
	require.Equal(t, "false", events.ToTyped(rejected[1]).Attributes["rejected"])
	require.ErrorIs(t, engine.SetRejectCommissions(stranger, true), ErrNotOwner)

	collected, err := engine.Collected(storeAddr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(30), collected)
	require.Len(t, recorder.OfType(EventTypeCommissionReceived), 1)

	_, err = engine.CollectCommissions(ctx, stranger, stranger)
	require.ErrorIs(t, err, ErrNotOwner)

	payee := addr(0x55)
	amount, err := engine.CollectCommissions(ctx, platformOwner, payee)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(30), amount)
	bal, _ := ledger.Balance(payee)
	require.Equal(t, big.NewInt(30), bal)

	amount, err = engine.CollectCommissions(ctx, platformOwner, payee)
	require.NoError(t, err)
	require.Zero(t, amount.Sign())
	collected, err = engine.Collected(storeAddr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(30), collected, "lifetime tally survives collection")
}

type reentrantPayee struct {
	engine *Engine
	err    error
}

func (p *reentrantPayee) Invoke(ctx context.Context, msg common.Message) ([]byte, error) {
	_, p.err = p.engine.CollectCommissions(ctx, platformOwner, msg.Self)
	return nil, p.err
}

func TestCollectCommissionsIsNonReentrant(t *testing.T) {
	ctx := context.Background()
	engine, _, ledger, _ := newTestEngine(t, false)
	storeAddr, err := engine.CreateStore(ctx, platformOwner, storeParams())
	require.NoError(t, err)
	ledger.balances[storeAddr] = big.NewInt(10)
	_, err = ledger.Call(ctx, storeAddr, factoryAddr, big.NewInt(10), types.MustEncodeCall(MethodReceiveCommission, nil))
	require.NoError(t, err)

	payee := addr(0x56)
	contract := &reentrantPayee{engine: engine}
	ledger.contracts[payee] = contract

	_, err = engine.CollectCommissions(ctx, platformOwner, payee)
	require.ErrorIs(t, err, common.ErrMandatoryTransfer)
	require.ErrorIs(t, contract.err, common.ErrReentrant)
}

func TestContractDispatch(t *testing.T) {
	ctx := context.Background()
	engine, _, ledger, _ := newTestEngine(t, false)

	_, err := ledger.Call(ctx, platformOwner, factoryAddr, big.NewInt(0), nil)
	require.ErrorIs(t, err, ErrNotPayable)

	out, err := ledger.Call(ctx, platformOwner, factoryAddr, big.NewInt(0), types.MustEncodeCall(MethodCreateStore, CreateStoreParams{
		Owners:       []string{crypto.HexAddress(storeOwner)},
		Threshold:    1,
		Treasury:     crypto.FromRaw(treasury).String(),
		Levels:       []uint64{10},
		ReferralRate: 50,
	}))
	require.NoError(t, err)
	var res map[string]string
	require.NoError(t, json.Unmarshal(out, &res))
	require.Equal(t, crypto.HexAddress(crypto.DeriveAddress(factoryAddr, 1)), res["store"])

	_, err = ledger.Call(ctx, platformOwner, factoryAddr, big.NewInt(0), types.MustEncodeCall("mint", nil))
	require.ErrorIs(t, err, ErrUnknownMethod)

	_, err = ledger.Call(ctx, platformOwner, factoryAddr, big.NewInt(0), types.MustEncodeCall(MethodSetGlobalPause, PauseParams{Paused: true}))
	require.NoError(t, err)
	paused, err := engine.GlobalPauseActive()
	require.NoError(t, err)
	require.True(t, paused)
}
