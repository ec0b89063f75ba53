package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"storechain/core/events"
	"storechain/core/genesis"
	"storechain/core/host"
	"storechain/core/state"
	"storechain/crypto"
	"storechain/native/factory"
	"storechain/native/store"
	"storechain/storage"
)

const (
	kindFactory = "factory"
	kindStore   = "store"
)

// Options configures a node.
type Options struct {
	// Factory is the platform factory address. When zero it is derived from
	// the platform owner.
	Factory       [20]byte
	PlatformOwner [20]byte
	PlatformRate  uint64
	OpenCreation  bool
	Genesis       *genesis.Spec
	Emitter       events.Emitter
	Logger        *slog.Logger
	Now           func() time.Time
}

// Node is the central controller, wiring the state, the host and the native
// contracts together.
type Node struct {
	db          storage.Database
	host        *host.Host
	factory     *factory.Engine
	factoryAddr [20]byte
	logger      *slog.Logger
}

// NewNode opens the ledger over db, initialises the factory and applies the
// genesis allocations on first start, and restores every store created by
// an earlier run.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factoryAddr := opts.Factory
	if factoryAddr == ([20]byte{}) {
		factoryAddr = crypto.DeriveAddress(opts.PlatformOwner, 0)
	}

	h := host.New(state.NewManager(db))
	h.SetEmitter(opts.Emitter)
	h.SetLogger(logger.With(slog.String("component", "host")))
	h.SetNowFunc(opts.Now)

	n := &Node{
		db:          db,
		host:        h,
		factoryAddr: factoryAddr,
		logger:      logger,
	}
	n.factory = n.newFactoryEngine()

	err := h.Bootstrap(func(st *state.Manager) error {
		if err := n.factory.Init(opts.PlatformOwner, opts.PlatformRate, opts.OpenCreation); err != nil {
			return fmt.Errorf("init factory: %w", err)
		}
		if opts.Genesis == nil {
			return nil
		}
		if err := opts.Genesis.Apply(st); err != nil && !errors.Is(err, genesis.ErrAlreadyApplied) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := h.Register(factoryAddr, kindFactory, factory.NewContract(n.factory)); err != nil {
		return nil, err
	}

	stores, err := n.factory.Stores()
	if err != nil {
		return nil, err
	}
	for _, addr := range stores {
		if err := h.Register(addr, kindStore, store.NewContract(n.newStoreEngine(addr))); err != nil {
			return nil, fmt.Errorf("restore store %s: %w", crypto.HexAddress(addr), err)
		}
	}
	logger.Info("ledger ready",
		slog.String("factory", crypto.HexAddress(factoryAddr)),
		slog.Int("stores", len(stores)))
	return n, nil
}

func (n *Node) newFactoryEngine() *factory.Engine {
	engine := factory.NewEngine(n.factoryAddr)
	engine.SetState(n.host.State())
	engine.SetLedger(n.host)
	engine.SetDeployer(n)
	engine.SetEmitter(n.host.Emitter())
	engine.SetNowFunc(n.host.Now)
	return engine
}

func (n *Node) newStoreEngine(addr [20]byte) *store.Engine {
	engine := store.NewEngine(addr)
	engine.SetState(n.host.State())
	engine.SetLedger(n.host)
	engine.SetEmitter(n.host.Emitter())
	engine.SetLogger(n.logger.With(slog.String("store", crypto.HexAddress(addr))))
	engine.SetNowFunc(n.host.Now)
	engine.SetPlatform(n.factory)
	return engine
}

// DeployStore implements factory.Deployer. The deployment is part of the
// enclosing call and disappears if that call reverts.
func (n *Node) DeployStore(_ context.Context, addr [20]byte, params store.InitParams) error {
	engine := n.newStoreEngine(addr)
	if err := engine.Init(params); err != nil {
		return err
	}
	return n.host.Deploy(addr, kindStore, store.NewContract(engine))
}

// Apply executes one external call from the authenticated caller.
func (n *Node) Apply(ctx context.Context, from, to [20]byte, value *big.Int, payload []byte) (*host.Receipt, error) {
	receipt, err := n.host.Apply(ctx, from, to, value, payload)
	n.observeCommerce(receipt, err)
	return receipt, err
}

// Balance returns the committed balance of addr.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	var out *big.Int
	err := n.host.View(func() error {
		var err error
		out, err = n.host.Balance(addr)
		return err
	})
	return out, err
}

// FactoryAddress returns the platform factory identity.
func (n *Node) FactoryAddress() [20]byte { return n.factoryAddr }

// FactoryView runs fn against the factory with committed state.
func (n *Node) FactoryView(fn func(*factory.Engine) error) error {
	return n.host.View(func() error { return fn(n.factory) })
}

// StoreView runs fn against the store at addr with committed state. Unknown
// addresses return factory.ErrUnknownStore.
func (n *Node) StoreView(addr [20]byte, fn func(*store.Engine) error) error {
	return n.host.View(func() error {
		if _, err := n.factory.Store(addr); err != nil {
			return err
		}
		return fn(n.newStoreEngine(addr))
	})
}

// Host exposes the ledger host.
func (n *Node) Host() *host.Host { return n.host }

// Close releases the database.
func (n *Node) Close() {
	n.db.Close()
}

var _ factory.Deployer = (*Node)(nil)
