package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/commission"
	"storechain/native/common"
)

const (
	MethodCreateStore          = "createStore"
	MethodSetGlobalPause       = "setGlobalPause"
	MethodSetPlatformRate      = "setPlatformRate"
	MethodSetRejectCommissions = "setRejectCommissions"
	MethodReceiveCommission    = "receiveCommission"
	MethodCollectCommissions   = "collectCommissions"
)

var (
	ErrUnknownMethod = errors.New("factory: unknown method")
	ErrNotPayable    = errors.New("factory: method does not accept value")
)

type CreateStoreParams struct {
	Owners       []string `json:"owners"`
	Threshold    uint64   `json:"threshold"`
	Treasury     string   `json:"treasury"`
	Levels       []uint64 `json:"levels"`
	ReferralRate uint64   `json:"referralRate"`
}

type PauseParams struct {
	Paused bool `json:"paused"`
}

type RateParams struct {
	Rate uint64 `json:"rate"`
}

type RejectParams struct {
	Reject bool `json:"reject"`
}

type CollectParams struct {
	To string `json:"to"`
}

// Contract adapts the factory engine to the ledger's call dispatch.
type Contract struct {
	engine *Engine
}

var _ common.Contract = (*Contract)(nil)

func NewContract(engine *Engine) *Contract { return &Contract{engine: engine} }

// Invoke dispatches a factory call. Only receiveCommission accepts value.
func (c *Contract) Invoke(ctx context.Context, msg common.Message) ([]byte, error) {
	call, ok, err := types.DecodeCall(msg.Payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: plain transfer", ErrNotPayable)
	}
	if call.Method != MethodReceiveCommission && msg.Value != nil && msg.Value.Sign() != 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotPayable, call.Method)
	}
	e := c.engine
	switch call.Method {
	case MethodCreateStore:
		var p CreateStoreParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		params, err := p.toParams()
		if err != nil {
			return nil, err
		}
		addr, err := e.CreateStore(ctx, msg.Caller, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"store": crypto.HexAddress(addr)})
	case MethodSetGlobalPause:
		var p PauseParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.SetGlobalPause(msg.Caller, p.Paused)
	case MethodSetPlatformRate:
		var p RateParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.SetPlatformRate(msg.Caller, p.Rate)
	case MethodSetRejectCommissions:
		var p RejectParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.SetRejectCommissions(msg.Caller, p.Reject)
	case MethodReceiveCommission:
		return nil, e.ReceiveCommission(msg.Caller, msg.Value)
	case MethodCollectCommissions:
		var p CollectParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		to, err := crypto.ParseAddress(p.To)
		if err != nil {
			return nil, err
		}
		amount, err := e.CollectCommissions(ctx, msg.Caller, to)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"amount": amount.String()})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, call.Method)
	}
}

func (p CreateStoreParams) toParams() (StoreParams, error) {
	owners := make([][20]byte, 0, len(p.Owners))
	for _, raw := range p.Owners {
		owner, err := crypto.ParseAddress(raw)
		if err != nil {
			return StoreParams{}, fmt.Errorf("owner %q: %w", raw, err)
		}
		owners = append(owners, owner)
	}
	treasury, err := crypto.ParseAddress(p.Treasury)
	if err != nil {
		return StoreParams{}, fmt.Errorf("treasury: %w", err)
	}
	return StoreParams{
		Owners:    owners,
		Threshold: p.Threshold,
		Treasury:  treasury,
		Schedule:  commission.Schedule{Levels: p.Levels, ReferralRate: p.ReferralRate},
	}, nil
}
