package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/common"
)

// Store call methods.
const (
	MethodCreateProduct       = "createProduct"
	MethodToggleProductActive = "toggleProductActive"
	MethodSetLevelCommissions = "setLevelCommissions"
	MethodSetReferralRate     = "setReferralRate"
	MethodSetEmergencyPause   = "setEmergencyPause"
	MethodPurchaseProduct     = "purchaseProduct"
	MethodSubmitTransaction   = "submitTransaction"
	MethodConfirmTransaction  = "confirmTransaction"
	MethodExecuteTransaction  = "executeTransaction"
	MethodAddOwner            = "addOwner"
	MethodRemoveOwner         = "removeOwner"
	MethodChangeThreshold     = "changeThreshold"
)

var (
	ErrUnknownMethod = errors.New("store: unknown method")
	ErrNotPayable    = errors.New("store: method does not accept value")
)

type CreateProductParams struct {
	Price      *big.Int    `json:"price"`
	Type       ProductType `json:"type"`
	Duration   uint64      `json:"duration"`
	ContentRef string      `json:"contentRef"`
}

type ProductIDParams struct {
	ProductID uint64 `json:"productId"`
}

type LevelsParams struct {
	Levels []uint64 `json:"levels"`
}

type RateParams struct {
	Rate uint64 `json:"rate"`
}

type PauseParams struct {
	Paused bool `json:"paused"`
}

type PurchaseParams struct {
	ProductID uint64 `json:"productId"`
	Referrer  string `json:"referrer,omitempty"`
}

// SubmitParams carries a governance proposal. Payload is the call payload
// delivered to Target on execution, usually a {"method","params"} object.
type SubmitParams struct {
	Target      string          `json:"target"`
	Value       *big.Int        `json:"value,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Description string          `json:"description"`
}

type TxIDParams struct {
	ID uint64 `json:"id"`
}

type OwnerParams struct {
	Owner string `json:"owner"`
}

type ThresholdParams struct {
	Threshold uint64 `json:"threshold"`
}

// PurchaseResult is the JSON form of a Receipt.
type PurchaseResult struct {
	ProductID      uint64   `json:"productId"`
	Referrer       string   `json:"referrer"`
	Price          *big.Int `json:"price"`
	ScheduleTotal  *big.Int `json:"scheduleTotal"`
	PaidCommission *big.Int `json:"paidCommission"`
	PlatformCut    *big.Int `json:"platformCut"`
	PlatformRouted string   `json:"platformRoutedTo"`
	Remainder      *big.Int `json:"remainder"`
	Refund         *big.Int `json:"refund"`
	Subscription   string   `json:"subscriptionId,omitempty"`
}

// Contract adapts the engine to the ledger's call dispatch.
type Contract struct {
	engine *Engine
}

var _ common.Contract = (*Contract)(nil)

// NewContract wraps engine for deployment into the ledger.
func NewContract(engine *Engine) *Contract { return &Contract{engine: engine} }

// Engine returns the wrapped engine.
func (c *Contract) Engine() *Engine { return c.engine }

// Invoke dispatches a call. An empty payload is a deposit into the pooled
// balance.
func (c *Contract) Invoke(ctx context.Context, msg common.Message) ([]byte, error) {
	call, ok, err := types.DecodeCall(msg.Payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.engine.Deposit(msg.Caller, msg.Value)
	}
	if call.Method != MethodPurchaseProduct && msg.Value != nil && msg.Value.Sign() != 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotPayable, call.Method)
	}
	e := c.engine
	switch call.Method {
	case MethodCreateProduct:
		var p CreateProductParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		id, err := e.CreateProduct(msg.Caller, ProductParams{Price: p.Price, Type: p.Type, Duration: p.Duration, ContentRef: p.ContentRef})
		if err != nil {
			return nil, err
		}
		return json.Marshal(ProductIDParams{ProductID: id})
	case MethodToggleProductActive:
		var p ProductIDParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		active, err := e.ToggleProductActive(msg.Caller, p.ProductID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"active": active})
	case MethodSetLevelCommissions:
		var p LevelsParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.SetLevelCommissions(msg.Caller, p.Levels)
	case MethodSetReferralRate:
		var p RateParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.SetReferralRate(msg.Caller, p.Rate)
	case MethodSetEmergencyPause:
		var p PauseParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.SetEmergencyPause(msg.Caller, p.Paused)
	case MethodPurchaseProduct:
		return c.purchase(ctx, msg, call)
	case MethodSubmitTransaction:
		var p SubmitParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		target, err := crypto.ParseAddress(p.Target)
		if err != nil {
			return nil, err
		}
		payload := bytes.TrimSpace(p.Payload)
		if bytes.Equal(payload, []byte("null")) {
			payload = nil
		}
		id, err := e.governance.Submit(msg.Caller, target, p.Value, payload, p.Description)
		if err != nil {
			return nil, err
		}
		return json.Marshal(TxIDParams{ID: id})
	case MethodConfirmTransaction:
		var p TxIDParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		executed, err := e.governance.Confirm(ctx, msg.Caller, p.ID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"executed": executed})
	case MethodExecuteTransaction:
		var p TxIDParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.governance.Execute(ctx, msg.Caller, p.ID)
	case MethodAddOwner, MethodRemoveOwner:
		var p OwnerParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		owner, err := crypto.ParseAddress(p.Owner)
		if err != nil {
			return nil, err
		}
		if call.Method == MethodAddOwner {
			return nil, e.governance.AddOwner(msg.Caller, owner)
		}
		return nil, e.governance.RemoveOwner(msg.Caller, owner)
	case MethodChangeThreshold:
		var p ThresholdParams
		if err := call.Bind(&p); err != nil {
			return nil, err
		}
		return nil, e.governance.ChangeThreshold(msg.Caller, p.Threshold)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, call.Method)
	}
}

func (c *Contract) purchase(ctx context.Context, msg common.Message, call types.Call) ([]byte, error) {
	var p PurchaseParams
	if err := call.Bind(&p); err != nil {
		return nil, err
	}
	var referrer [20]byte
	if p.Referrer != "" {
		parsed, err := crypto.ParseAddress(p.Referrer)
		if err != nil {
			return nil, err
		}
		referrer = parsed
	}
	receipt, err := c.engine.PurchaseProduct(ctx, msg.Caller, p.ProductID, referrer, msg.Value)
	if err != nil {
		return nil, err
	}
	out := PurchaseResult{
		ProductID:      receipt.ProductID,
		Referrer:       crypto.HexAddress(receipt.Referrer),
		Price:          receipt.Price,
		ScheduleTotal:  receipt.ScheduleTotal,
		PaidCommission: receipt.PaidCommission,
		PlatformCut:    receipt.PlatformCut,
		PlatformRouted: crypto.HexAddress(receipt.PlatformRouted),
		Remainder:      receipt.Remainder,
		Refund:         receipt.Refund,
	}
	if receipt.Subscription != nil {
		out.Subscription = "0x" + hex.EncodeToString(receipt.Subscription.ID[:])
	}
	return json.Marshal(out)
}
