package factory

import (
	"math/big"

	"storechain/native/commission"
)

// Config is the platform-wide factory state.
type Config struct {
	Owner             [20]byte   `json:"owner"`
	PlatformRate      uint64     `json:"platformRate"`
	GlobalPause       bool       `json:"globalPause"`
	OpenCreation      bool       `json:"openCreation"`
	RejectCommissions bool       `json:"rejectCommissions"`
	StoreCount        uint64     `json:"storeCount"`
	Stores            [][20]byte `json:"stores"`
	Accrued           *big.Int   `json:"accrued"`
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Stores = append([][20]byte(nil), c.Stores...)
	if c.Accrued != nil {
		clone.Accrued = new(big.Int).Set(c.Accrued)
	} else {
		clone.Accrued = big.NewInt(0)
	}
	return &clone
}

// StoreRecord tracks a store created by the factory.
type StoreRecord struct {
	Address   [20]byte `json:"address"`
	Creator   [20]byte `json:"creator"`
	Seq       uint64   `json:"seq"`
	CreatedAt int64    `json:"createdAt"`
	Collected *big.Int `json:"collected"`
}

// Clone returns a deep copy of the record.
func (r *StoreRecord) Clone() *StoreRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Collected != nil {
		clone.Collected = new(big.Int).Set(r.Collected)
	} else {
		clone.Collected = big.NewInt(0)
	}
	return &clone
}

// StoreParams are the caller-supplied inputs for CreateStore.
type StoreParams struct {
	Owners    [][20]byte
	Threshold uint64
	Treasury  [20]byte
	Schedule  commission.Schedule
}
