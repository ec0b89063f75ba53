package store

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"storechain/native/commission"
)

// ProductType classifies what a purchase delivers.
type ProductType uint8

const (
	ProductDigital ProductType = iota
	ProductPhysical
	ProductSubscription
)

// ErrInvalidProductType rejects names and values outside the known product types.
var ErrInvalidProductType = errors.New("store: invalid product type")

// String returns the canonical upper-case name.
func (t ProductType) String() string {
	switch t {
	case ProductDigital:
		return "DIGITAL"
	case ProductPhysical:
		return "PHYSICAL"
	case ProductSubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the type is one of the known product types.
func (t ProductType) Valid() bool { return t <= ProductSubscription }

// ParseProductType accepts the canonical names case-insensitively.
func ParseProductType(value string) (ProductType, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "DIGITAL":
		return ProductDigital, nil
	case "PHYSICAL":
		return ProductPhysical, nil
	case "SUBSCRIPTION":
		return ProductSubscription, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidProductType, value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ProductType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ProductType) UnmarshalText(text []byte) error {
	parsed, err := ParseProductType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Product is a catalog entry. Only Active changes after creation.
type Product struct {
	ID         uint64      `json:"id"`
	Price      *big.Int    `json:"price"`
	Type       ProductType `json:"type"`
	Duration   uint64      `json:"duration"`
	ContentRef string      `json:"contentRef"`
	Active     bool        `json:"active"`
	CreatedAt  int64       `json:"createdAt"`
}

// Clone returns a deep copy of the product.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Price != nil {
		clone.Price = new(big.Int).Set(p.Price)
	}
	return &clone
}

// Subscription spans [Start, End] for a SUBSCRIPTION purchase.
type Subscription struct {
	ID        [32]byte `json:"id"`
	Buyer     [20]byte `json:"buyer"`
	ProductID uint64   `json:"productId"`
	Start     int64    `json:"start"`
	End       int64    `json:"end"`
}

// Clone returns a copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// Config is the mutable per-store configuration.
type Config struct {
	Treasury     [20]byte            `json:"treasury"`
	Factory      [20]byte            `json:"factory"`
	Schedule     commission.Schedule `json:"schedule"`
	Paused       bool                `json:"paused"`
	ProductCount uint64              `json:"productCount"`
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Schedule = c.Schedule.Clone()
	return &clone
}

// ProductParams carries the inputs for CreateProduct.
type ProductParams struct {
	Price      *big.Int
	Type       ProductType
	Duration   uint64
	ContentRef string
}

// Receipt reports how a purchase was settled. ScheduleTotal sizes the
// treasury remainder while PaidCommission is what the chain actually earned.
type Receipt struct {
	ProductID      uint64
	Buyer          [20]byte
	Referrer       [20]byte
	Price          *big.Int
	ScheduleTotal  *big.Int
	PaidCommission *big.Int
	Levels         []commission.LevelPayout
	PlatformCut    *big.Int
	PlatformRouted [20]byte
	Remainder      *big.Int
	Refund         *big.Int
	Subscription   *Subscription
}

// Quote previews the settlement of a product at its current configuration.
type Quote struct {
	ProductID     uint64   `json:"productId"`
	Price         *big.Int `json:"price"`
	ScheduleTotal *big.Int `json:"scheduleTotal"`
	PlatformRate  uint64   `json:"platformRate"`
	PlatformCut   *big.Int `json:"platformCut"`
	Remainder     *big.Int `json:"remainder"`
}
