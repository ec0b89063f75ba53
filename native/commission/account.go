package commission

import "math/big"

// Account is the per-buyer ledger record kept by a store. It is created lazily
// on first purchase (or when the buyer is first named as a referrer) and the
// referrer link is never rewritten once bound.
type Account struct {
	Buyer             [20]byte `json:"buyer"`
	Referrer          [20]byte `json:"referrer"`
	TotalSpent        *big.Int `json:"totalSpent"`
	ReferralCount     uint64   `json:"referralCount"`
	CommissionsEarned *big.Int `json:"commissionsEarned"`
	Active            bool     `json:"active"`
}

// NewAccount returns an empty, inactive account for the buyer.
func NewAccount(buyer [20]byte) *Account {
	return &Account{
		Buyer:             buyer,
		TotalSpent:        big.NewInt(0),
		CommissionsEarned: big.NewInt(0),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.TotalSpent = newBigInt(a.TotalSpent)
	clone.CommissionsEarned = newBigInt(a.CommissionsEarned)
	return &clone
}

// Normalize replaces nil amounts with zero.
func (a *Account) Normalize() *Account {
	if a.TotalSpent == nil {
		a.TotalSpent = big.NewInt(0)
	}
	if a.CommissionsEarned == nil {
		a.CommissionsEarned = big.NewInt(0)
	}
	return a
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
