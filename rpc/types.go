package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	"storechain/crypto"
	"storechain/integrations/indexer"
	"storechain/native/commission"
	"storechain/native/factory"
	"storechain/native/multisig"
	"storechain/native/store"
)

// CallRequest is the body of POST /v1/call. The caller is taken from the
// bearer token.
type CallRequest struct {
	To     string          `json:"to"`
	Value  string          `json:"value,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type CallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Events []EventView     `json:"events"`
}

type EventView struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Sequence   uint64            `json:"sequence,omitempty"`
	CreatedAt  int64             `json:"createdAt,omitempty"`
}

type BalanceView struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type ProductView struct {
	ID         uint64 `json:"id"`
	Price      string `json:"price"`
	Type       string `json:"type"`
	Duration   uint64 `json:"duration"`
	ContentRef string `json:"contentRef"`
	Active     bool   `json:"active"`
	CreatedAt  int64  `json:"createdAt"`
}

func productView(p *store.Product) ProductView {
	return ProductView{
		ID:         p.ID,
		Price:      amountString(p.Price),
		Type:       p.Type.String(),
		Duration:   p.Duration,
		ContentRef: p.ContentRef,
		Active:     p.Active,
		CreatedAt:  p.CreatedAt,
	}
}

type BuyerView struct {
	Buyer             string `json:"buyer"`
	Referrer          string `json:"referrer"`
	TotalSpent        string `json:"totalSpent"`
	ReferralCount     uint64 `json:"referralCount"`
	CommissionsEarned string `json:"commissionsEarned"`
	Active            bool   `json:"active"`
}

func buyerView(a *commission.Account) BuyerView {
	return BuyerView{
		Buyer:             crypto.HexAddress(a.Buyer),
		Referrer:          crypto.HexAddress(a.Referrer),
		TotalSpent:        amountString(a.TotalSpent),
		ReferralCount:     a.ReferralCount,
		CommissionsEarned: amountString(a.CommissionsEarned),
		Active:            a.Active,
	}
}

type TransactionView struct {
	ID            uint64   `json:"id"`
	Target        string   `json:"target"`
	Value         string   `json:"value"`
	Payload       string   `json:"payload,omitempty"`
	Description   string   `json:"description"`
	Status        string   `json:"status"`
	Executed      bool     `json:"executed"`
	Confirmations []string `json:"confirmations"`
	Submitter     string   `json:"submitter"`
	SubmittedAt   int64    `json:"submittedAt"`
	ExecutedAt    int64    `json:"executedAt,omitempty"`
}

func transactionView(tx *multisig.Transaction) TransactionView {
	view := TransactionView{
		ID:            tx.ID,
		Target:        crypto.HexAddress(tx.Target),
		Value:         amountString(tx.Value),
		Payload:       string(tx.Payload),
		Description:   tx.Description,
		Status:        tx.Status().String(),
		Executed:      tx.Executed,
		Confirmations: hexAddresses(tx.Confirmations),
		Submitter:     crypto.HexAddress(tx.Submitter),
		SubmittedAt:   tx.SubmittedAt,
		ExecutedAt:    tx.ExecutedAt,
	}
	return view
}

type SubscriptionView struct {
	ID        string `json:"id"`
	Buyer     string `json:"buyer"`
	ProductID uint64 `json:"productId"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

func subscriptionView(s *store.Subscription) SubscriptionView {
	return SubscriptionView{
		ID:        "0x" + hex.EncodeToString(s.ID[:]),
		Buyer:     crypto.HexAddress(s.Buyer),
		ProductID: s.ProductID,
		Start:     s.Start,
		End:       s.End,
	}
}

type OwnersView struct {
	Owners    []string `json:"owners"`
	Threshold uint64   `json:"threshold"`
	TxCount   uint64   `json:"transactionCount"`
}

type ScheduleView struct {
	Levels        []uint64 `json:"levels"`
	ReferralRate  uint64   `json:"referralRate"`
	Treasury      string   `json:"treasury"`
	Factory       string   `json:"factory"`
	Paused        bool     `json:"paused"`
	ProductCount  uint64   `json:"productCount"`
}

type QuoteView struct {
	ProductID     uint64 `json:"productId"`
	Price         string `json:"price"`
	ScheduleTotal string `json:"scheduleTotal"`
	PlatformRate  uint64 `json:"platformRate"`
	PlatformCut   string `json:"platformCut"`
	Remainder     string `json:"remainder"`
}

func quoteView(q *store.Quote) QuoteView {
	return QuoteView{
		ProductID:     q.ProductID,
		Price:         amountString(q.Price),
		ScheduleTotal: amountString(q.ScheduleTotal),
		PlatformRate:  q.PlatformRate,
		PlatformCut:   amountString(q.PlatformCut),
		Remainder:     amountString(q.Remainder),
	}
}

type FactoryView struct {
	Address           string   `json:"address"`
	Owner             string   `json:"owner"`
	PlatformRate      uint64   `json:"platformRate"`
	GlobalPause       bool     `json:"globalPause"`
	OpenCreation      bool     `json:"openCreation"`
	RejectCommissions bool     `json:"rejectCommissions"`
	Accrued           string   `json:"accrued"`
	Stores            []string `json:"stores"`
}

func factoryView(addr [20]byte, cfg *factory.Config) FactoryView {
	return FactoryView{
		Address:           crypto.HexAddress(addr),
		Owner:             crypto.HexAddress(cfg.Owner),
		PlatformRate:      cfg.PlatformRate,
		GlobalPause:       cfg.GlobalPause,
		OpenCreation:      cfg.OpenCreation,
		RejectCommissions: cfg.RejectCommissions,
		Accrued:           amountString(cfg.Accrued),
		Stores:            hexAddresses(cfg.Stores),
	}
}

type PurchaseView struct {
	Sequence       uint64 `json:"sequence"`
	Store          string `json:"store"`
	Buyer          string `json:"buyer"`
	Referrer       string `json:"referrer"`
	ProductID      uint64 `json:"productId"`
	Price          string `json:"price"`
	ScheduleTotal  string `json:"scheduleTotal"`
	PaidCommission string `json:"paidCommission"`
	PlatformCut    string `json:"platformCut"`
	Remainder      string `json:"remainder"`
	Refund         string `json:"refund"`
	CreatedAt      int64  `json:"createdAt"`
}

func purchaseView(p indexer.PurchaseRecord) PurchaseView {
	return PurchaseView{
		Sequence:       p.Sequence,
		Store:          p.Store,
		Buyer:          p.Buyer,
		Referrer:       p.Referrer,
		ProductID:      p.ProductID,
		Price:          p.Price,
		ScheduleTotal:  p.ScheduleTotal,
		PaidCommission: p.PaidCommission,
		PlatformCut:    p.PlatformCut,
		Remainder:      p.Remainder,
		Refund:         p.Refund,
		CreatedAt:      p.CreatedAt.Unix(),
	}
}

func hexAddresses(addrs [][20]byte) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, crypto.HexAddress(addr))
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
