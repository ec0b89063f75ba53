package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"storechain/core/types"
	"storechain/crypto"
	"storechain/integrations/exports"
	"storechain/integrations/indexer"
	"storechain/native/factory"
	"storechain/native/store"
)

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	var req CallRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	to, err := crypto.ParseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target", err)
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid value", err)
		return
	}
	payload, err := encodePayload(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call", err)
		return
	}
	receipt, err := s.backend.Apply(r.Context(), caller, to, value, payload)
	if err != nil {
		writeError(w, statusFor(err), "call failed", err)
		return
	}
	resp := CallResponse{Events: make([]EventView, 0, len(receipt.Events))}
	if len(receipt.Result) > 0 {
		if json.Valid(receipt.Result) {
			resp.Result = json.RawMessage(receipt.Result)
		} else {
			quoted, _ := json.Marshal("0x" + hex.EncodeToString(receipt.Result))
			resp.Result = quoted
		}
	}
	for _, evt := range receipt.Events {
		if evt == nil {
			continue
		}
		resp.Events = append(resp.Events, EventView{Type: evt.Type, Attributes: evt.Attributes})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseValue(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", raw)
	}
	if value.Sign() < 0 {
		return nil, errors.New("value must not be negative")
	}
	return value, nil
}

// encodePayload builds the call payload. A request without a method is a
// plain value push.
func encodePayload(req CallRequest) ([]byte, error) {
	method := strings.TrimSpace(req.Method)
	params := strings.TrimSpace(string(req.Params))
	if method == "" {
		if params != "" && params != "null" {
			return nil, errors.New("params given without a method")
		}
		return nil, nil
	}
	if params == "" || params == "null" {
		return types.EncodeCall(method, nil)
	}
	return types.EncodeCall(method, req.Params)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	balance, err := s.backend.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceView{Address: crypto.HexAddress(addr), Balance: amountString(balance)})
}

func (s *Server) handleFactory(w http.ResponseWriter, _ *http.Request) {
	var view FactoryView
	err := s.backend.FactoryView(func(f *factory.Engine) error {
		cfg, err := f.Config()
		if err != nil {
			return err
		}
		view = factoryView(s.backend.FactoryAddress(), cfg)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "factory lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// storeRead resolves {store} and runs fn with a read-only engine. It writes
// the error response itself and reports whether fn succeeded.
func (s *Server) storeRead(w http.ResponseWriter, r *http.Request, fn func(*store.Engine) error) bool {
	addr, ok := pathAddress(w, r, "store")
	if !ok {
		return false
	}
	err := s.backend.StoreView(addr, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, factory.ErrUnknownStore):
		writeError(w, http.StatusNotFound, "store not found", err)
	default:
		writeError(w, statusFor(err), "store lookup failed", err)
	}
	return false
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var view ProductView
	if s.storeRead(w, r, func(e *store.Engine) error {
		product, err := e.Product(id)
		if err != nil {
			return err
		}
		view = productView(product)
		return nil
	}) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleBuyer(w http.ResponseWriter, r *http.Request) {
	buyer, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	var view BuyerView
	if s.storeRead(w, r, func(e *store.Engine) error {
		account, err := e.Account(buyer)
		if err != nil {
			return err
		}
		view = buyerView(account)
		return nil
	}) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleBuyerPurchases(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer disabled", nil)
		return
	}
	storeAddr, ok := pathAddress(w, r, "store")
	if !ok {
		return
	}
	buyer, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	records, err := s.index.Purchases(r.Context(), crypto.HexAddress(storeAddr), crypto.HexAddress(buyer), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "purchase lookup failed", err)
		return
	}
	out := make([]PurchaseView, 0, len(records))
	for _, record := range records {
		out = append(out, purchaseView(record))
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePurchaseExport streams a store's indexed purchases as CSV (default),
// JSON Lines or Parquet. X-Content-SHA256 carries the payload checksum.
func (s *Server) handlePurchaseExport(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer disabled", nil)
		return
	}
	storeAddr, ok := pathAddress(w, r, "store")
	if !ok {
		return
	}
	var buyer string
	if raw := strings.TrimSpace(r.URL.Query().Get("buyer")); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid buyer", err)
			return
		}
		buyer = crypto.HexAddress(addr)
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	records, err := s.index.Purchases(r.Context(), crypto.HexAddress(storeAddr), buyer, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "purchase lookup failed", err)
		return
	}
	var (
		data        []byte
		checksum    string
		contentType string
	)
	switch format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))); format {
	case "", "csv":
		data, checksum, err = exports.PurchasesCSV(records)
		contentType = "text/csv"
	case "jsonl":
		data, checksum, err = exports.PurchasesJSONL(records)
		contentType = "application/x-ndjson"
	case "parquet":
		data, checksum, err = exports.PurchasesParquet(records)
		contentType = "application/vnd.apache.parquet"
	default:
		writeError(w, http.StatusBadRequest, "unsupported format", fmt.Errorf("format %q", format))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var view TransactionView
	if s.storeRead(w, r, func(e *store.Engine) error {
		tx, err := e.Governance().Transaction(id)
		if err != nil {
			return err
		}
		view = transactionView(tx)
		return nil
	}) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(strings.TrimPrefix(chi.URLParam(r, "id"), "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		writeError(w, http.StatusBadRequest, "invalid subscription id", err)
		return
	}
	var id [32]byte
	copy(id[:], decoded)
	var view SubscriptionView
	if s.storeRead(w, r, func(e *store.Engine) error {
		sub, err := e.Subscription(id)
		if err != nil {
			return err
		}
		view = subscriptionView(sub)
		return nil
	}) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	var view OwnersView
	if s.storeRead(w, r, func(e *store.Engine) error {
		gov := e.Governance()
		owners, err := gov.Owners()
		if err != nil {
			return err
		}
		threshold, err := gov.Threshold()
		if err != nil {
			return err
		}
		count, err := gov.TransactionCount()
		if err != nil {
			return err
		}
		view = OwnersView{Owners: hexAddresses(owners), Threshold: threshold, TxCount: count}
		return nil
	}) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var view ScheduleView
	if s.storeRead(w, r, func(e *store.Engine) error {
		cfg, err := e.Config()
		if err != nil {
			return err
		}
		levels := cfg.Schedule.Levels
		if levels == nil {
			levels = []uint64{}
		}
		view = ScheduleView{
			Levels:       levels,
			ReferralRate: cfg.Schedule.ReferralRate,
			Treasury:     crypto.HexAddress(cfg.Treasury),
			Factory:      crypto.HexAddress(cfg.Factory),
			Paused:       cfg.Paused,
			ProductCount: cfg.ProductCount,
		}
		return nil
	}) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var view QuoteView
	if s.storeRead(w, r, func(e *store.Engine) error {
		quote, err := e.Quote(id)
		if err != nil {
			return err
		}
		view = quoteView(quote)
		return nil
	}) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer disabled", nil)
		return
	}
	q := r.URL.Query()
	filter := indexer.Filter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := strings.TrimSpace(q.Get("store")); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid store", err)
			return
		}
		filter.Store = crypto.HexAddress(addr)
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor", err)
			return
		}
		filter.After = after
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	filter.Limit = limit
	records, err := s.index.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "event query failed", err)
		return
	}
	out := make([]EventView, 0, len(records))
	for _, record := range records {
		attrs, err := record.Decode()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "corrupt event record", err)
			return
		}
		out = append(out, EventView{
			Type:       record.Type,
			Attributes: attrs,
			Sequence:   record.Sequence,
			CreatedAt:  record.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) ([20]byte, bool) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return addr, false
	}
	return addr, true
}

func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	value, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return 0, false
	}
	return value, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
