package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"storechain/core"
	"storechain/core/events"
	"storechain/core/genesis"
	"storechain/crypto"
	"storechain/integrations/indexer"
	"storechain/native/factory"
	"storechain/native/store"
	"storechain/storage"
)

const (
	testSecret = "rpc-test-secret"
	testIssuer = "storechain-test"
)

func testAddr(b byte) [20]byte {
	var out [20]byte
	out[0] = 0xcc
	out[19] = b
	return out
}

var (
	platformOwner = testAddr(1)
	storeOwnerA   = testAddr(2)
	storeOwnerB   = testAddr(3)
	treasury      = testAddr(4)
	buyerOne      = testAddr(5)
	buyerTwo      = testAddr(6)
)

type testEnv struct {
	node        *core.Node
	server      *Server
	broadcaster *events.Broadcaster
	index       *indexer.Indexer
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	spec, err := genesis.NewSpec(map[string]string{
		crypto.HexAddress(buyerOne): "5000",
		crypto.HexAddress(buyerTwo): "5000",
	})
	require.NoError(t, err)

	db, err := indexer.Open(indexer.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	idx, err := indexer.New(db, nil)
	require.NoError(t, err)
	t.Cleanup(idx.Close)

	broadcaster := events.NewBroadcaster(16)
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		PlatformOwner: platformOwner,
		PlatformRate:  5,
		Genesis:       spec,
		Emitter:       events.Fanout{broadcaster, idx},
		Now:           func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	require.NoError(t, err)

	if limit.RatePerSecond == 0 {
		limit = RateLimit{RatePerSecond: 1000, Burst: 1000}
	}
	srv := NewServer(node, Config{
		Auth:      AuthConfig{HMACSecret: testSecret, Issuer: testIssuer},
		RateLimit: limit,
	}, nil)
	srv.SetIndex(idx)
	srv.SetStream(broadcaster)
	return &testEnv{node: node, server: srv, broadcaster: broadcaster, index: idx}
}

func token(t *testing.T, subject [20]byte) string {
	t.Helper()
	tok, err := IssueToken(testSecret, testIssuer, "", subject, time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func (env *testEnv) do(t *testing.T, method, path string, caller *[20]byte, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *caller))
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) call(t *testing.T, caller [20]byte, req CallRequest) CallResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/v1/call", &caller, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func params(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seedStore creates a store with levels 50/20/10 at rate 10 and one digital
// product priced 1000.
func (env *testEnv) seedStore(t *testing.T) ([20]byte, uint64) {
	t.Helper()
	resp := env.call(t, platformOwner, CallRequest{
		To:     crypto.HexAddress(env.node.FactoryAddress()),
		Method: factory.MethodCreateStore,
		Params: params(t, factory.CreateStoreParams{
			Owners:       []string{crypto.HexAddress(storeOwnerA), crypto.HexAddress(storeOwnerB)},
			Threshold:    2,
			Treasury:     crypto.HexAddress(treasury),
			Levels:       []uint64{50, 20, 10},
			ReferralRate: 10,
		}),
	})
	var created map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	storeAddr, err := crypto.ParseAddress(created["store"])
	require.NoError(t, err)

	resp = env.call(t, storeOwnerA, CallRequest{
		To:     crypto.HexAddress(storeAddr),
		Method: store.MethodCreateProduct,
		Params: params(t, store.CreateProductParams{Price: big.NewInt(1000), Type: store.ProductDigital, ContentRef: "ipfs://item"}),
	})
	var product store.ProductIDParams
	require.NoError(t, json.Unmarshal(resp.Result, &product))
	return storeAddr, product.ProductID
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCallRequiresToken(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodPost, "/v1/call", nil, CallRequest{To: crypto.HexAddress(buyerTwo), Value: "1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/call", strings.NewReader(`{"to":"0x00"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	out := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestCallTransfersValue(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	resp := env.call(t, buyerOne, CallRequest{To: crypto.HexAddress(buyerTwo), Value: "250"})
	require.Empty(t, resp.Events)

	rec := env.do(t, http.MethodGet, "/v1/accounts/"+crypto.HexAddress(buyerTwo), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "5250", decode[BalanceView](t, rec).Balance)

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+crypto.FromRaw(buyerOne).String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "4750", decode[BalanceView](t, rec).Balance)
}

func TestCallRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	cases := []struct {
		name string
		req  CallRequest
	}{
		{name: "bad target", req: CallRequest{To: "nope"}},
		{name: "negative value", req: CallRequest{To: crypto.HexAddress(buyerTwo), Value: "-1"}},
		{name: "non decimal value", req: CallRequest{To: crypto.HexAddress(buyerTwo), Value: "0x10"}},
		{name: "params without method", req: CallRequest{To: crypto.HexAddress(buyerTwo), Params: json.RawMessage(`{"a":1}`)}},
		{name: "overdraft", req: CallRequest{To: crypto.HexAddress(buyerTwo), Value: "9000"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/call", &buyerOne, tc.req)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.NotEmpty(t, decode[errorBody](t, rec).Error)
		})
	}
}

func TestPurchaseFlowAndReads(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	storeAddr, productID := env.seedStore(t)
	storeHex := crypto.HexAddress(storeAddr)

	env.call(t, buyerOne, CallRequest{
		To: storeHex, Value: "1000", Method: store.MethodPurchaseProduct,
		Params: params(t, store.PurchaseParams{ProductID: productID}),
	})
	resp := env.call(t, buyerTwo, CallRequest{
		To: storeHex, Value: "1100", Method: store.MethodPurchaseProduct,
		Params: params(t, store.PurchaseParams{ProductID: productID, Referrer: crypto.HexAddress(buyerOne)}),
	})
	var result store.PurchaseResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.EqualValues(t, 50, result.PaidCommission.Int64())
	require.EqualValues(t, 100, result.Refund.Int64())
	var types []string
	for _, evt := range resp.Events {
		types = append(types, evt.Type)
	}
	require.Contains(t, types, store.EventTypePurchaseCompleted)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/products/%d", storeHex, productID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	product := decode[ProductView](t, rec)
	require.Equal(t, "1000", product.Price)
	require.Equal(t, "DIGITAL", product.Type)
	require.True(t, product.Active)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/buyers/%s", storeHex, crypto.HexAddress(buyerOne)), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	buyer := decode[BuyerView](t, rec)
	require.Equal(t, "50", buyer.CommissionsEarned)
	require.EqualValues(t, 1, buyer.ReferralCount)
	require.Equal(t, "1000", buyer.TotalSpent)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/quote/%d", storeHex, productID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decode[QuoteView](t, rec)
	require.Equal(t, "80", quote.ScheduleTotal)
	require.Equal(t, "50", quote.PlatformCut)
	require.Equal(t, "870", quote.Remainder)

	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/schedule", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedule := decode[ScheduleView](t, rec)
	require.Equal(t, []uint64{50, 20, 10}, schedule.Levels)
	require.EqualValues(t, 10, schedule.ReferralRate)
	require.Equal(t, crypto.HexAddress(treasury), schedule.Treasury)

	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/owners", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	owners := decode[OwnersView](t, rec)
	require.Equal(t, []string{crypto.HexAddress(storeOwnerA), crypto.HexAddress(storeOwnerB)}, owners.Owners)
	require.EqualValues(t, 2, owners.Threshold)

	rec = env.do(t, http.MethodGet, "/v1/factory", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fv := decode[FactoryView](t, rec)
	require.EqualValues(t, 5, fv.PlatformRate)
	require.Equal(t, []string{storeHex}, fv.Stores)
	require.Equal(t, "100", fv.Accrued)
}

func TestGovernanceTransactionRead(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	storeAddr, _ := env.seedStore(t)
	storeHex := crypto.HexAddress(storeAddr)
	env.call(t, buyerOne, CallRequest{To: storeHex, Value: "500"})

	resp := env.call(t, storeOwnerA, CallRequest{
		To: storeHex, Method: store.MethodSubmitTransaction,
		Params: params(t, store.SubmitParams{Target: crypto.HexAddress(treasury), Value: big.NewInt(300), Description: "payout"}),
	})
	var submitted store.TxIDParams
	require.NoError(t, json.Unmarshal(resp.Result, &submitted))

	env.call(t, storeOwnerA, CallRequest{To: storeHex, Method: store.MethodConfirmTransaction, Params: params(t, store.TxIDParams{ID: submitted.ID})})
	rec := env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/transactions/%d", storeHex, submitted.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tx := decode[TransactionView](t, rec)
	require.Equal(t, "300", tx.Value)
	require.False(t, tx.Executed)
	require.Equal(t, []string{crypto.HexAddress(storeOwnerA)}, tx.Confirmations)

	rec = env.do(t, http.MethodPost, "/v1/call", &storeOwnerA, CallRequest{
		To: storeHex, Method: store.MethodConfirmTransaction, Params: params(t, store.TxIDParams{ID: submitted.ID}),
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	env.call(t, storeOwnerB, CallRequest{To: storeHex, Method: store.MethodConfirmTransaction, Params: params(t, store.TxIDParams{ID: submitted.ID})})
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/transactions/%d", storeHex, submitted.ID), nil, nil)
	require.True(t, decode[TransactionView](t, rec).Executed)

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+crypto.HexAddress(treasury), nil, nil)
	require.Equal(t, "300", decode[BalanceView](t, rec).Balance)
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	storeAddr, productID := env.seedStore(t)
	storeHex := crypto.HexAddress(storeAddr)

	rec := env.do(t, http.MethodPost, "/v1/call", &buyerOne, CallRequest{
		To: storeHex, Method: store.MethodCreateProduct,
		Params: params(t, store.CreateProductParams{Price: big.NewInt(10), Type: store.ProductDigital, ContentRef: "x"}),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/call", &buyerOne, CallRequest{
		To: storeHex, Value: "999", Method: store.MethodPurchaseProduct,
		Params: params(t, store.PurchaseParams{ProductID: productID}),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/products/99", storeHex), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/transactions/7", storeHex), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stores/"+crypto.HexAddress(testAddr(99))+"/owners", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stores/garbage/owners", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/subscriptions/0x1234", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	missing := "0x" + strings.Repeat("ab", 32)
	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/subscriptions/"+missing, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedCallParamsAreClientErrors(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	storeAddr, productID := env.seedStore(t)
	storeHex := crypto.HexAddress(storeAddr)
	zero := crypto.HexAddress([20]byte{})

	cases := map[string]struct {
		caller [20]byte
		req    CallRequest
	}{
		"non numeric product id": {buyerOne, CallRequest{
			To: storeHex, Value: "1000", Method: store.MethodPurchaseProduct,
			Params: json.RawMessage(`{"productId":"abc"}`),
		}},
		"unparseable referrer": {buyerOne, CallRequest{
			To: storeHex, Value: "1000", Method: store.MethodPurchaseProduct,
			Params: params(t, map[string]interface{}{"productId": productID, "referrer": "not-an-address"}),
		}},
		"unknown product type": {storeOwnerA, CallRequest{
			To: storeHex, Method: store.MethodCreateProduct,
			Params: json.RawMessage(`{"price":10,"type":"BOGUS","contentRef":"x"}`),
		}},
		"endless subscription": {storeOwnerA, CallRequest{
			To: storeHex, Method: store.MethodCreateProduct,
			Params: json.RawMessage(`{"price":10,"type":"SUBSCRIPTION","duration":9223372036854775808,"contentRef":"x"}`),
		}},
		"zero proposal target": {storeOwnerA, CallRequest{
			To: storeHex, Method: store.MethodSubmitTransaction,
			Params: params(t, store.SubmitParams{Target: zero, Description: "nowhere"}),
		}},
		"zero store treasury": {platformOwner, CallRequest{
			To: crypto.HexAddress(env.node.FactoryAddress()), Method: factory.MethodCreateStore,
			Params: params(t, factory.CreateStoreParams{
				Owners: []string{crypto.HexAddress(storeOwnerA)}, Threshold: 1, Treasury: zero,
			}),
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			caller := tc.caller
			rec := env.do(t, http.MethodPost, "/v1/call", &caller, tc.req)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestEventsQueryServesIndexedHistory(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	storeAddr, productID := env.seedStore(t)
	storeHex := crypto.HexAddress(storeAddr)
	env.call(t, buyerOne, CallRequest{
		To: storeHex, Value: "1000", Method: store.MethodPurchaseProduct,
		Params: params(t, store.PurchaseParams{ProductID: productID}),
	})
	// Close drains the writer queue so the rows below are visible.
	env.index.Close()

	rec := env.do(t, http.MethodGet, "/v1/events?type="+store.EventTypePurchaseCompleted+"&store="+storeHex, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	evts := decode[[]EventView](t, rec)
	require.Len(t, evts, 1)
	require.Equal(t, "1000", evts[0].Attributes["price"])
	require.NotZero(t, evts[0].Sequence)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/stores/%s/buyers/%s/purchases", storeHex, crypto.HexAddress(buyerOne)), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	purchases := decode[[]PurchaseView](t, rec)
	require.Len(t, purchases, 1)
	require.Equal(t, "870", purchases[0].Remainder)

	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/purchases/export?format=jsonl", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Content-SHA256"))
	require.Contains(t, rec.Body.String(), `"remainder":"870"`)

	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/purchases/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, strings.Count(rec.Body.String(), "\n"))

	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/purchases/export?format=parquet", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, strings.HasPrefix(rec.Body.String(), "PAR1"))

	rec = env.do(t, http.MethodGet, "/v1/stores/"+storeHex+"/purchases/export?format=xml", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/events?after=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsWebsocketStreamsCommittedEvents(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws?type=" + factory.EventTypeStoreCreated
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	env.seedStore(t)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt EventView
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, factory.EventTypeStoreCreated, evt.Type)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	env := newTestEnv(t, RateLimit{RatePerSecond: 0.001, Burst: 1})
	rec := env.do(t, http.MethodGet, "/v1/factory", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/factory", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health checks sit outside the limiter.
	rec = env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServeBoundsConcurrentConnections(t *testing.T) {
	node := newTestEnv(t, RateLimit{}).node
	srv := NewServer(node, Config{MaxConns: 1}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	url := "http://" + ln.Addr().String() + "/healthz"

	held, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		// The held connection owns the only slot once it has been accepted.
		client := &http.Client{Timeout: 100 * time.Millisecond, Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, held.Close())
	require.Eventually(t, func() bool {
		client := &http.Client{Timeout: 200 * time.Millisecond, Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}
